package sqlscript

import (
	"strings"
)

type ColumnChange struct {
	Table  string
	Column string
	Type   string
}

type IndexChange struct {
	// Name is empty when the statement lets PostgreSQL pick the index name.
	Name    string
	Table   string
	Unique  bool
	Columns []string
}

// Changes lists the schema objects a script says it creates or touches.
type Changes struct {
	Columns       []ColumnChange
	Indexes       []IndexChange
	CreatedTables []string
	UpdatedTables []string
}

var columnConstraintKeywords = map[string]bool{
	"NOT":        true,
	"NULL":       true,
	"DEFAULT":    true,
	"CONSTRAINT": true,
	"PRIMARY":    true,
	"UNIQUE":     true,
	"CHECK":      true,
	"REFERENCES": true,
	"GENERATED":  true,
	"COLLATE":    true,
}

var tableConstraintKeywords = map[string]bool{
	"CONSTRAINT": true,
	"PRIMARY":    true,
	"UNIQUE":     true,
	"CHECK":      true,
	"FOREIGN":    true,
	"EXCLUDE":    true,
}

func DeclaredChanges(statements []Statement) Changes {
	result := Changes{
		Columns:       []ColumnChange{},
		Indexes:       []IndexChange{},
		CreatedTables: []string{},
		UpdatedTables: []string{},
	}

	for _, statement := range statements {
		switch statement.Keyword() {
		case "ALTER":
			result.Columns = append(result.Columns, addedColumns(statement)...)
		case "CREATE":
			if index, ok := createdIndex(statement); ok {
				result.Indexes = append(result.Indexes, index)
			} else if table, ok := createdTable(statement); ok {
				result.CreatedTables = appendUnique(result.CreatedTables, table)
			}
		}

		if statement.Kind == KindDML {
			for _, table := range modifiedTables(statement) {
				result.UpdatedTables = appendUnique(result.UpdatedTables, table)
			}
		}
	}

	return result
}

// Tables returns every table named by the changes, in first-seen order.
func (c Changes) Tables() []string {
	result := []string{}

	for _, table := range c.CreatedTables {
		result = appendUnique(result, table)
	}
	for _, column := range c.Columns {
		result = appendUnique(result, column.Table)
	}
	for _, index := range c.Indexes {
		result = appendUnique(result, index.Table)
	}
	for _, table := range c.UpdatedTables {
		result = appendUnique(result, table)
	}

	return result
}

func (c Changes) ColumnsFor(table string) []ColumnChange {
	result := []ColumnChange{}
	for _, column := range c.Columns {
		if column.Table == table {
			result = append(result, column)
		}
	}

	return result
}

func (c Changes) IndexesFor(table string) []IndexChange {
	result := []IndexChange{}
	for _, index := range c.Indexes {
		if index.Table == table {
			result = append(result, index)
		}
	}

	return result
}

func (c Changes) IsEmpty() bool {
	return len(c.Columns) == 0 && len(c.Indexes) == 0 && len(c.CreatedTables) == 0 && len(c.UpdatedTables) == 0
}

// ALTER TABLE [IF EXISTS] [ONLY] name [*] action [, ...]
func addedColumns(statement Statement) []ColumnChange {
	tokens := statement.tokens
	if len(tokens) < 3 || !tokens[1].IsKeyword("TABLE") {
		return nil
	}

	i := 2
	i = skipKeywords(tokens, i, "IF", "EXISTS")
	i = skipKeywords(tokens, i, "ONLY")
	table, i := readName(tokens, i)
	if table == "" {
		return nil
	}
	if i < len(tokens) && tokens[i].IsPunctuation("*") {
		i++
	}

	result := []ColumnChange{}
	for _, action := range splitTopLevel(tokens, i, len(tokens)) {
		from, to := action[0], action[1]
		if from >= to || !tokens[from].IsKeyword("ADD") {
			continue
		}

		j := from + 1
		if j < to && tokens[j].Kind == TokenWord && tableConstraintKeywords[tokens[j].Upper()] {
			continue
		}
		j = skipKeywords(tokens, j, "COLUMN")
		j = skipKeywords(tokens, j, "IF", "NOT", "EXISTS")
		if j >= to {
			continue
		}

		column := readIdentifier(tokens[j])
		if column == "" {
			continue
		}
		next := j + 1

		typeEnd := next
		for typeEnd < to && !(tokens[typeEnd].Kind == TokenWord && columnConstraintKeywords[tokens[typeEnd].Upper()]) {
			typeEnd++
		}

		result = append(result, ColumnChange{
			Table:  table,
			Column: column,
			Type:   statement.text(next, typeEnd-1),
		})
	}

	return result
}

// CREATE [UNIQUE] INDEX [CONCURRENTLY] [IF NOT EXISTS] [name] ON [ONLY] table [USING method] (columns)
func createdIndex(statement Statement) (IndexChange, bool) {
	tokens := statement.tokens
	result := IndexChange{}

	i := 1
	if i < len(tokens) && tokens[i].IsKeyword("UNIQUE") {
		result.Unique = true
		i++
	}
	if i >= len(tokens) || !tokens[i].IsKeyword("INDEX") {
		return result, false
	}
	i++
	i = skipKeywords(tokens, i, "CONCURRENTLY")
	i = skipKeywords(tokens, i, "IF", "NOT", "EXISTS")

	if i < len(tokens) && !tokens[i].IsKeyword("ON") {
		result.Name, i = readName(tokens, i)
	}
	if i >= len(tokens) || !tokens[i].IsKeyword("ON") {
		return result, false
	}
	i++
	i = skipKeywords(tokens, i, "ONLY")

	result.Table, i = readName(tokens, i)
	if result.Table == "" {
		return result, false
	}

	if i < len(tokens) && tokens[i].IsKeyword("USING") {
		i += 2
	}
	result.Columns = []string{}
	if i < len(tokens) && tokens[i].IsPunctuation("(") {
		closing := matchingParenthesis(tokens, i)
		for _, element := range splitTopLevel(tokens, i+1, closing) {
			if element[0] < element[1] {
				result.Columns = append(result.Columns, statement.text(element[0], element[1]-1))
			}
		}
	}

	return result, true
}

// CREATE [UNLOGGED | TEMP | TEMPORARY] TABLE [IF NOT EXISTS] name
func createdTable(statement Statement) (string, bool) {
	tokens := statement.tokens

	i := 1
	for i < len(tokens) && (tokens[i].IsKeyword("UNLOGGED") || tokens[i].IsKeyword("TEMP") || tokens[i].IsKeyword("TEMPORARY") ||
		tokens[i].IsKeyword("GLOBAL") || tokens[i].IsKeyword("LOCAL")) {
		i++
	}
	if i >= len(tokens) || !tokens[i].IsKeyword("TABLE") {
		return "", false
	}
	i++
	i = skipKeywords(tokens, i, "IF", "NOT", "EXISTS")

	table, _ := readName(tokens, i)
	return table, table != ""
}

func modifiedTables(statement Statement) []string {
	tokens := statement.tokens
	result := []string{}

	for i := 0; i < len(tokens); i++ {
		var next int

		switch {
		case tokens[i].IsKeyword("UPDATE"):
			if i > 0 && (tokens[i-1].IsKeyword("FOR") || tokens[i-1].IsKeyword("KEY") || tokens[i-1].IsKeyword("DO")) {
				continue
			}
			next = i + 1
		case tokens[i].IsKeyword("INSERT"), tokens[i].IsKeyword("MERGE"):
			if i+1 >= len(tokens) || !tokens[i+1].IsKeyword("INTO") {
				continue
			}
			next = i + 2
		case tokens[i].IsKeyword("DELETE"):
			if i+1 >= len(tokens) || !tokens[i+1].IsKeyword("FROM") {
				continue
			}
			next = i + 2
		default:
			continue
		}

		next = skipKeywords(tokens, next, "ONLY")
		if table, _ := readName(tokens, next); table != "" {
			result = appendUnique(result, table)
		}
	}

	return result
}

// skipKeywords advances past the given keyword sequence only when all of it is present.
func skipKeywords(tokens []Token, position int, keywords ...string) int {
	for offset, keyword := range keywords {
		if position+offset >= len(tokens) || !tokens[position+offset].IsKeyword(keyword) {
			return position
		}
	}

	return position + len(keywords)
}

// readName reads a possibly schema-qualified name. Unquoted parts fold to
// lower case the way PostgreSQL folds them.
func readName(tokens []Token, position int) (string, int) {
	parts := []string{}

	for position < len(tokens) {
		part := readIdentifier(tokens[position])
		if part == "" {
			break
		}
		parts = append(parts, part)
		position++

		if position+1 < len(tokens) && tokens[position].IsPunctuation(".") {
			position++
			continue
		}
		break
	}

	return strings.Join(parts, "."), position
}

func readIdentifier(token Token) string {
	switch token.Kind {
	case TokenWord:
		return strings.ToLower(token.Text)
	case TokenQuotedIdentifier:
		return token.Text
	}

	return ""
}

// splitTopLevel splits tokens[from:to] on commas outside parentheses and
// returns [start, end) pairs.
func splitTopLevel(tokens []Token, from int, to int) [][2]int {
	result := [][2]int{}
	depth := 0
	start := from

	for i := from; i < to; i++ {
		switch {
		case tokens[i].IsPunctuation("(") || tokens[i].IsPunctuation("["):
			depth++
		case tokens[i].IsPunctuation(")") || tokens[i].IsPunctuation("]"):
			depth--
		case tokens[i].IsPunctuation(",") && depth == 0:
			result = append(result, [2]int{start, i})
			start = i + 1
		}
	}
	if start < to {
		result = append(result, [2]int{start, to})
	}

	return result
}

func matchingParenthesis(tokens []Token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		if tokens[i].IsPunctuation("(") {
			depth++
		} else if tokens[i].IsPunctuation(")") {
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return len(tokens)
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}

	return append(list, value)
}
