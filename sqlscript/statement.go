// Package sqlscript splits PostgreSQL migration scripts into statements and
// extracts what they declare, without talking to a database.
package sqlscript

import (
	"strings"
)

type Kind int

const (
	KindOther Kind = iota
	KindTransactionControl
	KindQuery
	KindDDL
	KindDML
)

func (k Kind) String() string {
	switch k {
	case KindTransactionControl:
		return "transaction_control"
	case KindQuery:
		return "query"
	case KindDDL:
		return "ddl"
	case KindDML:
		return "dml"
	}

	return "other"
}

type Statement struct {
	// Index is 1-based and counts statements in file order.
	Index int
	Line  int
	Text  string
	Kind  Kind

	tokens []Token
	base   int
}

// Split cuts a script on top-level semicolons. Semicolons inside strings,
// quoted identifiers, dollar-quoted bodies and comments do not count.
// Statements made only of comments or whitespace are dropped.
func Split(script string) ([]Statement, error) {
	tokens, err := tokenize(script)
	if err != nil {
		return nil, err
	}

	result := []Statement{}
	current := []Token{}

	flush := func() {
		if len(current) == 0 {
			return
		}

		first := current[0]
		last := current[len(current)-1]
		statement := Statement{
			Index:  len(result) + 1,
			Line:   first.Line,
			Text:   script[first.start:last.end],
			tokens: current,
			base:   first.start,
		}
		statement.Kind = classify(current)
		result = append(result, statement)
		current = []Token{}
	}

	for _, token := range tokens {
		if token.IsPunctuation(";") {
			flush()
			continue
		}
		current = append(current, token)
	}
	flush()

	return result, nil
}

// Classify returns the kind of a single SQL statement.
func Classify(text string) (Kind, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return KindOther, err
	}

	return classify(tokens), nil
}

// IsReadOnlyQuery reports whether text holds exactly one statement and that
// statement only reads data.
func IsReadOnlyQuery(text string) bool {
	statements, err := Split(text)
	if err != nil || len(statements) != 1 {
		return false
	}

	return statements[0].Kind == KindQuery
}

func (s Statement) Tokens() []Token {
	result := make([]Token, len(s.tokens))
	copy(result, s.tokens)
	return result
}

func (s Statement) Keyword() string {
	if len(s.tokens) == 0 || s.tokens[0].Kind != TokenWord {
		return ""
	}

	return s.tokens[0].Upper()
}

// Summary is the statement collapsed to one line and cut to at most length runes.
func (s Statement) Summary(length int) string {
	summary := strings.Join(strings.Fields(s.Text), " ")
	runes := []rune(summary)
	if length > 3 && len(runes) > length {
		return string(runes[:length-3]) + "..."
	}

	return summary
}

// IsTransactionBoundary is true for the statements that open or close a
// transaction block: BEGIN, START TRANSACTION, COMMIT and END.
func (s Statement) IsTransactionBoundary() bool {
	if s.Kind != KindTransactionControl {
		return false
	}

	switch s.Keyword() {
	case "BEGIN", "START", "END":
		return true
	case "COMMIT":
		return !s.hasKeywordAt(1, "PREPARED")
	}

	return false
}

// Transactional is false for statements PostgreSQL refuses to run inside a
// transaction block, and for those that would end the runner's transaction.
func (s Statement) Transactional() bool {
	switch s.Keyword() {
	case "ROLLBACK", "ABORT":
		return s.hasKeywordAt(1, "TO") || (s.hasKeywordAt(1, "WORK") || s.hasKeywordAt(1, "TRANSACTION")) && s.hasKeywordAt(2, "TO")
	case "VACUUM":
		return false
	case "PREPARE":
		return !s.hasKeywordAt(1, "TRANSACTION")
	case "COMMIT":
		return !s.hasKeywordAt(1, "PREPARED")
	case "CREATE", "DROP":
		if s.hasKeywordAt(1, "DATABASE") || s.hasKeywordAt(1, "TABLESPACE") {
			return false
		}
		return !s.hasKeyword("CONCURRENTLY")
	case "REINDEX":
		if s.hasKeyword("SYSTEM") || s.hasKeyword("DATABASE") {
			return false
		}
		return !s.hasKeyword("CONCURRENTLY")
	case "ALTER":
		return !s.hasKeywordAt(1, "SYSTEM")
	}

	return true
}

func (s Statement) hasKeywordAt(position int, keyword string) bool {
	return position < len(s.tokens) && s.tokens[position].IsKeyword(keyword)
}

func (s Statement) hasKeyword(keyword string) bool {
	for _, token := range s.tokens {
		if token.IsKeyword(keyword) {
			return true
		}
	}

	return false
}

// text returns the original source between two tokens of the statement, both included.
func (s Statement) text(from int, to int) string {
	if from > to || from < 0 || to >= len(s.tokens) {
		return ""
	}

	raw := s.Text[s.tokens[from].start-s.base : s.tokens[to].end-s.base]
	return strings.Join(strings.Fields(raw), " ")
}

func classify(tokens []Token) Kind {
	if len(tokens) == 0 {
		return KindOther
	}

	first := tokens[0]
	if first.IsPunctuation("(") {
		// (SELECT ...) UNION (SELECT ...)
		for _, token := range tokens {
			if token.Kind == TokenWord {
				return classify([]Token{token})
			}
		}
		return KindOther
	}
	if first.Kind != TokenWord {
		return KindOther
	}

	switch first.Upper() {
	case "BEGIN", "START", "COMMIT", "END", "ROLLBACK", "ABORT", "SAVEPOINT", "RELEASE":
		return KindTransactionControl
	case "SELECT":
		if containsKeyword(tokens, "INTO") {
			return KindDDL
		}
		return KindQuery
	case "WITH":
		for _, keyword := range []string{"INSERT", "UPDATE", "DELETE", "MERGE"} {
			if containsDataModification(tokens, keyword) {
				return KindDML
			}
		}
		return KindQuery
	case "EXPLAIN":
		return classifyExplain(tokens[1:])
	case "SHOW", "VALUES", "TABLE":
		return KindQuery
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "COMMENT", "GRANT", "REVOKE", "REINDEX", "CLUSTER", "REFRESH":
		return KindDDL
	case "INSERT", "UPDATE", "DELETE", "MERGE", "COPY":
		return KindDML
	}

	return KindOther
}

// classifyExplain looks through EXPLAIN ANALYZE, which executes the explained
// statement. A plain EXPLAIN only plans it and is a query.
func classifyExplain(tokens []Token) Kind {
	analyze := false
	position := 0

	if len(tokens) > 0 && tokens[0].IsPunctuation("(") {
		depth := 0
		for ; position < len(tokens); position++ {
			token := tokens[position]
			if token.IsPunctuation("(") {
				depth++
			} else if token.IsPunctuation(")") {
				depth--
				if depth == 0 {
					position++
					break
				}
			} else if isAnalyzeOption(token) {
				analyze = position+1 >= len(tokens) || !isDisabledOption(tokens[position+1])
			}
		}
	} else {
		for position < len(tokens) && (isAnalyzeOption(tokens[position]) || tokens[position].IsKeyword("VERBOSE")) {
			if isAnalyzeOption(tokens[position]) {
				analyze = true
			}
			position++
		}
	}

	if !analyze {
		return KindQuery
	}

	return classify(tokens[position:])
}

func isAnalyzeOption(token Token) bool {
	return token.IsKeyword("ANALYZE") || token.IsKeyword("ANALYSE")
}

func isDisabledOption(token Token) bool {
	return token.IsKeyword("FALSE") || token.IsKeyword("OFF") || (token.Kind == TokenNumber && token.Text == "0")
}

func containsKeyword(tokens []Token, keyword string) bool {
	for _, token := range tokens {
		if token.IsKeyword(keyword) {
			return true
		}
	}

	return false
}

// containsDataModification skips the FOR UPDATE row-locking clause so that a
// locking read is still seen as a query.
func containsDataModification(tokens []Token, keyword string) bool {
	for i, token := range tokens {
		if !token.IsKeyword(keyword) {
			continue
		}
		if keyword == "UPDATE" && i > 0 && (tokens[i-1].IsKeyword("FOR") || tokens[i-1].IsKeyword("KEY")) {
			continue
		}
		return true
	}

	return false
}
