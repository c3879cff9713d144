package db_migrations

type TableColumnBlueprint struct {
	Name         string
	Type         string
	IsPrimaryKey bool
	IsUnique     bool
	AllowNull    bool
	DefaultValue string
}

type TableIndexBlueprint struct {
	// Type is the index access method (btree, gin, ...), empty for the database default.
	Type    string
	Unique  bool
	Columns []string
}

type TableBlueprint struct {
	Name           string
	CheckExistence bool
	Columns        []TableColumnBlueprint
	Indices        []TableIndexBlueprint
}

// AlterTableBlueprint adds columns and indexes to an existing table.
type AlterTableBlueprint struct {
	Name           string
	CheckExistence bool
	Columns        []TableColumnBlueprint
	Indices        []TableIndexBlueprint
}

func NewTableColumnBlueprint(name string, columnType string) *TableColumnBlueprint {
	result := new(TableColumnBlueprint)

	result.Name = name
	result.Type = columnType
	result.IsPrimaryKey = false
	result.IsUnique = false
	result.AllowNull = false
	result.DefaultValue = ""

	return result
}

func NewTableColumnBlueprintDetailed(name string, columnType string, isPrimaryKey bool, isUnique bool, allowNull bool, defaultValue string) *TableColumnBlueprint {
	result := new(TableColumnBlueprint)

	result.Name = name
	result.Type = columnType
	result.IsPrimaryKey = isPrimaryKey
	result.IsUnique = isUnique
	result.AllowNull = allowNull
	result.DefaultValue = defaultValue

	return result
}

func (table *AlterTableBlueprint) AddColumn(column TableColumnBlueprint) {
	table.Columns = append(table.Columns, column)
}

func (table *AlterTableBlueprint) AddIndex(index TableIndexBlueprint) {
	table.Indices = append(table.Indices, index)
}
