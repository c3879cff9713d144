package postgres

import (
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations"
	"strings"
)

type createTableFormatter struct{}

func (createTableFormatter) ToSQL(blueprint any) string {
	return PostgresTableToSQL(blueprint.(db_migrations.TableBlueprint))
}

type alterTableFormatter struct{}

func (alterTableFormatter) ToSQL(blueprint any) string {
	return PostgresAlterTableToSQL(blueprint.(db_migrations.AlterTableBlueprint))
}

func NewPostgresFormatter() db_migrations.SqlDialectFormatter {
	return db_migrations.SqlDialectFormatter{
		CreateTableFormatter: createTableFormatter{},
		AlterTableFormatter:  alterTableFormatter{},
	}
}

func PostgresTableToSQL(blueprint db_migrations.TableBlueprint) string {
	result := ""

	checkExistence := ""
	if blueprint.CheckExistence {
		checkExistence = "IF NOT EXISTS "
	}

	result += "CREATE TABLE "
	result += checkExistence
	result += blueprint.Name
	result += "\n("

	constraintCount := 0
	for _, column := range blueprint.Columns {
		if column.IsUnique {
			constraintCount += 1
		}
	}

	index := 0
	for _, column := range blueprint.Columns {
		index += 1
		isLastStatement := index == len(blueprint.Columns) && constraintCount == 0
		result += "\n    "
		result += getColumnDefinition(column)
		if !isLastStatement {
			result += ","
		}
	}

	index = 0
	for _, column := range blueprint.Columns {
		if column.IsUnique {
			if index == 0 {
				result += "\n"
			}
			index += 1
			isLastStatement := index == constraintCount
			sql := "\n    CONSTRAINT {blueprint.name}_{column.name}_unique_index UNIQUE ({column.name})"
			sql = strings.Replace(sql, "{blueprint.name}", blueprint.Name, -1)
			sql = strings.Replace(sql, "{column.name}", column.Name, -1)
			result += sql

			if !isLastStatement {
				result += ","
			}
		}
	}

	result += "\n);"

	for _, indexBlueprint := range blueprint.Indices {
		result += "\n\n"
		result += formatTableIndex(blueprint.Name, blueprint.CheckExistence, indexBlueprint)
	}

	return result
}

// PostgresAlterTableToSQL emits one ALTER TABLE statement per column so a
// failure points at a single column.
func PostgresAlterTableToSQL(blueprint db_migrations.AlterTableBlueprint) string {
	statements := []string{}

	checkExistence := ""
	if blueprint.CheckExistence {
		checkExistence = "IF NOT EXISTS "
	}

	for _, column := range blueprint.Columns {
		sql := "ALTER TABLE {table} ADD COLUMN {check_existence}{definition};"
		sql = strings.Replace(sql, "{table}", blueprint.Name, -1)
		sql = strings.Replace(sql, "{check_existence}", checkExistence, -1)
		sql = strings.Replace(sql, "{definition}", getColumnDefinition(column), -1)
		statements = append(statements, sql)
	}

	for _, indexBlueprint := range blueprint.Indices {
		statements = append(statements, formatTableIndex(blueprint.Name, blueprint.CheckExistence, indexBlueprint))
	}

	return strings.Join(statements, "\n")
}

func FormatIndexName(table string, columns []string) string {
	name := strings.Replace(table, ".", "_", -1)
	return name + "_" + strings.Join(columns, "_") + "_index"
}

func formatTableIndex(table string, checkExistence bool, indexBlueprint db_migrations.TableIndexBlueprint) string {
	result := "CREATE {unique}INDEX {check_existence}{name} ON {table}{using}({fields_comma});"

	unique := ""
	if indexBlueprint.Unique {
		unique = "UNIQUE "
	}

	existence := ""
	if checkExistence {
		existence = "IF NOT EXISTS "
	}

	using := " "
	if indexBlueprint.Type != "" {
		using = " USING " + indexBlueprint.Type
	}

	result = strings.Replace(result, "{unique}", unique, -1)
	result = strings.Replace(result, "{check_existence}", existence, -1)
	result = strings.Replace(result, "{name}", FormatIndexName(table, indexBlueprint.Columns), -1)
	result = strings.Replace(result, "{table}", table, -1)
	result = strings.Replace(result, "{using}", using, -1)
	result = strings.Replace(result, "{fields_comma}", strings.Join(indexBlueprint.Columns, ", "), -1)

	return result
}

func getColumnDefinition(column db_migrations.TableColumnBlueprint) string {
	result := column.Name + " " + toSqlType(column.Type) + " "

	if column.IsPrimaryKey {
		result += "PRIMARY KEY "
	}

	if column.AllowNull {
		result += "NULL"
	} else {
		result += "NOT NULL"
	}

	if column.DefaultValue != "" {
		result += " DEFAULT "
		result += column.DefaultValue
	}

	return result
}

// toSqlType maps blueprint type names to PostgreSQL types, anything it does
// not recognise is taken as a literal PostgreSQL type.
func toSqlType(columnType string) string {
	result := ""
	lower := strings.ToLower(columnType)

	if columnType == "String" {
		result = "text"
	} else if strings.HasPrefix(columnType, "String[") && strings.HasSuffix(columnType, "]") {
		length := columnType[7 : len(columnType)-1]
		result = "varchar(" + length + ")"
	} else if lower == "bool" || lower == "boolean" {
		result = "boolean"
	} else if lower == "json" {
		result = "json"
	} else if lower == "int" || lower == "integer" {
		result = "int"
	} else if lower == "date" {
		result = "date"
	} else if lower == "double" {
		result = "float8"
	} else if lower == "float" {
		result = "float4"
	} else if lower == "timestamp" {
		result = "timestamp"
	} else if lower == "uuid" {
		result = "uuid"
	} else {
		result = columnType
	}

	return result
}
