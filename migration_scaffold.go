package lib

import (
	"errors"
	"fmt"
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations"
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations/postgres"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const SCAFFOLD_TIMESTAMP_FORMAT = "20060102150405"

// MigrationScaffold generates a new idempotent migration file adding columns
// and indexes to one table.
type MigrationScaffold struct {
	Name    string                               `validate:"required,sql_identifier,max_length=100"`
	Table   string                               `validate:"required,sql_identifier"`
	Columns []db_migrations.TableColumnBlueprint `validate:"required,min=1"`
	Indexes [][]string
	Dir     string
}

// ParseColumnSpecification reads "name:type" or "name:type:default". Columns
// are nullable because existing rows have no value for them.
func ParseColumnSpecification(specification string) (db_migrations.TableColumnBlueprint, error) {
	parts := strings.SplitN(specification, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return db_migrations.TableColumnBlueprint{}, errors.New("the column '" + specification + "' must be written as name:type or name:type:default")
	}
	if !qualifiedIdentifierPattern.MatchString(parts[0]) || strings.Contains(parts[0], ".") {
		return db_migrations.TableColumnBlueprint{}, errors.New("the column name '" + parts[0] + "' is not a valid identifier")
	}

	defaultValue := ""
	if len(parts) == 3 {
		defaultValue = parts[2]
	}

	return *db_migrations.NewTableColumnBlueprintDetailed(strings.ToLower(parts[0]), parts[1], false, false, true, defaultValue), nil
}

func ParseIndexSpecification(specification string) ([]string, error) {
	columns := []string{}
	for _, column := range strings.Split(specification, ",") {
		column = strings.ToLower(strings.TrimSpace(column))
		if !qualifiedIdentifierPattern.MatchString(column) || strings.Contains(column, ".") {
			return nil, errors.New("the index '" + specification + "' must be a comma separated list of columns")
		}
		columns = append(columns, column)
	}

	return columns, nil
}

func (s *MigrationScaffold) Validate() error {
	if err := NewConfigurationValidator().Struct(s); err != nil {
		return CreateInvalidConfigurationError(err)
	}

	return nil
}

func (s *MigrationScaffold) FileName(now time.Time) string {
	return now.UTC().Format(SCAFFOLD_TIMESTAMP_FORMAT) + "_" + s.Name + ".sql"
}

func (s *MigrationScaffold) Render(now time.Time) string {
	blueprint := db_migrations.AlterTableBlueprint{Name: s.Table, CheckExistence: true}
	for _, column := range s.Columns {
		blueprint.AddColumn(column)
	}
	for _, columns := range s.Indexes {
		blueprint.AddIndex(db_migrations.TableIndexBlueprint{Columns: columns})
	}

	columnNames := []string{}
	for _, column := range s.Columns {
		columnNames = append(columnNames, quoteStringLiteral(column.Name))
	}

	_, table := splitQualifiedName(s.Table)

	b := strings.Builder{}
	b.WriteString("-- Migration: " + s.Name + "\n")
	b.WriteString("-- Created: " + now.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("BEGIN;\n\n")
	b.WriteString(postgres.NewPostgresFormatter().AlterTableFormatter.ToSQL(blueprint))
	b.WriteString("\n\nCOMMIT;\n\n")
	b.WriteString("-- Verification\n")
	b.WriteString("SELECT column_name, data_type, is_nullable\n")
	b.WriteString("FROM information_schema.columns\n")
	b.WriteString(fmt.Sprintf("WHERE table_name = %s AND column_name IN (%s)\n", quoteStringLiteral(table), strings.Join(columnNames, ", ")))
	b.WriteString("ORDER BY column_name;\n")

	return b.String()
}

// Save validates the scaffold and writes it into Dir, refusing to
// overwrite an existing file.
func (s *MigrationScaffold) Save(now time.Time) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}

	filePath := filepath.Join(dir, s.FileName(now))
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := file.WriteString(s.Render(now)); err != nil {
		return "", err
	}

	return filePath, nil
}

func quoteStringLiteral(value string) string {
	return "'" + strings.Replace(value, "'", "''", -1) + "'"
}
