package lib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"net"
	"strings"
	"time"
)

const SQLSTATE_QUERY_CANCELED = "57014"
const SQLSTATE_LOCK_NOT_AVAILABLE = "55P03"

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type ColumnInfo struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Dialect holds the database specific parts of a run: schema inspection,
// statement timeouts and error classification.
type Dialect interface {
	SetStatementTimeout(ctx context.Context, tx Execer, timeout time.Duration) error
	TableColumns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error)
	TableIndexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error)
	SQLState(err error) string
	IsTimeout(err error) bool
}

type PostgresDialect struct{}

func (PostgresDialect) SetStatementTimeout(ctx context.Context, tx Execer, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	// SET does not take bind parameters.
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds()))
	return err
}

func (PostgresDialect) TableColumns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	schema, name := splitQualifiedName(table)
	query := `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = COALESCE($1::text, current_schema()) AND table_name = $2
ORDER BY ordinal_position`

	rows, err := q.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ColumnInfo{}
	for rows.Next() {
		var column ColumnInfo
		var nullable string
		var defaultValue sql.NullString
		if err := rows.Scan(&column.Name, &column.DataType, &nullable, &defaultValue); err != nil {
			return nil, err
		}
		column.Nullable = nullable == "YES"
		if defaultValue.Valid {
			column.Default = &defaultValue.String
		}
		result = append(result, column)
	}

	return result, rows.Err()
}

func (PostgresDialect) TableIndexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	schema, name := splitQualifiedName(table)
	query := `SELECT indexname, indexdef
FROM pg_indexes
WHERE schemaname = COALESCE($1::text, current_schema()) AND tablename = $2
ORDER BY indexname`

	rows, err := q.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []IndexInfo{}
	for rows.Next() {
		var index IndexInfo
		if err := rows.Scan(&index.Name, &index.Definition); err != nil {
			return nil, err
		}
		result = append(result, index)
	}

	return result, rows.Err()
}

// SQLState understands errors from both lib/pq and pgx.
func (PostgresDialect) SQLState(err error) string {
	var pqError *pq.Error
	if errors.As(err, &pqError) {
		return string(pqError.Code)
	}

	var pgError *pgconn.PgError
	if errors.As(err, &pgError) {
		return pgError.Code
	}

	return ""
}

func (d PostgresDialect) IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || d.SQLState(err) == SQLSTATE_QUERY_CANCELED {
		return true
	}

	var netError net.Error
	return errors.As(err, &netError) && netError.Timeout()
}

// splitQualifiedName returns a nil schema for unqualified names so the query
// falls back to current_schema().
func splitQualifiedName(table string) (*string, string) {
	if index := strings.LastIndex(table, "."); index > 0 {
		schema := table[:index]
		return &schema, table[index+1:]
	}

	return nil, table
}

// QuoteQualifiedIdentifier quotes every part of a possibly schema-qualified name.
func QuoteQualifiedIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}

	return strings.Join(parts, ".")
}
