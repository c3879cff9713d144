package lib

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteDialect lets the runner tests use an embedded database. SQLite has
// transactional DDL, which is all the runner relies on.
type sqliteDialect struct{}

func (sqliteDialect) SetStatementTimeout(ctx context.Context, tx Execer, timeout time.Duration) error {
	return nil
}

func (sqliteDialect) TableColumns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ColumnInfo{}
	for rows.Next() {
		var column ColumnInfo
		var notNull int
		var defaultValue sql.NullString
		if err := rows.Scan(&column.Name, &column.DataType, &notNull, &defaultValue); err != nil {
			return nil, err
		}
		column.Nullable = notNull == 0
		if defaultValue.Valid {
			column.Default = &defaultValue.String
		}
		result = append(result, column)
	}

	return result, rows.Err()
}

func (sqliteDialect) TableIndexes(ctx context.Context, q Querier, table string) ([]IndexInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, COALESCE(sql, '') FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name`, table)
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

func (sqliteDialect) SQLState(err error) string {
	return ""
}

func (sqliteDialect) IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

type lockedLocker struct{}

func (lockedLocker) Acquire(ctx context.Context, conn *sql.Conn, key string) (func(), error) {
	return nil, ErrMigrationLocked
}

func testDatabasePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "health.db")
}

func openTestDatabaseAt(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)

	return db
}

func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()

	db := openTestDatabaseAt(t, testDatabasePath(t))
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func execAll(t *testing.T, db *sql.DB, statements ...string) {
	t.Helper()

	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("%s: %s", statement, err)
		}
	}
}

func createUsersTable(t *testing.T, db *sql.DB) {
	execAll(t, db,
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, gender TEXT)",
		"INSERT INTO users (id, name, gender) VALUES (1, 'Ada', 'female'), (2, 'Bob', 'male'), (3, 'Cleo', 'FEMALE')",
	)
}

func parseTestMigration(t *testing.T, name string, content string) *MigrationFile {
	t.Helper()

	file, err := ParseMigrationFile(name, name+".sql", []byte(content))
	if err != nil {
		t.Fatal(err)
	}

	return file
}

func testDatabaseConfiguration() DatabaseConfiguration {
	return DatabaseConfiguration{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		Name:     "health_ai_db",
		Username: "health_ai_user",
		Password: "health_ai_password",
		SSLMode:  "disable",
	}
}

func newTestRun(name string) *MigrationRun {
	return InitializeMigrationRun(name, name+".sql", testDatabaseConfiguration())
}

func newTestRunner(db *sql.DB, out *bytes.Buffer) *MigrationRunner {
	return &MigrationRunner{
		DB:       db,
		Dialect:  sqliteDialect{},
		Locker:   NoopLock{},
		Ledger:   GormMigrationLedger{Dialect: sqliteDialect{}},
		Reporter: &MigrationReporter{Out: out},
		Options: RunOptions{
			LockKey:    "test",
			SampleRows: 10,
		},
	}
}

func columnNames(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	columns, err := sqliteDialect{}.TableColumns(context.Background(), db, table)
	if err != nil {
		t.Fatal(err)
	}

	result := []string{}
	for _, column := range columns {
		result = append(result, column.Name)
	}

	return result
}

func ledgerRows(t *testing.T, db *sql.DB) []AppliedMigration {
	t.Helper()

	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rows, err := GormMigrationLedger{Dialect: sqliteDialect{}}.ListMigrations(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}

	return rows
}
