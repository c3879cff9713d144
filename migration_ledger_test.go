package lib

import (
	"context"
	"testing"
	"time"

	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations"
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations/postgres"
	"github.com/go-test/deep"
)

func TestLedgerTableBlueprint(t *testing.T) {
	expect := `CREATE TABLE IF NOT EXISTS database_migrations
(
    uuid uuid PRIMARY KEY NOT NULL,
    migration_name varchar(255) NOT NULL,
    checksum varchar(64) NULL,
    command text NOT NULL,
    run_identifier varchar(64) NULL,
    applied_timestamp timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS database_migrations_migration_name_index ON database_migrations (migration_name);`

	if got := postgres.PostgresTableToSQL(LedgerTableBlueprint()); got != expect {
		t.Errorf("got:\n%s\nexpected:\n%s", got, expect)
	}
}

func TestEnsureLedgerUpgradesOlderTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDatabase(t)
	execAll(t, db, "CREATE TABLE database_migrations (uuid TEXT PRIMARY KEY, migration_name TEXT NOT NULL, command TEXT NOT NULL, applied_timestamp TIMESTAMP NOT NULL)")

	applied := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if _, err := db.Exec("INSERT INTO database_migrations (uuid, migration_name, command, applied_timestamp) VALUES (?, ?, ?, ?)",
		"0b0c6f3e-5c1e-4d0a-9a53-0e6f1c2d3a4b", "001_add_user_onboarding_columns", "ALTER TABLE users ADD COLUMN IF NOT EXISTS gender VARCHAR", applied); err != nil {
		t.Fatal(err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ledger := GormMigrationLedger{Dialect: sqliteDialect{}}
	for i := 0; i < 2; i++ {
		if err := ledger.EnsureLedger(ctx, conn); err != nil {
			t.Fatalf("attempt %d: %s", i+1, err)
		}
	}

	columns, err := sqliteDialect{}.TableColumns(ctx, conn, LEDGER_TABLE_NAME)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{}
	for _, column := range columns {
		names = append(names, column.Name)
	}
	if diff := deep.Equal(names, []string{"uuid", "migration_name", "command", "applied_timestamp", "checksum", "run_identifier"}); diff != nil {
		t.Error(diff)
	}

	rows, err := ledger.ListMigrations(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Checksum != "" || !rows[0].AppliedTimestamp.Equal(applied) {
		t.Errorf("the existing ledger row was not kept: %+v", rows)
	}
}

type fixedTableFormatter string

func (f fixedTableFormatter) ToSQL(blueprint any) string {
	return string(f)
}

func TestEnsureLedgerUsesConfiguredFormatter(t *testing.T) {
	ctx := context.Background()
	db := openTestDatabase(t)

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ledger := GormMigrationLedger{
		Dialect: sqliteDialect{},
		Formatter: db_migrations.SqlDialectFormatter{
			CreateTableFormatter: fixedTableFormatter("CREATE TABLE IF NOT EXISTS database_migrations (uuid TEXT PRIMARY KEY, migration_name TEXT NOT NULL)"),
			AlterTableFormatter:  postgres.NewPostgresFormatter().AlterTableFormatter,
		},
	}
	if err := ledger.EnsureLedger(ctx, conn); err != nil {
		t.Fatal(err)
	}

	columns, err := sqliteDialect{}.TableColumns(ctx, conn, LEDGER_TABLE_NAME)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{}
	for _, column := range columns {
		names = append(names, column.Name)
	}
	if diff := deep.Equal(names, []string{"uuid", "migration_name", "checksum", "command", "run_identifier", "applied_timestamp"}); diff != nil {
		t.Error(diff)
	}
}

func TestLedgerAppliedMigrationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDatabase(t)

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ledger := GormMigrationLedger{Dialect: sqliteDialect{}}
	if rows, err := ledger.ListMigrations(ctx, conn); err != nil || len(rows) != 0 {
		t.Fatalf("got %v, %v before the ledger exists", rows, err)
	}
	if err := ledger.EnsureLedger(ctx, conn); err != nil {
		t.Fatal(err)
	}

	first := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	records := []AppliedMigration{
		{UUID: "7d1f7b0e-3c51-4c8e-9a0e-2d4b1f6a8c01", MigrationName: "003_add_period_length", Checksum: "aaa", Command: "ALTER TABLE users ADD COLUMN IF NOT EXISTS period_length INTEGER", RunIdentifier: "mig_1", AppliedTimestamp: first},
		{UUID: "7d1f7b0e-3c51-4c8e-9a0e-2d4b1f6a8c02", MigrationName: "003_add_period_length", Checksum: "bbb", Command: "ALTER TABLE users ADD COLUMN IF NOT EXISTS period_length INTEGER", RunIdentifier: "mig_2", AppliedTimestamp: first.Add(time.Hour)},
		{UUID: "7d1f7b0e-3c51-4c8e-9a0e-2d4b1f6a8c03", MigrationName: "004_add_period_tracking_indexes", Checksum: "ccc", Command: "CREATE INDEX IF NOT EXISTS idx_period_tracking_user_id ON period_tracking (user_id)", RunIdentifier: "mig_3", AppliedTimestamp: first.Add(2 * time.Hour)},
	}
	for _, record := range records {
		if err := ledger.RecordMigration(ctx, conn, record); err != nil {
			t.Fatal(err)
		}
	}

	applied, err := ledger.AppliedMigrations(ctx, conn, "003_add_period_length")
	if err != nil {
		t.Fatal(err)
	}
	identifiers := []string{}
	for _, migration := range applied {
		identifiers = append(identifiers, migration.RunIdentifier)
	}
	if diff := deep.Equal(identifiers, []string{"mig_2", "mig_1"}); diff != nil {
		t.Error(diff)
	}

	all, err := ledger.ListMigrations(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[2].MigrationName != "004_add_period_tracking_indexes" {
		t.Errorf("unexpected ledger %+v", all)
	}
}
