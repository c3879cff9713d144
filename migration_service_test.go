package lib

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-test/deep"
)

func newTestService(t *testing.T, databasePath string, out *bytes.Buffer) *MigrationService {
	configuration := &RunnerConfiguration{
		Profile:  "test",
		Database: testDatabaseConfiguration(),
		Migrations: MigrationsConfiguration{
			LockKey:    "test",
			SampleRows: 5,
			Ledger:     LedgerConfiguration{Enabled: true},
		},
	}

	service := NewMigrationService(configuration, &MigrationReporter{Out: out})
	service.Dialect = sqliteDialect{}
	service.Ledger = GormMigrationLedger{Dialect: sqliteDialect{}}
	service.OpenDatabase = func(ctx context.Context, database DatabaseConfiguration) (*sql.DB, error) {
		return openTestDatabaseAt(t, databasePath), nil
	}

	return service
}

func TestNewMigrationServiceFollowsConfiguration(t *testing.T) {
	configuration := &RunnerConfiguration{
		Migrations: MigrationsConfiguration{AdvisoryLock: true, Ledger: LedgerConfiguration{Enabled: true}},
	}
	service := NewMigrationService(configuration, &MigrationReporter{Out: &bytes.Buffer{}})
	if _, ok := service.Locker.(PostgresAdvisoryLock); !ok {
		t.Errorf("got locker %T, expected PostgresAdvisoryLock", service.Locker)
	}
	if _, ok := service.Ledger.(GormMigrationLedger); !ok {
		t.Errorf("got ledger %T, expected GormMigrationLedger", service.Ledger)
	}

	configuration.Migrations = MigrationsConfiguration{}
	service = NewMigrationService(configuration, &MigrationReporter{Out: &bytes.Buffer{}})
	if _, ok := service.Locker.(NoopLock); !ok {
		t.Errorf("got locker %T, expected NoopLock", service.Locker)
	}
	if service.Ledger != nil {
		t.Errorf("got ledger %T, expected none", service.Ledger)
	}
}

func TestServiceRunMigrationSavesRunRecord(t *testing.T) {
	databasePath := testDatabasePath(t)
	db := openTestDatabaseAt(t, databasePath)
	createUsersTable(t, db)
	_ = db.Close()

	migrationPath := filepath.Join(t.TempDir(), "006_add_bmi.sql")
	if err := os.WriteFile(migrationPath, []byte("BEGIN;\nALTER TABLE users ADD COLUMN bmi FLOAT;\nCOMMIT;\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	service := newTestService(t, databasePath, out)
	service.Configuration.Migrations.Verification = []string{"SELECT COUNT(*) FROM users"}
	service.Configuration.Observability.Path = t.TempDir()

	run, err := service.RunMigration(context.Background(), migrationPath, []string{"SELECT name FROM users ORDER BY id"})
	if err != nil {
		t.Fatal(err)
	}

	if run.MigrationName != "006_add_bmi" || run.Status != RUN_STATUS_APPLIED {
		t.Errorf("unexpected run %s with status %s", run.MigrationName, run.Status)
	}
	sources := []string{}
	for _, verification := range run.Verification {
		sources = append(sources, verification.Source)
	}
	if diff := deep.Equal(sources, []string{VERIFICATION_SOURCE_CONFIGURATION, VERIFICATION_SOURCE_COMMAND_LINE}); diff != nil {
		t.Error(diff)
	}

	recordPath := filepath.Join(service.Configuration.Observability.Path, "mig_"+run.GetRawRunID().String()+".json")
	content, err := os.ReadFile(recordPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "health_ai_password") {
		t.Error("the run record must not contain the database password")
	}

	record := map[string]any{}
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatal(err)
	}
	if record["status"] != RUN_STATUS_APPLIED || record["runner_language"] != "go" {
		t.Errorf("unexpected run record %v", record)
	}

	if !strings.Contains(out.String(), "Run record saved to "+recordPath) {
		t.Errorf("the report does not mention the run record:\n%s", out.String())
	}
}

func TestServiceRejectsBadFileBeforeConnecting(t *testing.T) {
	service := newTestService(t, testDatabasePath(t), &bytes.Buffer{})
	service.OpenDatabase = func(ctx context.Context, database DatabaseConfiguration) (*sql.DB, error) {
		t.Fatal("the database must not be opened for an invalid file")
		return nil, nil
	}

	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"unterminated string", "SELECT 1;\nUPDATE users SET name = 'oops;\n", 2},
		{"no statements", "-- nothing to do\nBEGIN;\nCOMMIT;\n", 0},
		{"vacuum", "VACUUM;\n", 0},
	}

	for _, test := range tests {
		path := filepath.Join(t.TempDir(), "broken.sql")
		if err := os.WriteFile(path, []byte(test.content), 0600); err != nil {
			t.Fatal(err)
		}

		run, err := service.RunMigration(context.Background(), path, nil)
		if !IsErrorKind(err, FileError) {
			t.Errorf("%s: got %v, expected a FileError", test.name, err)
			continue
		}
		if managed := err.(*ManagedMigrationError); managed.Line != test.line {
			t.Errorf("%s: got line %d, expected %d", test.name, managed.Line, test.line)
		}
		if run.Status != RUN_STATUS_FAILED {
			t.Errorf("%s: got status %s, expected %s", test.name, run.Status, RUN_STATUS_FAILED)
		}
	}

	_, err := service.RunMigration(context.Background(), filepath.Join(t.TempDir(), "missing.sql"), nil)
	if !IsErrorKind(err, FileError) {
		t.Errorf("got %v, expected a FileError for a missing file", err)
	}
}

func TestServiceRunMigrationsStopsAtFirstFailure(t *testing.T) {
	databasePath := testDatabasePath(t)
	db := openTestDatabaseAt(t, databasePath)
	createUsersTable(t, db)
	_ = db.Close()

	files := fstest.MapFS{
		"001_add_age.sql":     {Data: []byte("ALTER TABLE users ADD COLUMN age INTEGER;\n")},
		"002_broken.sql":      {Data: []byte("ALTER TABLE missing ADD COLUMN age INTEGER;\n")},
		"003_add_weight.sql":  {Data: []byte("ALTER TABLE users ADD COLUMN weight FLOAT;\n")},
		"000_add_gender.sql":  {Data: []byte("UPDATE users SET gender = 'unknown' WHERE gender IS NULL;\n")},
		"004_never_reach.sql": {Data: []byte("ALTER TABLE users ADD COLUMN height FLOAT;\n")},
	}
	names := []string{"000_add_gender.sql", "001_add_age.sql", "002_broken.sql", "003_add_weight.sql", "004_never_reach.sql"}

	out := &bytes.Buffer{}
	service := newTestService(t, databasePath, out)

	if err := service.RunMigrations(context.Background(), files, names[:2], nil); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	err := service.RunMigrations(context.Background(), files, names, nil)
	if !IsErrorKind(err, ExecutionError) {
		t.Fatalf("got %v, expected an ExecutionError", err)
	}

	report := out.String()
	expect := []string{
		"   - " + pad("000_add_gender:", BATCH_NAME_WIDTH) + "[ ALREADY_APPLIED ]",
		"   - " + pad("001_add_age:", BATCH_NAME_WIDTH) + "[ ALREADY_APPLIED ]",
		"   - " + pad("002_broken:", BATCH_NAME_WIDTH) + "[ FAILED ]",
		"   - " + pad("003_add_weight:", BATCH_NAME_WIDTH) + "[ SKIPPED ]",
		"   - " + pad("004_never_reach:", BATCH_NAME_WIDTH) + "[ SKIPPED ]",
	}
	for _, line := range expect {
		if !strings.Contains(report, line+"\n") {
			t.Errorf("the report does not contain %q:\n%s", line, report)
		}
	}

	applied, err := service.MigrationStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	recorded := []string{}
	for _, migration := range applied {
		recorded = append(recorded, migration.MigrationName)
	}
	if diff := deep.Equal(recorded, []string{"000_add_gender", "001_add_age"}); diff != nil {
		t.Error(diff)
	}
}

func TestServiceMigrationStatusWithoutLedger(t *testing.T) {
	service := newTestService(t, testDatabasePath(t), &bytes.Buffer{})

	applied, err := service.MigrationStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Errorf("got %d rows, expected none before the first migration", len(applied))
	}
}

func TestServiceRecordsPanicStackTrace(t *testing.T) {
	migrationPath := filepath.Join(t.TempDir(), "006_add_bmi.sql")
	if err := os.WriteFile(migrationPath, []byte("ALTER TABLE users ADD COLUMN bmi FLOAT;\n"), 0600); err != nil {
		t.Fatal(err)
	}

	service := newTestService(t, testDatabasePath(t), &bytes.Buffer{})
	service.Configuration.Observability.Path = t.TempDir()
	service.OpenDatabase = func(ctx context.Context, database DatabaseConfiguration) (*sql.DB, error) {
		panic("driver exploded")
	}

	run, err := service.RunMigration(context.Background(), migrationPath, nil)
	if !IsErrorKind(err, UnhandledError) || !strings.Contains(err.Error(), "driver exploded") {
		t.Fatalf("got %v, expected an UnhandledError", err)
	}
	if run.Status != RUN_STATUS_FAILED {
		t.Errorf("got status %s, expected %s", run.Status, RUN_STATUS_FAILED)
	}

	content, err := os.ReadFile(filepath.Join(service.Configuration.Observability.Path, "mig_"+run.GetRawRunID().String()+".json"))
	if err != nil {
		t.Fatal(err)
	}
	record := struct {
		LogEntries []struct {
			Level          string            `json:"level"`
			NamedArguments map[string]string `json:"named_arguments"`
		} `json:"log_entries"`
	}{}
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, entry := range record.LogEntries {
		if entry.Level == "exception" && strings.Contains(entry.NamedArguments["stack_trace"], "goroutine") {
			found = true
		}
	}
	if !found {
		t.Errorf("the run record does not keep the stack trace:\n%s", content)
	}
}

func TestPrintFigletWritesToTheGivenWriter(t *testing.T) {
	out := &bytes.Buffer{}
	PrintFiglet(out)

	if !strings.Contains(out.String(), ":: Convergence Migration Runner ::") || !strings.Contains(out.String(), "Version: "+LIBRARY_VERSION) {
		t.Errorf("unexpected banner:\n%s", out.String())
	}
}
