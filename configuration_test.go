package lib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
)

func clearConfigurationEnvironment(t *testing.T) {
	for _, name := range []string{"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USERNAME", "DB_PASSWORD", "DB_SSLMODE",
		"MIGRATION_FILE", "MIGRATION_LOG_PATH", "LOG_LEVEL", "PUSHGATEWAY_URL"} {
		t.Setenv(name, "")
	}
}

func loadTestConfiguration(t *testing.T, profile string, overrideFile string) *RunnerConfiguration {
	t.Helper()

	configuration, err := LoadConfiguration(profile, overrideFile)
	if err != nil {
		t.Fatal(err)
	}
	result, err := configuration.RunnerConfiguration(profile)
	if err != nil {
		t.Fatalf("%s: %+v", err, ConfigurationFailures(err))
	}

	return result
}

func TestLoadConfigurationDefaults(t *testing.T) {
	clearConfigurationEnvironment(t)
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "s3cret")

	configuration := loadTestConfiguration(t, "default", "")

	expect := DatabaseConfiguration{
		Driver:           "postgres",
		Host:             "localhost",
		Port:             6543,
		Name:             "health_ai_db",
		Username:         "health_ai_user",
		Password:         "s3cret",
		SSLMode:          "disable",
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 5 * time.Minute,
	}
	if diff := deep.Equal(configuration.Database, expect); diff != nil {
		t.Error(diff)
	}

	migrations := configuration.Migrations
	if !migrations.AdvisoryLock || !migrations.Ledger.Enabled || migrations.Backup.Enabled {
		t.Errorf("unexpected migration defaults %+v", migrations)
	}
	if migrations.File != "" || migrations.SampleRows != 10 || migrations.RunTimeout != 30*time.Minute {
		t.Errorf("unexpected migration defaults %+v", migrations)
	}
	if configuration.Observability.LogLevel != "info" || configuration.Observability.Path != "" {
		t.Errorf("unexpected observability defaults %+v", configuration.Observability)
	}
}

func TestLoadConfigurationProfileAndOverrideFile(t *testing.T) {
	clearConfigurationEnvironment(t)

	override := filepath.Join(t.TempDir(), "override.yaml")
	content := "database:\n  name: staging_db\nmigrations:\n  sample_rows: 3\n  file: ${MIGRATION_FILE:migrations/003_add_period_length.sql}\n"
	if err := os.WriteFile(override, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	configuration := loadTestConfiguration(t, "ci", override)

	if configuration.Migrations.AdvisoryLock {
		t.Error("the ci profile disables the advisory lock")
	}
	if len(configuration.Migrations.Verification) != 1 || configuration.Observability.LogLevel != "debug" {
		t.Errorf("the ci profile was not applied: %+v", configuration)
	}
	if configuration.Database.Name != "staging_db" || configuration.Migrations.SampleRows != 3 {
		t.Errorf("the override file was not applied: %+v", configuration)
	}
	if configuration.Migrations.File != "migrations/003_add_period_length.sql" {
		t.Errorf("got file %s", configuration.Migrations.File)
	}
	if configuration.Database.Host != "localhost" || !configuration.Migrations.Ledger.Enabled {
		t.Error("values absent from the profile must keep their defaults")
	}
}

func TestLoadConfigurationDockerProfile(t *testing.T) {
	clearConfigurationEnvironment(t)

	configuration := loadTestConfiguration(t, "docker", "")

	if configuration.Database.Host != "db" || configuration.Database.ConnectTimeout != 30*time.Second {
		t.Errorf("unexpected database %+v", configuration.Database)
	}
	if diff := deep.Equal(configuration.Migrations.Backup, BackupConfiguration{Enabled: true, Path: "/var/lib/migrations/backups", Tables: []string{"users"}}); diff != nil {
		t.Error(diff)
	}
	if !configuration.Observability.LogFile.Enabled || configuration.Observability.Path != "/var/log/migrations" {
		t.Errorf("unexpected observability %+v", configuration.Observability)
	}
}

func TestLoadConfigurationUnknownProfile(t *testing.T) {
	_, err := LoadConfiguration("staging", "")
	if !IsErrorKind(err, ConfigurationError) {
		t.Errorf("got %v, expected a ConfigurationError", err)
	}
}

func TestRunnerConfigurationValidation(t *testing.T) {
	clearConfigurationEnvironment(t)

	configuration, err := LoadConfiguration("default", "")
	if err != nil {
		t.Fatal(err)
	}
	configuration.SetConfiguration("database.driver", "mysql")
	configuration.SetConfiguration("migrations.lock_key", "")
	configuration.SetConfiguration("migrations.verification", []any{"SELECT 1", "DELETE FROM users"})
	configuration.SetConfiguration("observability.log_file.enabled", true)

	_, err = configuration.RunnerConfiguration("default")
	if !IsErrorKind(err, ConfigurationError) {
		t.Fatalf("got %v, expected a ConfigurationError", err)
	}

	fields := []string{}
	for _, failure := range ConfigurationFailures(err) {
		fields = append(fields, failure.Field)
		if failure.Location != "configuration" {
			t.Errorf("unexpected location %s", failure.Location)
		}
	}
	expect := []string{"database.driver", "migrations.lock_key", "migrations.verification[1]", "observability.path"}
	if diff := deep.Equal(fields, expect); diff != nil {
		t.Error(diff)
	}
}

func TestRunnerConfigurationValidatesLogFilePattern(t *testing.T) {
	clearConfigurationEnvironment(t)

	for _, pattern := range []string{"migration.log", "/var/log/migration_{TIME}.log"} {
		configuration, err := LoadConfiguration("default", "")
		if err != nil {
			t.Fatal(err)
		}
		configuration.SetConfiguration("observability.log_file.pattern", pattern)

		_, err = configuration.RunnerConfiguration("default")
		failures := ConfigurationFailures(err)
		if len(failures) != 1 || failures[0].Field != "observability.log_file.pattern" {
			t.Errorf("%s: got %v with failures %+v", pattern, err, failures)
		}
	}
}

func TestConfigurationGetters(t *testing.T) {
	t.Setenv("MIGRATION_TEST_HOST", "db.internal")
	t.Setenv("MIGRATION_TEST_PORT", "")

	configuration := NewConfiguration(map[string]any{
		"database": map[string]any{
			"url":     "postgres://${MIGRATION_TEST_HOST:localhost}:${MIGRATION_TEST_PORT:5432}/health",
			"timeout": "30",
			"retries": "three",
		},
		"tables": "users, period_tracking,",
	})

	if url, _ := configuration.GetStringConfiguration("database.url"); url != "postgres://db.internal:5432/health" {
		t.Errorf("got url %s", url)
	}
	if timeout, err := configuration.GetDurationConfiguration("database.timeout"); err != nil || timeout != 30*time.Second {
		t.Errorf("got timeout %s, %v", timeout, err)
	}
	if _, err := configuration.GetIntegerConfiguration("database.retries"); !IsErrorKind(err, ConfigurationError) {
		t.Errorf("got %v, expected a ConfigurationError", err)
	}

	tables, err := configuration.GetStringListConfiguration("tables")
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(tables, []string{"users", "period_tracking"}); diff != nil {
		t.Error(diff)
	}

	if configuration.ConfigurationExists("migrations.backup.enabled") {
		t.Error("the path must not exist yet")
	}
	configuration.SetConfiguration("migrations.backup.enabled", true)
	if enabled, err := configuration.GetBooleanConfiguration("migrations.backup.enabled"); err != nil || !enabled {
		t.Errorf("got %v, %v", enabled, err)
	}
}

func TestConvertPascalToSnake(t *testing.T) {
	tests := []struct {
		input  string
		expect string
	}{
		{"Database.SSLMode", "database.sslmode"},
		{"Migrations.Backup.Tables[0]", "migrations.backup.tables[0]"},
		{"Observability.LogFile.Pattern", "observability.log_file.pattern"},
	}

	for _, test := range tests {
		if got := ConvertPascalToSnake(test.input); got != test.expect {
			t.Errorf("%s: got %s, expected %s", test.input, got, test.expect)
		}
	}
}
