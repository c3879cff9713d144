package lib

import (
	"context"
	"testing"
	"time"
)

func TestGetDbConnectionString(t *testing.T) {
	database := testDatabaseConfiguration()
	database.ConnectTimeout = 10 * time.Second

	expect := "host=localhost port=5432 user=health_ai_user password=health_ai_password dbname=health_ai_db sslmode=disable connect_timeout=10"
	if got := GetDbConnectionString(database); got != expect {
		t.Errorf("got %q, expected %q", got, expect)
	}

	database.Password = `it's a \secret`
	database.SSLMode = ""
	database.ConnectTimeout = 0
	expect = `host=localhost port=5432 user=health_ai_user password='it\'s a \\secret' dbname=health_ai_db sslmode=''`
	if got := GetDbConnectionString(database); got != expect {
		t.Errorf("got %q, expected %q", got, expect)
	}
}

func TestDescribeDatabaseTargetHidesPassword(t *testing.T) {
	database := testDatabaseConfiguration()
	if got := DescribeDatabaseTarget(database); got != "health_ai_user@localhost:5432/health_ai_db" {
		t.Errorf("got %s", got)
	}
}

func TestOpenDatabaseConnectionRejectsUnknownDriver(t *testing.T) {
	database := testDatabaseConfiguration()
	database.Driver = "mysql"

	_, err := OpenDatabaseConnection(context.Background(), database)
	if !IsErrorKind(err, ConfigurationError) {
		t.Errorf("got %v, expected a ConfigurationError", err)
	}
}

func TestOpenDatabaseConnectionReportsUnreachableServer(t *testing.T) {
	database := testDatabaseConfiguration()
	database.Host = "127.0.0.1"
	database.Port = 1
	database.ConnectTimeout = 2 * time.Second

	for _, driver := range []string{"postgres", "pgx"} {
		database.Driver = driver
		db, err := OpenDatabaseConnection(context.Background(), database)
		if db != nil {
			_ = db.Close()
		}
		if !IsErrorKind(err, ConnectionError) && !IsErrorKind(err, TimeoutError) {
			t.Errorf("%s: got %v, expected a ConnectionError", driver, err)
		}
	}
}
