package lib

import (
	"context"
	"database/sql"
	"fmt"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"strings"
)

// sql.Open driver names, "postgres" is lib/pq and "pgx" is the pgx stdlib adapter.
var databaseDriverNames = map[string]string{
	"postgres": "postgres",
	"pgx":      "pgx",
}

func GetDbConnectionString(database DatabaseConfiguration) string {
	parameters := []string{
		"host=" + quoteConnectionValue(database.Host),
		fmt.Sprintf("port=%d", database.Port),
		"user=" + quoteConnectionValue(database.Username),
		"password=" + quoteConnectionValue(database.Password),
		"dbname=" + quoteConnectionValue(database.Name),
		"sslmode=" + quoteConnectionValue(database.SSLMode),
	}

	if seconds := int(database.ConnectTimeout.Seconds()); seconds > 0 {
		parameters = append(parameters, fmt.Sprintf("connect_timeout=%d", seconds))
	}

	return strings.Join(parameters, " ")
}

// DescribeDatabaseTarget is the connection target without credentials, safe for logs.
func DescribeDatabaseTarget(database DatabaseConfiguration) string {
	return fmt.Sprintf("%s@%s:%d/%s", database.Username, database.Host, database.Port, database.Name)
}

func quoteConnectionValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, ` '\`) {
		return value
	}

	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// OpenDatabaseConnection opens a handle and checks it is usable. The caller
// owns the handle and must close it. There is no retry, a failure is final.
func OpenDatabaseConnection(ctx context.Context, database DatabaseConfiguration) (*sql.DB, error) {
	driverName, ok := databaseDriverNames[database.Driver]
	if !ok {
		return nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "The database driver '"+database.Driver+"' is not supported", nil)
	}

	connection, err := sql.Open(driverName, GetDbConnectionString(database))
	if err != nil {
		return nil, ConstructManagedMigrationError(CONNECTION_FAILURE, "Unable to open the database connection", err)
	}
	connection.SetMaxOpenConns(1)
	connection.SetMaxIdleConns(1)

	if err := checkConnectionIsValid(ctx, connection, database); err != nil {
		_ = connection.Close()
		return nil, err
	}

	return connection, nil
}

func checkConnectionIsValid(ctx context.Context, connection *sql.DB, database DatabaseConfiguration) error {
	if database.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, database.ConnectTimeout)
		defer cancel()
	}

	rows, err := connection.QueryContext(ctx, "SELECT 1")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ConstructManagedMigrationError(MIGRATION_TIMEOUT, "Connecting to "+DescribeDatabaseTarget(database)+" timed out", err)
		}
		return ConstructManagedMigrationError(CONNECTION_FAILURE, "Unable to connect to "+DescribeDatabaseTarget(database), err)
	}

	defer rows.Close()
	return nil
}
