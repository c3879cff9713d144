package lib

import (
	"context"
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations"
	"github.com/convergence-platform/convergence-migration-runner-for-go/db_migrations/postgres"
	"github.com/convergence-platform/convergence-migration-runner-for-go/sqlscript"
	gorm_postgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
	"time"
)

const LEDGER_TABLE_NAME = "database_migrations"

type AppliedMigration struct {
	UUID             string    `gorm:"column:uuid;primaryKey" json:"uuid"`
	MigrationName    string    `gorm:"column:migration_name" json:"migration_name"`
	Checksum         string    `gorm:"column:checksum" json:"checksum"`
	Command          string    `gorm:"column:command" json:"-"`
	RunIdentifier    string    `gorm:"column:run_identifier" json:"run_identifier"`
	AppliedTimestamp time.Time `gorm:"column:applied_timestamp" json:"applied_timestamp"`
}

func (AppliedMigration) TableName() string {
	return LEDGER_TABLE_NAME
}

// MigrationLedger records which migrations ran. Every call takes the
// connection or transaction it must run on, so ledger writes commit or roll
// back together with the migration.
type MigrationLedger interface {
	EnsureLedger(ctx context.Context, conn gorm.ConnPool) error
	AppliedMigrations(ctx context.Context, conn gorm.ConnPool, migrationName string) ([]AppliedMigration, error)
	RecordMigration(ctx context.Context, conn gorm.ConnPool, migration AppliedMigration) error
	ListMigrations(ctx context.Context, conn gorm.ConnPool) ([]AppliedMigration, error)
}

type GormMigrationLedger struct {
	Dialect Dialect
	// Formatter renders the ledger blueprints, PostgreSQL when left empty.
	Formatter db_migrations.SqlDialectFormatter
}

func (l GormMigrationLedger) formatter() db_migrations.SqlDialectFormatter {
	if l.Formatter.CreateTableFormatter == nil || l.Formatter.AlterTableFormatter == nil {
		return postgres.NewPostgresFormatter()
	}

	return l.Formatter
}

func LedgerTableBlueprint() db_migrations.TableBlueprint {
	return db_migrations.TableBlueprint{
		Name:           LEDGER_TABLE_NAME,
		CheckExistence: true,
		Columns: []db_migrations.TableColumnBlueprint{
			*db_migrations.NewTableColumnBlueprintDetailed("uuid", "uuid", true, false, false, ""),
			*db_migrations.NewTableColumnBlueprint("migration_name", "String[255]"),
			*db_migrations.NewTableColumnBlueprintDetailed("checksum", "String[64]", false, false, true, ""),
			*db_migrations.NewTableColumnBlueprint("command", "String"),
			*db_migrations.NewTableColumnBlueprintDetailed("run_identifier", "String[64]", false, false, true, ""),
			*db_migrations.NewTableColumnBlueprintDetailed("applied_timestamp", "timestamp", false, false, false, "CURRENT_TIMESTAMP"),
		},
		Indices: []db_migrations.TableIndexBlueprint{
			{Columns: []string{"migration_name"}},
		},
	}
}

func openLedgerSession(ctx context.Context, conn gorm.ConnPool) (*gorm.DB, error) {
	db, err := gorm.Open(gorm_postgres.New(gorm_postgres.Config{Conn: conn}), makeGormConfiguration())
	if err != nil {
		return nil, err
	}

	return db.WithContext(ctx), nil
}

func makeGormConfiguration() *gorm.Config {
	return &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
		NowFunc: func() time.Time {
			return *UtcNow()
		},
		SkipDefaultTransaction: true,
	}
}

// EnsureLedger creates the ledger table when missing and adds the columns
// that ledgers created by older releases lack.
func (l GormMigrationLedger) EnsureLedger(ctx context.Context, conn gorm.ConnPool) error {
	db, err := openLedgerSession(ctx, conn)
	if err != nil {
		return err
	}

	formatter := l.formatter()
	blueprint := LedgerTableBlueprint()
	statements, err := sqlscript.Split(formatter.CreateTableFormatter.ToSQL(blueprint))
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if err := db.Exec(statement.Text).Error; err != nil {
			return err
		}
	}

	existing, err := l.Dialect.TableColumns(ctx, conn, LEDGER_TABLE_NAME)
	if err != nil {
		return err
	}
	upgrade := db_migrations.AlterTableBlueprint{Name: LEDGER_TABLE_NAME}
	for _, column := range blueprint.Columns {
		if !hasColumn(existing, column.Name) {
			column.AllowNull = true
			column.DefaultValue = ""
			upgrade.AddColumn(column)
		}
	}
	if len(upgrade.Columns) == 0 {
		return nil
	}

	statements, err = sqlscript.Split(formatter.AlterTableFormatter.ToSQL(upgrade))
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if err := db.Exec(statement.Text).Error; err != nil {
			return err
		}
	}

	return nil
}

func (l GormMigrationLedger) AppliedMigrations(ctx context.Context, conn gorm.ConnPool, migrationName string) ([]AppliedMigration, error) {
	db, err := openLedgerSession(ctx, conn)
	if err != nil {
		return nil, err
	}

	result := []AppliedMigration{}
	err = db.Where("migration_name = ?", migrationName).Order("applied_timestamp DESC").Find(&result).Error
	return result, err
}

func (l GormMigrationLedger) RecordMigration(ctx context.Context, conn gorm.ConnPool, migration AppliedMigration) error {
	db, err := openLedgerSession(ctx, conn)
	if err != nil {
		return err
	}

	return db.Create(&migration).Error
}

// ListMigrations returns an empty list when the ledger table does not exist yet.
func (l GormMigrationLedger) ListMigrations(ctx context.Context, conn gorm.ConnPool) ([]AppliedMigration, error) {
	existing, err := l.Dialect.TableColumns(ctx, conn, LEDGER_TABLE_NAME)
	if err != nil {
		return nil, err
	}
	result := []AppliedMigration{}
	if len(existing) == 0 {
		return result, nil
	}

	db, err := openLedgerSession(ctx, conn)
	if err != nil {
		return nil, err
	}

	err = db.Order("applied_timestamp ASC").Order("migration_name ASC").Find(&result).Error
	return result, err
}

func hasColumn(columns []ColumnInfo, name string) bool {
	for _, column := range columns {
		if column.Name == name {
			return true
		}
	}

	return false
}
