package lib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime/debug"
	"time"
)

const METRICS_PUSH_TIMEOUT = 10 * time.Second

type RunFlags struct {
	DryRun bool
	Force  bool
}

// MigrationService wires the configuration into runners. Every field left nil
// by the caller is filled from the configuration by NewMigrationService.
type MigrationService struct {
	Configuration *RunnerConfiguration
	Flags         RunFlags
	Reporter      *MigrationReporter
	Metrics       *MigrationMetrics
	Dialect       Dialect
	Locker        MigrationLocker
	Ledger        MigrationLedger
	OpenDatabase  func(ctx context.Context, database DatabaseConfiguration) (*sql.DB, error)
}

func NewMigrationService(configuration *RunnerConfiguration, reporter *MigrationReporter) *MigrationService {
	service := &MigrationService{
		Configuration: configuration,
		Reporter:      reporter,
		Metrics:       NewMigrationMetrics(configuration.Observability.PushgatewayURL),
		Dialect:       PostgresDialect{},
		OpenDatabase:  OpenDatabaseConnection,
	}

	if configuration.Migrations.AdvisoryLock {
		service.Locker = PostgresAdvisoryLock{}
	} else {
		service.Locker = NoopLock{}
	}
	if configuration.Migrations.Ledger.Enabled {
		service.Ledger = GormMigrationLedger{Dialect: service.Dialect}
	}

	return service
}

// RunMigration applies one migration file with the default service writing
// its report to stdout.
func RunMigration(ctx context.Context, configuration *RunnerConfiguration, migrationFilePath string, verificationQueries []string) error {
	service := NewMigrationService(configuration, NewMigrationReporter(os.Stdout))
	_, err := service.RunMigration(ctx, migrationFilePath, verificationQueries)
	return err
}

func (s *MigrationService) RunMigration(ctx context.Context, migrationFilePath string, verificationQueries []string) (*MigrationRun, error) {
	run := InitializeMigrationRun(MigrationNameFromPath(migrationFilePath), migrationFilePath, s.Configuration.Database)

	file, err := ReadMigrationFile(migrationFilePath)
	if err != nil {
		return run, s.finish(run, LogErrorCreateFileError(run, "Unable to load the migration file "+migrationFilePath, err))
	}

	return run, s.apply(ctx, run, file, verificationQueries)
}

func (s *MigrationService) RunMigrationFS(ctx context.Context, fsys fs.FS, migrationFilePath string, verificationQueries []string) (*MigrationRun, error) {
	run := InitializeMigrationRun(MigrationNameFromPath(migrationFilePath), migrationFilePath, s.Configuration.Database)

	file, err := ReadMigrationFileFS(fsys, migrationFilePath)
	if err != nil {
		return run, s.finish(run, LogErrorCreateFileError(run, "Unable to load the migration file "+migrationFilePath, err))
	}

	return run, s.apply(ctx, run, file, verificationQueries)
}

// RunMigrations applies the given files of fsys in order, each in its own
// transaction. After the first failure the remaining files are skipped.
func (s *MigrationService) RunMigrations(ctx context.Context, fsys fs.FS, migrationFiles []string, verificationQueries []string) error {
	s.Reporter.BatchHeader(len(migrationFiles))

	var failure error
	statuses := []string{}
	for _, migrationFile := range migrationFiles {
		if failure != nil {
			statuses = append(statuses, BATCH_STATUS_SKIPPED)
			continue
		}

		run, err := s.RunMigrationFS(ctx, fsys, migrationFile, verificationQueries)
		if err != nil {
			failure = err
			statuses = append(statuses, BATCH_STATUS_FAILED)
			continue
		}

		switch run.Status {
		case RUN_STATUS_ALREADY_APPLIED:
			statuses = append(statuses, BATCH_STATUS_ALREADY_APPLIED)
		case RUN_STATUS_DRY_RUN:
			statuses = append(statuses, BATCH_STATUS_DRY_RUN)
		default:
			statuses = append(statuses, BATCH_STATUS_SUCCESS)
		}
	}

	s.Reporter.println()
	s.Reporter.println("Database migrations:")
	for i, migrationFile := range migrationFiles {
		s.Reporter.BatchLine(MigrationNameFromPath(migrationFile), statuses[i])
	}

	return failure
}

// MigrationStatus lists the ledger rows, oldest first.
func (s *MigrationService) MigrationStatus(ctx context.Context) ([]AppliedMigration, error) {
	db, err := s.OpenDatabase(ctx, s.Configuration.Database)
	if err != nil {
		return nil, asConnectionError(err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, ConstructManagedMigrationError(CONNECTION_FAILURE, "Unable to check out a database connection", err)
	}
	defer conn.Close()

	ledger := s.Ledger
	if ledger == nil {
		ledger = GormMigrationLedger{Dialect: s.Dialect}
	}

	result, err := ledger.ListMigrations(ctx, conn)
	if err != nil {
		return nil, ConstructManagedMigrationError(MIGRATION_EXECUTION_ERROR, "Unable to read the migration ledger", err)
	}

	return result, nil
}

// apply turns a panic into a failed run whose record keeps the stack trace.
func (s *MigrationService) apply(ctx context.Context, run *MigrationRun, file *MigrationFile, verificationQueries []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			run.Exception(string(debug.Stack()))
			err = s.finish(run, ConstructManagedMigrationError(UNHANDLED_EXCEPTION, "A panic occurred while running the migration", errors.New(fmt.Sprint(r))))
		}
	}()

	if s.Configuration.Migrations.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Configuration.Migrations.RunTimeout)
		defer cancel()
	}

	db, err := s.OpenDatabase(ctx, s.Configuration.Database)
	if err != nil {
		err = asConnectionError(err)
		run.Error("Unable to connect to "+DescribeDatabaseTarget(s.Configuration.Database), err.Error())
		return s.finish(run, err)
	}
	defer db.Close()

	runner := &MigrationRunner{
		DB:       db,
		Dialect:  s.Dialect,
		Locker:   s.Locker,
		Ledger:   s.Ledger,
		Reporter: s.Reporter,
		Options: RunOptions{
			DryRun:           s.Flags.DryRun,
			Force:            s.Flags.Force,
			StatementTimeout: s.Configuration.Database.StatementTimeout,
			LockKey:          s.Configuration.Migrations.LockKey,
			SampleRows:       s.Configuration.Migrations.SampleRows,
		},
	}
	if s.Configuration.Migrations.Backup.Enabled {
		runner.Backup = &TableBackup{
			Folder: s.Configuration.Migrations.Backup.Path,
			Tables: s.Configuration.Migrations.Backup.Tables,
		}
	}

	return s.finish(run, runner.Run(ctx, run, file, s.verificationQueries(verificationQueries)))
}

func (s *MigrationService) verificationQueries(commandLine []string) []VerificationQuery {
	result := []VerificationQuery{}
	for _, query := range s.Configuration.Migrations.Verification {
		result = append(result, VerificationQuery{Query: query, Source: VERIFICATION_SOURCE_CONFIGURATION})
	}
	for _, query := range commandLine {
		result = append(result, VerificationQuery{Query: query, Source: VERIFICATION_SOURCE_COMMAND_LINE})
	}

	return result
}

// finish reports the outcome, pushes metrics and saves the run record. Only
// err is returned, problems with metrics or the record are warnings.
func (s *MigrationService) finish(run *MigrationRun, err error) error {
	run.Finish(err)
	s.Reporter.Outcome(run)

	if s.Metrics != nil {
		s.Metrics.Observe(run)

		ctx, cancel := context.WithTimeout(context.Background(), METRICS_PUSH_TIMEOUT)
		if pushError := s.Metrics.Push(ctx, run.MigrationName); pushError != nil {
			run.Warning("Unable to push the metrics to the Pushgateway", pushError.Error())
		}
		cancel()
	}

	if folder := s.Configuration.Observability.Path; folder != "" {
		if filePath, saveError := run.Save(folder); saveError != nil {
			run.Warning("Unable to save the run record", saveError.Error())
		} else {
			s.Reporter.RunRecordSaved(filePath)
		}
	}

	return err
}

func asConnectionError(err error) error {
	if ErrorKindOf(err) != UnhandledError {
		return err
	}

	return ConstructManagedMigrationError(CONNECTION_FAILURE, "Unable to connect to the database", err)
}

func PrintFiglet(out io.Writer) {
	fmt.Fprintln(out, "   ______")
	fmt.Fprintln(out, "  / ____/___  ____ _   _____  _________ ____  ____  ________")
	fmt.Fprintln(out, " / /   / __ \\/ __ \\ | / / _ \\/ ___/ __ `/ _ \\/ __ \\/ ___/ _ \\")
	fmt.Fprintln(out, "/ /___/ /_/ / / / / |/ /  __/ /  / /_/ /  __/ / / / /__/  __/")
	fmt.Fprintln(out, "\\____/\\____/_/ /_/|___/\\___/_/   \\__, /\\___/_/ /_/\\___/\\___/")
	fmt.Fprintln(out, "                                /____/")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, " :: Convergence Migration Runner ::")
	fmt.Fprintln(out, "     Version: "+LIBRARY_VERSION)
	fmt.Fprintln(out, "     Hash: "+LIBRARY_VERSION_HASH)
	fmt.Fprintln(out, "     Build Date: "+LIBRARY_BUILD_DATE)
	fmt.Fprintln(out, "")
}
