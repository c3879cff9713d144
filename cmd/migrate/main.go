package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/alexflint/go-arg"
	lib "github.com/convergence-platform/convergence-migration-runner-for-go"
	"github.com/convergence-platform/convergence-migration-runner-for-go/migrations"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"
)

type ApplyCommand struct {
	File    string   `arg:"positional" help:"migration file to apply, the configured file or every bundled migration when empty"`
	Bundled string   `help:"name of a bundled migration to apply"`
	Verify  []string `arg:"separate" help:"read-only verification query to run after the migration, can be repeated"`
	DryRun  bool     `arg:"--dry-run" help:"execute and verify inside the transaction, then roll back"`
	Force   bool     `help:"apply even when the ledger records the same migration"`
}

type StatusCommand struct {
	JSON bool `arg:"--json" help:"print the ledger as JSON"`
}

type ListCommand struct{}

type NewCommand struct {
	Name   string   `arg:"positional,required" help:"migration name, used in the file name"`
	Table  string   `arg:"required" help:"table the migration alters"`
	Column []string `arg:"separate,required" help:"column to add as name:type or name:type:default, can be repeated"`
	Index  []string `arg:"separate" help:"comma separated columns of an index to create, can be repeated"`
	Dir    string   `default:"migrations" help:"folder the file is written to"`
}

type CommandLine struct {
	Apply   *ApplyCommand  `arg:"subcommand:apply" help:"apply a migration (default)"`
	Status  *StatusCommand `arg:"subcommand:status" help:"list the migrations recorded in the ledger"`
	List    *ListCommand   `arg:"subcommand:list" help:"list the bundled migrations"`
	New     *NewCommand    `arg:"subcommand:new" help:"write a new migration file"`
	Profile string         `arg:"env:MIGRATION_PROFILE" default:"default" help:"configuration profile"`
	Config  string         `arg:"env:MIGRATION_CONFIG" help:"extra YAML configuration file"`
	Debug   bool           `help:"log at debug level"`
}

func (CommandLine) Version() string {
	return "migrate " + lib.LIBRARY_VERSION + " (" + lib.LIBRARY_VERSION_HASH + ", built " + lib.LIBRARY_BUILD_DATE + ")"
}

func (CommandLine) Description() string {
	return "Applies idempotent SQL migrations to the health application database and verifies the result."
}

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	var commandLine CommandLine
	parser, err := arg.NewParser(arg.Config{Program: "migrate"}, &commandLine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌ arg.NewParser:", err)
		return 1
	}
	if err := parser.Parse(os.Args[1:]); err != nil {
		switch err {
		case arg.ErrHelp:
			parser.WriteHelp(os.Stdout)
			return 0
		case arg.ErrVersion:
			fmt.Println(commandLine.Version())
			return 0
		default:
			parser.WriteUsage(os.Stderr)
			fmt.Fprintln(os.Stderr, "❌ Error parsing command line:", err)
			return 1
		}
	}

	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			log.WithField("panic", fmt.Sprint(r)).Error("A panic occurred while running the migration.")
			fmt.Fprintln(os.Stderr, "----------------\nPanic stack trace:\n"+stackTrace+"\n----------------")
			exitCode = 1
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if commandLine.New != nil {
		return exitStatus(newMigration(commandLine.New, os.Stdout))
	}
	if commandLine.List != nil {
		return exitStatus(listMigrations(os.Stdout))
	}

	configuration, err := loadConfiguration(commandLine)
	if err != nil {
		return exitStatus(err)
	}

	out, closeLogs, err := lib.ConfigureLogging(configuration.Observability, commandLine.Debug)
	if err != nil {
		return exitStatus(err)
	}
	defer closeLogs()

	reporter := lib.NewMigrationReporter(out)
	if configuration.Observability.LogFile.Enabled {
		reporter.Color = false
	}
	service := lib.NewMigrationService(configuration, reporter)

	if commandLine.Status != nil {
		return exitStatus(printStatus(ctx, service, commandLine.Status.JSON, out))
	}

	apply := commandLine.Apply
	if apply == nil {
		apply = &ApplyCommand{}
	}
	lib.PrintFiglet(out)
	return exitStatus(applyMigrations(ctx, service, configuration, apply))
}

func loadConfiguration(commandLine CommandLine) (*lib.RunnerConfiguration, error) {
	configuration, err := lib.LoadConfiguration(commandLine.Profile, commandLine.Config)
	if err != nil {
		return nil, err
	}

	return configuration.RunnerConfiguration(commandLine.Profile)
}

func applyMigrations(ctx context.Context, service *lib.MigrationService, configuration *lib.RunnerConfiguration, command *ApplyCommand) error {
	service.Flags = lib.RunFlags{DryRun: command.DryRun, Force: command.Force}

	if command.Bundled != "" {
		name, ok := migrations.Lookup(command.Bundled)
		if !ok {
			return lib.ConstructManagedMigrationError(lib.MIGRATION_FILE_ERROR, "There is no bundled migration named "+command.Bundled, nil)
		}
		_, err := service.RunMigrationFS(ctx, migrations.Files, name, command.Verify)
		return err
	}

	file := command.File
	if file == "" {
		file = configuration.Migrations.File
	}
	if file != "" {
		_, err := service.RunMigration(ctx, file, command.Verify)
		return err
	}

	names, err := migrations.List()
	if err != nil {
		return err
	}

	return service.RunMigrations(ctx, migrations.Files, names, command.Verify)
}

func printStatus(ctx context.Context, service *lib.MigrationService, asJSON bool, out io.Writer) error {
	applied, err := service.MigrationStatus(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		content, err := json.MarshalIndent(applied, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(content))
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "No migration has been recorded yet.")
		return nil
	}

	fmt.Fprintln(out, "Applied database migrations:")
	for _, migration := range applied {
		checksum := migration.Checksum
		if len(checksum) > 12 {
			checksum = checksum[:12]
		}
		fmt.Fprintf(out, "   - %-50s %s  %-12s  %s\n", migration.MigrationName, migration.AppliedTimestamp.UTC().Format(time.RFC3339), checksum, migration.RunIdentifier)
	}

	return nil
}

func listMigrations(out io.Writer) error {
	names, err := migrations.List()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Bundled database migrations:")
	for _, name := range names {
		fmt.Fprintln(out, "   - "+name)
	}

	return nil
}

func newMigration(command *NewCommand, out io.Writer) error {
	scaffold := &lib.MigrationScaffold{Name: command.Name, Table: command.Table, Dir: command.Dir}
	for _, specification := range command.Column {
		column, err := lib.ParseColumnSpecification(specification)
		if err != nil {
			return lib.ConstructManagedMigrationError(lib.INVALID_CONFIGURATION, "Invalid --column", err)
		}
		scaffold.Columns = append(scaffold.Columns, column)
	}
	for _, specification := range command.Index {
		columns, err := lib.ParseIndexSpecification(specification)
		if err != nil {
			return lib.ConstructManagedMigrationError(lib.INVALID_CONFIGURATION, "Invalid --index", err)
		}
		scaffold.Indexes = append(scaffold.Indexes, columns)
	}

	filePath, err := scaffold.Save(time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "📝 Migration written to "+filePath)
	return nil
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}

	printError(os.Stderr, err)
	return 1
}

func printError(out io.Writer, err error) {
	fmt.Fprintf(out, "❌ %s: %s\n", lib.ErrorKindOf(err), err)

	var managed *lib.ManagedMigrationError
	if !errors.As(err, &managed) {
		return
	}
	if managed.SQLState != "" {
		fmt.Fprintf(out, "   SQLSTATE: %s\n", managed.SQLState)
	}
	if managed.Statement > 0 {
		fmt.Fprintf(out, "   Statement: %d (line %d)\n", managed.Statement, managed.Line)
	} else if managed.Line > 0 {
		fmt.Fprintf(out, "   Line: %d\n", managed.Line)
	}
	for _, failure := range lib.ConfigurationFailures(err) {
		fmt.Fprintf(out, "   %s: %v\n", failure.Field, failure.Messages)
	}
	if body, _ := managed.CustomBody(); body != nil {
		if failures, ok := body.([]lib.VerificationFailureDTO); ok {
			for _, failure := range failures {
				fmt.Fprintf(out, "   - %s: %s\n", failure.Check, failure.Message)
			}
		}
	}
}
