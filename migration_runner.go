package lib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/convergence-platform/convergence-migration-runner-for-go/sqlscript"
	uuid2 "github.com/google/uuid"
	"strings"
	"time"
)

const (
	STATEMENT_STATUS_EXECUTED = "executed"
	STATEMENT_STATUS_FAILED   = "failed"
)

const STATEMENT_SUMMARY_LENGTH = 72

const VERIFICATION_SAVEPOINT = "migration_verification"

type VerificationQuery struct {
	Query  string
	Source string
}

// VerificationCheckFailure is one failed post-migration check: a declared
// column or index that does not exist, or a verification query that failed.
type VerificationCheckFailure struct {
	Check   string
	Message string
}

func (e *VerificationCheckFailure) Error() string {
	return e.Check + ": " + e.Message
}

type RunOptions struct {
	DryRun           bool
	Force            bool
	StatementTimeout time.Duration
	LockKey          string
	SampleRows       int
}

// MigrationRunner applies one migration file on its own connection. Ledger and
// Backup are optional, a nil value disables them.
type MigrationRunner struct {
	DB       *sql.DB
	Dialect  Dialect
	Locker   MigrationLocker
	Ledger   MigrationLedger
	Backup   *TableBackup
	Reporter *MigrationReporter
	Options  RunOptions
}

func (r *MigrationRunner) Run(ctx context.Context, run *MigrationRun, file *MigrationFile, queries []VerificationQuery) error {
	run.Checksum = file.Checksum
	run.DryRun = r.Options.DryRun
	run.Forced = r.Options.Force
	r.Reporter.RunHeader(run, file)

	conn, err := r.DB.Conn(ctx)
	if err != nil {
		if r.Dialect.IsTimeout(err) {
			return LogErrorCreateTimeoutError(run, "Timed out while connecting to the database", r.Dialect.SQLState(err), err)
		}
		return LogErrorCreateConnectionError(run, "Unable to check out a database connection", err)
	}
	defer conn.Close()

	release, err := r.Locker.Acquire(ctx, conn, r.Options.LockKey)
	if err != nil {
		if errors.Is(err, ErrMigrationLocked) {
			return LogErrorCreateLockError(run, r.Options.LockKey, err)
		}
		if r.Dialect.IsTimeout(err) {
			return LogErrorCreateTimeoutError(run, "Timed out while acquiring the migration lock", r.Dialect.SQLState(err), err)
		}
		return LogErrorCreateConnectionError(run, "Unable to acquire the migration lock", err)
	}
	defer release()
	run.Debug("Migration lock acquired", r.Options.LockKey)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return LogErrorCreateConnectionError(run, "Unable to begin the migration transaction", err)
	}
	finished := false
	rollback := func(reason string) {
		if finished {
			return
		}
		finished = true
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			run.Warning("Rollback failed", err.Error())
		}
		r.Reporter.RolledBack(reason)
	}
	defer rollback("run aborted")

	if err := r.Dialect.SetStatementTimeout(ctx, tx, r.Options.StatementTimeout); err != nil {
		return r.statementError(run, "Unable to set the statement timeout", err)
	}

	if r.Ledger != nil {
		skip, err := r.checkLedger(ctx, tx, run, file)
		if err != nil {
			return err
		}
		if skip {
			rollback("already applied")
			run.Status = RUN_STATUS_ALREADY_APPLIED
			return r.verify(ctx, conn, run, file, queries, nil)
		}
	}

	before, err := r.snapshotColumns(ctx, tx, file)
	if err != nil {
		return r.statementError(run, "Unable to inspect the schema before the migration", err)
	}

	if r.Backup != nil {
		if r.Options.DryRun {
			run.Info("Skipping the backup during a dry run")
		} else {
			files, err := r.Backup.Backup(ctx, tx, *UtcNow())
			run.BackupFiles = append(run.BackupFiles, files...)
			if err != nil {
				return LogErrorCreateBackupError(run, "Unable to back up the tables before the migration", err)
			}
			r.Reporter.BackupWritten(files)
		}
	}

	for _, statement := range file.Body {
		if err := r.execute(ctx, tx, run, statement); err != nil {
			rollback("statement " + fmt.Sprint(statement.Index) + " failed")
			return err
		}
	}

	if r.Ledger != nil {
		applied := AppliedMigration{
			UUID:             uuid2.New().String(),
			MigrationName:    file.Name,
			Checksum:         file.Checksum,
			Command:          file.Content,
			RunIdentifier:    run.RunIdentifier,
			AppliedTimestamp: *UtcNow(),
		}
		if err := r.Ledger.RecordMigration(ctx, tx, applied); err != nil {
			return r.statementError(run, "Unable to record the migration in the ledger", err)
		}
	}

	if r.Options.DryRun {
		verificationError := r.verify(ctx, tx, run, file, queries, before)
		rollback("dry run")
		run.Status = RUN_STATUS_DRY_RUN
		return verificationError
	}

	finished = true
	if err := tx.Commit(); err != nil {
		return r.statementError(run, "Unable to commit the migration", err)
	}
	run.Status = RUN_STATUS_APPLIED
	run.Info("Migration committed")
	r.Reporter.Committed()

	return r.verify(ctx, conn, run, file, queries, before)
}

// checkLedger reports whether the migration can be skipped because the same
// file was already applied.
func (r *MigrationRunner) checkLedger(ctx context.Context, tx *sql.Tx, run *MigrationRun, file *MigrationFile) (bool, error) {
	if err := r.Ledger.EnsureLedger(ctx, tx); err != nil {
		return false, r.statementError(run, "Unable to prepare the migration ledger", err)
	}

	applied, err := r.Ledger.AppliedMigrations(ctx, tx, file.Name)
	if err != nil {
		return false, r.statementError(run, "Unable to read the migration ledger", err)
	}
	if len(applied) == 0 {
		return false, nil
	}

	latest := applied[0]
	if latest.Checksum != file.Checksum {
		run.Warning("The migration was applied before with different content, applying it again", latest.Checksum, file.Checksum)
		return false, nil
	}
	if r.Options.Force {
		run.Warning("The migration was already applied, applying it again because the run is forced")
		return false, nil
	}

	r.Reporter.AlreadyApplied(latest)
	return true, nil
}

func (r *MigrationRunner) execute(ctx context.Context, tx *sql.Tx, run *MigrationRun, statement sqlscript.Statement) error {
	result := StatementResult{
		Index:        statement.Index,
		Line:         statement.Line,
		Kind:         statement.Kind.String(),
		Summary:      statement.Summary(STATEMENT_SUMMARY_LENGTH),
		Status:       STATEMENT_STATUS_EXECUTED,
		RowsAffected: -1,
	}

	started := time.Now()
	outcome, err := tx.ExecContext(ctx, statement.Text)
	result.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		result.Status = STATEMENT_STATUS_FAILED
		result.Error = err.Error()
		run.Statements = append(run.Statements, result)
		r.Reporter.Statement(result)

		sqlState := r.Dialect.SQLState(err)
		if r.Dialect.IsTimeout(err) {
			return LogErrorCreateTimeoutError(run, fmt.Sprintf("Statement %d (line %d) timed out", statement.Index, statement.Line), sqlState, err)
		}
		return LogErrorCreateExecutionError(run, statement, sqlState, err)
	}

	if rows, err := outcome.RowsAffected(); err == nil {
		result.RowsAffected = rows
	}
	run.Statements = append(run.Statements, result)
	run.Debug("Statement executed", result.Summary, result.RowsAffected)
	r.Reporter.Statement(result)

	return nil
}

func (r *MigrationRunner) statementError(run *MigrationRun, message string, err error) error {
	if r.Dialect.IsTimeout(err) {
		return LogErrorCreateTimeoutError(run, message, r.Dialect.SQLState(err), err)
	}

	run.Error(message, err.Error())
	result := ConstructManagedMigrationError(MIGRATION_EXECUTION_ERROR, message, err)
	result.SQLState = r.Dialect.SQLState(err)

	return result
}

func (r *MigrationRunner) snapshotColumns(ctx context.Context, q Querier, file *MigrationFile) (map[string][]ColumnInfo, error) {
	result := map[string][]ColumnInfo{}
	for _, table := range file.Changes.Tables() {
		columns, err := r.Dialect.TableColumns(ctx, q, table)
		if err != nil {
			return nil, err
		}
		result[table] = columns
	}

	return result, nil
}

// verify checks the declared schema changes and runs the verification queries.
// Every failure is collected, one failing check never hides the next.
func (r *MigrationRunner) verify(ctx context.Context, q Querier, run *MigrationRun, file *MigrationFile, queries []VerificationQuery, before map[string][]ColumnInfo) error {
	failures := []error{}

	for _, table := range file.Changes.Tables() {
		report, tableFailures := r.inspectTable(ctx, q, file.Changes, table, before)
		run.Tables = append(run.Tables, report)
		failures = append(failures, tableFailures...)
	}
	r.Reporter.Schema(run.Tables)

	all := append([]VerificationQuery{}, queries...)
	for _, query := range file.InlineVerificationQueries() {
		all = append(all, VerificationQuery{Query: query, Source: VERIFICATION_SOURCE_INLINE})
	}

	for _, query := range all {
		result := r.runVerificationQuery(ctx, q, query)
		run.Verification = append(run.Verification, result)
		r.Reporter.Verification(result)
		if result.Error != "" {
			failures = append(failures, &VerificationCheckFailure{Check: "query " + summarizeQuery(query.Query), Message: result.Error})
		}
	}

	if len(failures) > 0 {
		return LogErrorCreateVerificationError(run, failures)
	}

	run.Info("Verification passed", len(run.Tables), len(all))
	return nil
}

func (r *MigrationRunner) inspectTable(ctx context.Context, q Querier, changes sqlscript.Changes, table string, before map[string][]ColumnInfo) (TableReport, []error) {
	report := TableReport{
		Table:          table,
		Columns:        []ColumnInfo{},
		Indexes:        []IndexInfo{},
		AddedColumns:   []string{},
		MissingColumns: []string{},
		MissingIndexes: []string{},
	}
	failures := []error{}

	columns, err := r.Dialect.TableColumns(ctx, q, table)
	if err != nil {
		return report, append(failures, &VerificationCheckFailure{Check: "table " + table, Message: err.Error()})
	}
	report.Columns = columns

	indexes, err := r.Dialect.TableIndexes(ctx, q, table)
	if err != nil {
		return report, append(failures, &VerificationCheckFailure{Check: "table " + table, Message: err.Error()})
	}
	report.Indexes = indexes

	if len(columns) == 0 && containsString(changes.CreatedTables, table) {
		failures = append(failures, &VerificationCheckFailure{Check: "table " + table, Message: "the table does not exist"})
	}

	for _, change := range changes.ColumnsFor(table) {
		if !hasColumn(columns, change.Column) {
			report.MissingColumns = append(report.MissingColumns, change.Column)
			failures = append(failures, &VerificationCheckFailure{Check: "column " + table + "." + change.Column, Message: "the column does not exist"})
			continue
		}
		if before != nil && !hasColumn(before[table], change.Column) {
			report.AddedColumns = append(report.AddedColumns, change.Column)
		}
	}

	for _, change := range changes.IndexesFor(table) {
		if !hasIndex(indexes, change) {
			name := change.Name
			if name == "" {
				name = "(" + strings.Join(change.Columns, ", ") + ")"
			}
			report.MissingIndexes = append(report.MissingIndexes, name)
			failures = append(failures, &VerificationCheckFailure{Check: "index " + name + " on " + table, Message: "the index does not exist"})
		}
	}

	return report, failures
}

// hasIndex matches by name, or for unnamed indexes by a definition that
// mentions every declared column.
func hasIndex(indexes []IndexInfo, change sqlscript.IndexChange) bool {
	for _, index := range indexes {
		if change.Name != "" {
			if strings.EqualFold(index.Name, change.Name) {
				return true
			}
			continue
		}

		definition := strings.ToLower(index.Definition)
		matched := len(change.Columns) > 0
		for _, column := range change.Columns {
			if !strings.Contains(definition, strings.ToLower(column)) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}

	return false
}

// runVerificationQuery guards each query inside an open transaction with a
// savepoint, so that a failing query does not abort the checks after it.
func (r *MigrationRunner) runVerificationQuery(ctx context.Context, q Querier, query VerificationQuery) VerificationResult {
	result := VerificationResult{Query: query.Query, Source: query.Source, Columns: []string{}, Rows: [][]any{}}
	if !sqlscript.IsReadOnlyQuery(query.Query) {
		result.Error = "only a single read-only query can be used for verification"
		return result
	}

	tx, inTransaction := q.(*sql.Tx)
	if !inTransaction {
		return r.queryVerificationRows(ctx, q, result)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+VERIFICATION_SAVEPOINT); err != nil {
		result.Error = err.Error()
		return result
	}
	result = r.queryVerificationRows(ctx, tx, result)
	if result.Error != "" {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+VERIFICATION_SAVEPOINT); err != nil {
			result.Error += "; " + err.Error()
			return result
		}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+VERIFICATION_SAVEPOINT); err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	return result
}

func (r *MigrationRunner) queryVerificationRows(ctx context.Context, q Querier, result VerificationResult) VerificationResult {
	rows, err := q.QueryContext(ctx, result.Query)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Columns = columns

	for rows.Next() {
		result.RowCount++
		if result.RowCount > r.Options.SampleRows {
			continue
		}

		values, err := scanRowValues(rows, len(columns))
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		result.Error = err.Error()
	}

	return result
}

func summarizeQuery(query string) string {
	statements, err := sqlscript.Split(query)
	if err != nil || len(statements) == 0 {
		return query
	}

	return statements[0].Summary(STATEMENT_SUMMARY_LENGTH)
}
