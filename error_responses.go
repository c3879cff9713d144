package lib

import (
	"errors"
	"fmt"
	"github.com/convergence-platform/convergence-migration-runner-for-go/sqlscript"
)

func LogErrorCreateConnectionError(run *MigrationRun, logMessage string, cause error) error {
	run.Error(logMessage, errorText(cause))
	return ConstructManagedMigrationError(CONNECTION_FAILURE, logMessage, cause)
}

func LogErrorCreateFileError(run *MigrationRun, logMessage string, cause error) error {
	run.Error(logMessage, errorText(cause))
	result := ConstructManagedMigrationError(MIGRATION_FILE_ERROR, logMessage, cause)

	var syntaxError *sqlscript.SyntaxError
	if errors.As(cause, &syntaxError) {
		result.Line = syntaxError.Line
	}

	return result
}

func LogErrorCreateExecutionError(run *MigrationRun, statement sqlscript.Statement, sqlState string, cause error) error {
	logMessage := fmt.Sprintf("Statement %d (line %d) failed", statement.Index, statement.Line)
	run.Error(logMessage, sqlState, errorText(cause))

	return &ManagedMigrationError{
		Code:      MIGRATION_EXECUTION_ERROR,
		Message:   logMessage,
		SQLState:  sqlState,
		Statement: statement.Index,
		Line:      statement.Line,
		cause:     cause,
	}
}

func LogErrorCreateTimeoutError(run *MigrationRun, logMessage string, sqlState string, cause error) error {
	run.Error(logMessage, sqlState, errorText(cause))
	result := ConstructManagedMigrationError(MIGRATION_TIMEOUT, logMessage, cause)
	result.SQLState = sqlState

	return result
}

func LogErrorCreateLockError(run *MigrationRun, lockKey string, cause error) error {
	logMessage := "Another migration run holds the lock '" + lockKey + "', run migrations serially"
	run.Error(logMessage, errorText(cause))
	return ConstructManagedMigrationError(MIGRATION_LOCKED, logMessage, cause)
}

func LogErrorCreateBackupError(run *MigrationRun, logMessage string, cause error) error {
	run.Error(logMessage, errorText(cause))
	return ConstructManagedMigrationError(BACKUP_FAILED, logMessage, cause)
}

// LogErrorCreateVerificationError joins every failed check into a single
// error, so one failing query never hides another.
func LogErrorCreateVerificationError(run *MigrationRun, failures []error) error {
	logMessage := fmt.Sprintf("Verification failed, %d check(s) did not pass", len(failures))
	run.Error(logMessage)

	details := []VerificationFailureDTO{}
	for _, failure := range failures {
		detail := VerificationFailureDTO{Message: failure.Error()}
		var checkFailure *VerificationCheckFailure
		if errors.As(failure, &checkFailure) {
			detail.Check = checkFailure.Check
			detail.Message = checkFailure.Message
		}
		details = append(details, detail)
	}

	result := ConstructManagedMigrationError(VERIFICATION_FAILED, logMessage, errors.Join(failures...))
	result.SetBody(details, "verification_error_info")

	return result
}

func errorText(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
