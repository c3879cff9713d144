package lib

import (
	"errors"
)

type ErrorKind string

const (
	ConnectionError    ErrorKind = "ConnectionError"
	FileError          ErrorKind = "FileError"
	ExecutionError     ErrorKind = "ExecutionError"
	VerificationError  ErrorKind = "VerificationError"
	TimeoutError       ErrorKind = "TimeoutError"
	LockError          ErrorKind = "LockError"
	ConfigurationError ErrorKind = "ConfigurationError"
	BackupError        ErrorKind = "BackupError"
	UnhandledError     ErrorKind = "UnhandledError"
)

var errorCodeToKind = map[string]ErrorKind{
	CONNECTION_FAILURE:        ConnectionError,
	MIGRATION_FILE_ERROR:      FileError,
	MIGRATION_EXECUTION_ERROR: ExecutionError,
	VERIFICATION_FAILED:       VerificationError,
	MIGRATION_TIMEOUT:         TimeoutError,
	MIGRATION_LOCKED:          LockError,
	INVALID_CONFIGURATION:     ConfigurationError,
	BACKUP_FAILED:             BackupError,
}

type ManagedMigrationError struct {
	Code     string
	Message  string
	SQLState string
	// Statement is the 1-based index of the failing statement, 0 when the
	// error is not tied to one.
	Statement int
	Line      int
	body      any
	bodyType  *string
	cause     error
}

func (m *ManagedMigrationError) Error() string {
	if m.cause != nil {
		return m.Message + ": " + m.cause.Error()
	}

	return m.Message
}

func (m *ManagedMigrationError) Unwrap() error {
	return m.cause
}

func (m *ManagedMigrationError) Kind() ErrorKind {
	if kind, ok := errorCodeToKind[m.Code]; ok {
		return kind
	}

	return UnhandledError
}

func (m *ManagedMigrationError) SetBody(body any, bodyType string) {
	m.body = body
	m.bodyType = &bodyType
}

func ConstructManagedMigrationError(code string, message string, cause error) *ManagedMigrationError {
	return &ManagedMigrationError{Code: code, Message: message, cause: cause}
}

func (m *ManagedMigrationError) HasCustomBody() bool {
	return m.bodyType != nil
}

func (m *ManagedMigrationError) CustomBody() (any, *string) {
	return m.body, m.bodyType
}

// ErrorKindOf returns the kind of the first ManagedMigrationError in err's chain.
func ErrorKindOf(err error) ErrorKind {
	var managed *ManagedMigrationError
	if errors.As(err, &managed) {
		return managed.Kind()
	}

	return UnhandledError
}

func IsErrorKind(err error, kind ErrorKind) bool {
	return err != nil && ErrorKindOf(err) == kind
}
