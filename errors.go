package lib

const CONNECTION_FAILURE = "err_connection_failure"
const MIGRATION_FILE_ERROR = "err_migration_file"
const MIGRATION_EXECUTION_ERROR = "err_migration_execution"
const VERIFICATION_FAILED = "err_verification_failed"
const MIGRATION_TIMEOUT = "err_timeout"
const MIGRATION_LOCKED = "err_migration_locked"
const INVALID_CONFIGURATION = "err_invalid_configuration"
const BACKUP_FAILED = "err_backup_failed"
const UNHANDLED_EXCEPTION = "err_unknown_exception"
