package lib

import (
	"encoding/json"
	"fmt"
	uuid2 "github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const MIGRATION_RUN_PREFIX = "mig"

const (
	RUN_STATUS_PENDING             = "pending"
	RUN_STATUS_APPLIED             = "applied"
	RUN_STATUS_ALREADY_APPLIED     = "already_applied"
	RUN_STATUS_DRY_RUN             = "dry_run"
	RUN_STATUS_FAILED              = "failed"
	RUN_STATUS_VERIFICATION_FAILED = "verification_failed"
)

const (
	VERIFICATION_SOURCE_CONFIGURATION = "configuration"
	VERIFICATION_SOURCE_COMMAND_LINE  = "command_line"
	VERIFICATION_SOURCE_INLINE        = "inline"
)

type LogEntry struct {
	Timestamp      int64  `json:"timestamp"`
	Level          string `json:"level"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	Arguments      any    `json:"arguments"`
	NamedArguments any    `json:"named_arguments"`
}

type ConnectionDetails struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password" convergence_sensitive:"true"`
	SSLMode  string `json:"sslmode"`
}

type StatementResult struct {
	Index        int    `json:"index"`
	Line         int    `json:"line"`
	Kind         string `json:"kind"`
	Summary      string `json:"summary"`
	Status       string `json:"status"`
	RowsAffected int64  `json:"rows_affected"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

type TableReport struct {
	Table          string       `json:"table"`
	Columns        []ColumnInfo `json:"columns"`
	Indexes        []IndexInfo  `json:"indexes"`
	AddedColumns   []string     `json:"added_columns"`
	MissingColumns []string     `json:"missing_columns"`
	MissingIndexes []string     `json:"missing_indexes"`
}

type VerificationResult struct {
	Query    string   `json:"query"`
	Source   string   `json:"source"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"sample_rows"`
	RowCount int      `json:"row_count"`
	Error    string   `json:"error,omitempty"`
}

// MigrationRun is the record of one invocation. It is written as JSON into
// the observability folder when one is configured.
type MigrationRun struct {
	RunIdentifier  string               `json:"run_identifier"`
	MigrationName  string               `json:"migration_name"`
	FilePath       string               `json:"file_path"`
	Checksum       string               `json:"checksum"`
	Status         string               `json:"status"`
	DryRun         bool                 `json:"dry_run"`
	Forced         bool                 `json:"forced"`
	Connection     ConnectionDetails    `json:"connection"`
	StartTimestamp int64                `json:"start_timestamp"`
	EndTimestamp   int64                `json:"end_timestamp"`
	Statements     []StatementResult    `json:"statements"`
	Tables         []TableReport        `json:"tables"`
	Verification   []VerificationResult `json:"verification"`
	BackupFiles    []string             `json:"backup_files"`
	LogEntries     []LogEntry           `json:"log_entries"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty"`
	rawRunID       *uuid2.UUID          `json:"-"`
	logger         *log.Entry           `json:"-"`
}

func InitializeMigrationRun(migrationName string, filePath string, database DatabaseConfiguration) *MigrationRun {
	runIdentifier := uuid2.New()
	identifier := MIGRATION_RUN_PREFIX + "_" + runIdentifier.String()

	return &MigrationRun{
		RunIdentifier: identifier,
		MigrationName: migrationName,
		FilePath:      filePath,
		Status:        RUN_STATUS_PENDING,
		Connection: ConnectionDetails{
			Driver:   database.Driver,
			Host:     database.Host,
			Port:     database.Port,
			Database: database.Name,
			Username: database.Username,
			Password: database.Password,
			SSLMode:  database.SSLMode,
		},
		StartTimestamp: UtcNow().UnixMilli(),
		Statements:     []StatementResult{},
		Tables:         []TableReport{},
		Verification:   []VerificationResult{},
		BackupFiles:    []string{},
		LogEntries:     []LogEntry{},
		rawRunID:       &runIdentifier,
		logger:         log.WithFields(log.Fields{"run": identifier, "migration": migrationName}),
	}
}

func (r *MigrationRun) Info(message string, arguments ...any) {
	addLogEntry(r, "info", message, arguments...)
}

func (r *MigrationRun) Error(message string, arguments ...any) {
	addLogEntry(r, "error", message, arguments...)
}

func (r *MigrationRun) Warning(message string, arguments ...any) {
	addLogEntry(r, "warning", message, arguments...)
}

func (r *MigrationRun) Debug(message string, arguments ...any) {
	addLogEntry(r, "debug", message, arguments...)
}

func (r *MigrationRun) Exception(stackTrace string) {
	details := map[string]string{
		"format":      "go: stack_trace",
		"stack_trace": stackTrace,
	}

	entry := LogEntry{
		Timestamp:      UtcNow().UnixMilli(),
		Level:          "exception",
		Message:        "Go panic occurred.",
		Arguments:      nil,
		NamedArguments: details,
		Type:           "exception_entry",
	}

	r.LogEntries = append(r.LogEntries, entry)
}

// Finish stamps the end time and the outcome. A nil err keeps the status the
// runner already set.
func (r *MigrationRun) Finish(err error) {
	r.EndTimestamp = UtcNow().UnixMilli()
	if err == nil {
		return
	}

	r.ErrorKind = string(ErrorKindOf(err))
	r.ErrorMessage = err.Error()
	if IsErrorKind(err, VerificationError) {
		r.Status = RUN_STATUS_VERIFICATION_FAILED
	} else if r.Status != RUN_STATUS_ALREADY_APPLIED && r.Status != RUN_STATUS_APPLIED {
		r.Status = RUN_STATUS_FAILED
	}
}

func (r *MigrationRun) Duration() time.Duration {
	end := r.EndTimestamp
	if end == 0 {
		end = UtcNow().UnixMilli()
	}

	return time.Duration(end-r.StartTimestamp) * time.Millisecond
}

func (r *MigrationRun) StatementsExecuted() int {
	count := 0
	for _, statement := range r.Statements {
		if statement.Status == STATEMENT_STATUS_EXECUTED {
			count++
		}
	}

	return count
}

func (r *MigrationRun) RowsAffected() int64 {
	var total int64
	for _, statement := range r.Statements {
		if statement.RowsAffected > 0 {
			total += statement.RowsAffected
		}
	}

	return total
}

// Save writes the run as <folder>/mig_<uuid>.json with sensitive fields masked.
func (r *MigrationRun) Save(folder string) (string, error) {
	if r.EndTimestamp == 0 {
		r.EndTimestamp = UtcNow().UnixMilli()
	}

	mapped := convertObjectToDictionary(r).(map[string]any)
	mapped["runner_language"] = "go"
	mapped["runner_version"] = LIBRARY_VERSION

	jsonString, err := json.MarshalIndent(mapped, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(folder, 0750); err != nil {
		return "", err
	}

	filePath := filepath.Join(folder, fmt.Sprintf("%s_%s.json", MIGRATION_RUN_PREFIX, r.GetRawRunID().String()))
	if err := os.WriteFile(filePath, jsonString, 0600); err != nil {
		return "", err
	}

	return filePath, nil
}

func (r *MigrationRun) GetRawRunID() *uuid2.UUID {
	return r.rawRunID
}

func convertObjectToDictionary(in any) any {
	if in == nil {
		return nil
	}

	v := reflect.ValueOf(in)
	kind := v.Kind()
	if kind == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
		kind = v.Kind()
	}

	if kind == reflect.Slice {
		result := make([]any, 0)

		for i := 0; i < v.Len(); i++ {
			result = append(result, convertObjectToDictionary(v.Index(i).Interface()))
		}

		return result
	} else if kind == reflect.Map {
		result := make(map[string]any)

		for _, k := range v.MapKeys() {
			value := v.MapIndex(k).Interface()
			result[k.String()] = convertObjectToDictionary(value)
		}

		return result
	} else if kind != reflect.Struct {
		return v.Interface()
	} else if marshaler, ok := v.Interface().(json.Marshaler); ok {
		return marshaler
	}

	out := make(map[string]any)

	typ := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fi := typ.Field(i)
		if !fi.IsExported() {
			continue
		}

		if tagv := fi.Tag.Get("json"); tagv != "" {
			name, options, _ := strings.Cut(tagv, ",")
			if name == "-" {
				continue
			}
			if options == "omitempty" && v.Field(i).IsZero() {
				continue
			}
			if sensitiveValue := fi.Tag.Get("convergence_sensitive"); sensitiveValue == "true" {
				out[name] = "***********"
			} else {
				out[name] = convertObjectToDictionary(v.Field(i).Interface())
			}
		}
	}
	return out
}

// Warnings go to the console, the rest only at debug level because the
// report already tells the operator what happened.
func addLogEntry(r *MigrationRun, level string, message string, arguments ...any) {
	entry := LogEntry{
		Timestamp:      UtcNow().UnixMilli(),
		Level:          level,
		Message:        message,
		Arguments:      arguments,
		NamedArguments: nil,
		Type:           "log_entry",
	}

	r.LogEntries = append(r.LogEntries, entry)

	logger := r.logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if len(arguments) > 0 {
		logger = logger.WithField("arguments", formatLogArguments(arguments))
	}

	if level == "warning" {
		logger.Warn(message)
	} else {
		logger.Debug(message)
	}
}

func formatLogArguments(arguments []any) string {
	parts := []string{}
	for _, argument := range arguments {
		if text, ok := argument.(string); ok {
			if text != "" {
				parts = append(parts, strconv.Quote(text))
			}
		} else {
			parts = append(parts, fmt.Sprint(argument))
		}
	}

	return strings.Join(parts, " ")
}
