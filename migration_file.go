package lib

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/convergence-platform/convergence-migration-runner-for-go/sqlscript"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrEmptyMigration = errors.New("the migration has no executable statements")

// MigrationFile is a parsed migration, immutable once loaded.
type MigrationFile struct {
	Name     string
	Path     string
	Content  string
	Checksum string
	// Statements holds every statement of the file, Body the ones the runner
	// executes and InlineVerification the trailing read-only queries.
	Statements         []sqlscript.Statement
	Body               []sqlscript.Statement
	InlineVerification []sqlscript.Statement
	Changes            sqlscript.Changes
}

type FileStatementError struct {
	Statement sqlscript.Statement
	Reason    string
}

func (e *FileStatementError) Error() string {
	return fmt.Sprintf("statement %d (line %d) %s: %s", e.Statement.Index, e.Statement.Line, e.Reason, e.Statement.Summary(80))
}

func ReadMigrationFile(filePath string) (*MigrationFile, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return ParseMigrationFile(MigrationNameFromPath(filePath), filePath, content)
}

func ReadMigrationFileFS(fsys fs.FS, filePath string) (*MigrationFile, error) {
	content, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, err
	}

	return ParseMigrationFile(MigrationNameFromPath(filePath), filePath, content)
}

// ParseMigrationFile splits the file and keeps the statements the runner
// executes. BEGIN/COMMIT in the file are dropped because the runner opens its
// own transaction. The maximal run of read-only queries at the end of the file
// becomes inline verification, unless the file leaves a BEGIN open before it:
// queries inside the file's own transaction block stay in the body.
func ParseMigrationFile(name string, filePath string, content []byte) (*MigrationFile, error) {
	content = trimByteOrderMark(content)
	if !utf8.Valid(content) {
		return nil, errors.New("the migration file is not valid UTF-8")
	}

	text := string(content)
	statements, err := sqlscript.Split(text)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	result := &MigrationFile{
		Name:               name,
		Path:               filePath,
		Content:            text,
		Checksum:           hex.EncodeToString(sum[:]),
		Statements:         statements,
		Body:               []sqlscript.Statement{},
		InlineVerification: []sqlscript.Statement{},
	}

	trailing := len(statements)
	for trailing > 0 && statements[trailing-1].Kind == sqlscript.KindQuery {
		trailing--
	}
	if insideTransactionBlock(statements[:trailing]) {
		trailing = len(statements)
	}
	result.InlineVerification = append(result.InlineVerification, statements[trailing:]...)

	for _, statement := range statements[:trailing] {
		if statement.IsTransactionBoundary() {
			continue
		}
		if !statement.Transactional() {
			return nil, &FileStatementError{Statement: statement, Reason: "cannot run inside a transaction"}
		}
		result.Body = append(result.Body, statement)
	}

	if len(result.Body) == 0 {
		return nil, ErrEmptyMigration
	}

	result.Changes = sqlscript.DeclaredChanges(result.Body)
	return result, nil
}

// insideTransactionBlock reports whether statements end with a BEGIN that no
// COMMIT or END has closed.
func insideTransactionBlock(statements []sqlscript.Statement) bool {
	open := false
	for _, statement := range statements {
		if !statement.IsTransactionBoundary() {
			continue
		}
		switch statement.Keyword() {
		case "BEGIN", "START":
			open = true
		default:
			open = false
		}
	}

	return open
}

// MigrationNameFromPath is the file name without directory and .sql extension.
func MigrationNameFromPath(filePath string) string {
	return strings.TrimSuffix(filepath.Base(filePath), ".sql")
}

func trimByteOrderMark(content []byte) []byte {
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:]
	}

	return content
}

func (f *MigrationFile) InlineVerificationQueries() []string {
	result := []string{}
	for _, statement := range f.InlineVerification {
		result = append(result, statement.Text)
	}

	return result
}
