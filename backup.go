package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const BACKUP_TIMESTAMP_FORMAT = "20060102_150405"

type TableBackup struct {
	Folder string
	Tables []string
}

type BackupDocument struct {
	Table     string           `json:"table"`
	Timestamp string           `json:"timestamp"`
	RowCount  int              `json:"row_count"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
}

// Backup dumps every configured table as JSON before the migration changes
// anything. It reads through q, which is the migration transaction, so the
// dump matches exactly what the migration starts from.
func (b *TableBackup) Backup(ctx context.Context, q Querier, now time.Time) ([]string, error) {
	if len(b.Tables) == 0 {
		return []string{}, nil
	}

	if err := os.MkdirAll(b.Folder, 0750); err != nil {
		return nil, err
	}

	files := []string{}
	timestamp := now.Format(BACKUP_TIMESTAMP_FORMAT)
	for _, table := range b.Tables {
		document, err := dumpTable(ctx, q, table)
		if err != nil {
			return files, fmt.Errorf("backup of %s: %w", table, err)
		}
		document.Timestamp = now.Format(time.RFC3339)

		content, err := json.MarshalIndent(document, "", "  ")
		if err != nil {
			return files, fmt.Errorf("backup of %s: %w", table, err)
		}

		fileName := strings.Replace(table, ".", "_", -1) + "_backup_" + timestamp + ".json"
		filePath := filepath.Join(b.Folder, fileName)
		if err := os.WriteFile(filePath, content, 0600); err != nil {
			return files, fmt.Errorf("backup of %s: %w", table, err)
		}
		files = append(files, filePath)
	}

	return files, nil
}

func dumpTable(ctx context.Context, q Querier, table string) (*BackupDocument, error) {
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+QuoteQualifiedIdentifier(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &BackupDocument{Table: table, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := scanRowValues(rows, len(columns))
		if err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRowValues scans a row into JSON friendly values, text columns arrive
// from the drivers as []byte and are turned back into strings.
func scanRowValues(rows rowScanner, count int) ([]any, error) {
	values := make([]any, count)
	pointers := make([]any, count)
	for i := range values {
		pointers[i] = &values[i]
	}

	if err := rows.Scan(pointers...); err != nil {
		return nil, err
	}

	for i, value := range values {
		if bytes, ok := value.([]byte); ok {
			values[i] = string(bytes)
		}
	}

	return values, nil
}
