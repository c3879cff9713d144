package lib

import (
	"fmt"
	"github.com/fatih/color"
	"io"
	"strings"
	"time"
)

const BATCH_NAME_WIDTH = 60

const (
	BATCH_STATUS_SUCCESS         = "SUCCESS"
	BATCH_STATUS_FAILED          = "FAILED"
	BATCH_STATUS_SKIPPED         = "SKIPPED"
	BATCH_STATUS_ALREADY_APPLIED = "ALREADY_APPLIED"
	BATCH_STATUS_DRY_RUN         = "DRY_RUN"
)

// MigrationReporter writes the operator facing report. Colour is only used
// when Color is set, which defaults to whether stdout is a terminal.
type MigrationReporter struct {
	Out   io.Writer
	Color bool
}

func NewMigrationReporter(out io.Writer) *MigrationReporter {
	return &MigrationReporter{Out: out, Color: !color.NoColor}
}

func (r *MigrationReporter) paint(attribute color.Attribute, text string) string {
	c := color.New(attribute)
	if r.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(text)
}

func (r *MigrationReporter) println(parts ...string) {
	_, _ = fmt.Fprintln(r.Out, strings.Join(parts, ""))
}

func (r *MigrationReporter) RunHeader(run *MigrationRun, file *MigrationFile) {
	r.println("🚀 Migration ", r.paint(color.Bold, file.Name), " (", run.RunIdentifier, ")")
	r.println("   File:       ", file.Path)
	r.println("   Target:     ", fmt.Sprintf("%s@%s:%d/%s (%s)", run.Connection.Username, run.Connection.Host, run.Connection.Port, run.Connection.Database, run.Connection.Driver))
	r.println("   Statements: ", fmt.Sprintf("%d to execute, %d inline verification", len(file.Body), len(file.InlineVerification)))
	r.println("   Checksum:   ", file.Checksum)

	modes := []string{}
	if run.DryRun {
		modes = append(modes, "dry run")
	}
	if run.Forced {
		modes = append(modes, "forced")
	}
	if len(modes) > 0 {
		r.println("   Mode:       ", r.paint(color.FgYellow, strings.Join(modes, ", ")))
	}
	r.println()
}

func (r *MigrationReporter) AlreadyApplied(applied AppliedMigration) {
	r.println("⏭️  Already applied on ", applied.AppliedTimestamp.UTC().Format(time.RFC3339), " by ", applied.RunIdentifier, ", skipping execution")
}

func (r *MigrationReporter) BackupWritten(files []string) {
	for _, file := range files {
		r.println("💾 Backup written to ", file)
	}
}

func (r *MigrationReporter) Statement(result StatementResult) {
	status := r.paint(color.FgGreen, "[  OK  ]")
	if result.Status == STATEMENT_STATUS_FAILED {
		status = r.paint(color.FgRed, "[FAILED]")
	}

	rows := ""
	if result.RowsAffected >= 0 {
		rows = fmt.Sprintf("rows: %d, ", result.RowsAffected)
	}

	r.println("   ", status, " ", pad(fmt.Sprintf("#%d (line %d)", result.Index, result.Line), 16), result.Summary,
		" (", rows, formatDuration(time.Duration(result.DurationMS)*time.Millisecond), ")")
	if result.Error != "" {
		r.println("            ", r.paint(color.FgRed, result.Error))
	}
}

func (r *MigrationReporter) Committed() {
	r.println("✅ Transaction committed")
}

func (r *MigrationReporter) RolledBack(reason string) {
	r.println("↩️  Transaction rolled back: ", reason)
}

func (r *MigrationReporter) Schema(tables []TableReport) {
	if len(tables) == 0 {
		return
	}

	r.println()
	r.println("📋 Schema")
	for _, table := range tables {
		r.println("   ", r.paint(color.Bold, table.Table))
		if len(table.Columns) == 0 {
			r.println("      (table not found)")
		}
		for _, column := range table.Columns {
			nullable := "NOT NULL"
			if column.Nullable {
				nullable = "NULL"
			}

			marker := ""
			if containsString(table.AddedColumns, column.Name) {
				marker = " " + r.paint(color.FgGreen, "added")
			}
			r.println("      - ", pad(column.Name, 32), pad(column.DataType, 28), nullable, marker)
		}
		for _, index := range table.Indexes {
			r.println("      # ", index.Name)
		}
		for _, missing := range table.MissingColumns {
			r.println("      ", r.paint(color.FgRed, "missing column "+missing))
		}
		for _, missing := range table.MissingIndexes {
			r.println("      ", r.paint(color.FgRed, "missing index "+missing))
		}
	}
}

func (r *MigrationReporter) Verification(result VerificationResult) {
	r.println()
	r.println("🔎 ", result.Query, r.paint(color.FgHiBlack, " ("+result.Source+")"))
	if result.Error != "" {
		r.println("   ", r.paint(color.FgRed, "failed: "+result.Error))
		return
	}

	if len(result.Columns) > 0 {
		r.println("   ", strings.Join(result.Columns, " | "))
		r.println("   ", strings.Repeat("-", len(strings.Join(result.Columns, " | "))))
	}
	for _, row := range result.Rows {
		values := []string{}
		for _, value := range row {
			values = append(values, formatReportValue(value))
		}
		r.println("   ", strings.Join(values, " | "))
	}

	if result.RowCount > len(result.Rows) {
		r.println("   ", fmt.Sprintf("(%d rows, showing first %d)", result.RowCount, len(result.Rows)))
	} else {
		r.println("   ", fmt.Sprintf("(%d rows)", result.RowCount))
	}
}

// Outcome prints the final statistics of a run.
func (r *MigrationReporter) Outcome(run *MigrationRun) {
	stats := fmt.Sprintf("%d statement(s) executed, %d row(s) affected, %s", run.StatementsExecuted(), run.RowsAffected(), formatDuration(run.Duration()))

	r.println()
	switch run.Status {
	case RUN_STATUS_APPLIED:
		r.println("🎉 ", r.paint(color.FgGreen, "Migration "+run.MigrationName+" applied"), ": ", stats)
	case RUN_STATUS_ALREADY_APPLIED:
		r.println("🎉 ", r.paint(color.FgGreen, "Migration "+run.MigrationName+" was already applied"), ": ", stats)
	case RUN_STATUS_DRY_RUN:
		r.println("🧪 ", r.paint(color.FgYellow, "Dry run of "+run.MigrationName+" finished, nothing was committed"), ": ", stats)
	case RUN_STATUS_VERIFICATION_FAILED:
		r.println("⚠️  ", r.paint(color.FgRed, "Migration "+run.MigrationName+" committed but verification failed"), ": ", stats)
	default:
		r.println("💥 ", r.paint(color.FgRed, "Migration "+run.MigrationName+" failed"), ": ", stats)
	}
}

func (r *MigrationReporter) BatchHeader(count int) {
	r.println("Starting to apply ", fmt.Sprint(count), " database migration(s):")
}

func (r *MigrationReporter) BatchLine(migrationName string, status string) {
	attribute := color.FgGreen
	switch status {
	case BATCH_STATUS_FAILED:
		attribute = color.FgRed
	case BATCH_STATUS_SKIPPED, BATCH_STATUS_DRY_RUN:
		attribute = color.FgYellow
	case BATCH_STATUS_ALREADY_APPLIED:
		attribute = color.FgCyan
	}

	r.println("   - ", pad(migrationName+":", BATCH_NAME_WIDTH), r.paint(attribute, "[ "+status+" ]"))
}

func (r *MigrationReporter) RunRecordSaved(filePath string) {
	r.println("🗂️  Run record saved to ", filePath)
}

func pad(s string, length int) string {
	for len(s) < length {
		s = s + " "
	}

	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	return d.Round(10 * time.Millisecond).String()
}

func formatReportValue(value any) string {
	switch casted := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(casted)
	case time.Time:
		return casted.Format(time.RFC3339)
	}

	return fmt.Sprint(value)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}

	return false
}
