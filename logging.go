package lib

import (
	"bytes"
	"fmt"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"sort"
	"strings"
)

var levelEmoji = map[log.Level]string{
	log.PanicLevel: "💥",
	log.FatalLevel: "💥",
	log.ErrorLevel: "❌",
	log.WarnLevel:  "⚠️",
	log.InfoLevel:  "🔹",
	log.DebugLevel: "🔍",
	log.TraceLevel: "🔬",
}

// OperatorFormatter prints one human readable line per entry: an emoji for
// the level, the message, then the fields as sorted key=value pairs.
type OperatorFormatter struct {
	ShowTimestamp bool
}

func (f *OperatorFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(levelEmoji[entry.Level])
	b.WriteString(" ")
	if f.ShowTimestamp {
		b.WriteString(entry.Time.UTC().Format("15:04:05.000"))
		b.WriteString(" ")
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fmt.Sprint(entry.Data[key])
		if strings.ContainsAny(value, " \t\n\"") {
			value = fmt.Sprintf("%q", value)
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(value)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// ConfigureLogging points logrus at stdout, mirrored into rotating files when
// enabled. The returned writer is where the report should go and the
// function closes the log files.
func ConfigureLogging(observability ObservabilityConfiguration, debug bool) (io.Writer, func(), error) {
	level := log.InfoLevel
	if observability.LogLevel != "" {
		parsed, err := log.ParseLevel(observability.LogLevel)
		if err != nil {
			return nil, nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "Unknown log level "+observability.LogLevel, err)
		}
		level = parsed
	}
	if debug {
		level = log.DebugLevel
	}

	var out io.Writer = os.Stdout
	closer := func() {}
	if observability.LogFile.Enabled {
		mirrored, closeFiles, err := InitiateLogFileMirroring(out, observability)
		if err != nil {
			return nil, nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "Unable to open the log file in "+observability.Path, err)
		}
		out = mirrored
		closer = closeFiles
	}

	log.SetLevel(level)
	log.SetFormatter(&OperatorFormatter{ShowTimestamp: debug})
	log.SetOutput(out)

	return out, closer, nil
}
