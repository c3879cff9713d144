package lib

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type RotatingFileWriter struct {
	logFilePathValidUntil int64
	logFile               *os.File
	Folder                string
	Pattern               string
	now                   func() time.Time
}

// RotateLogFile opens the file for the current ten minute window, {TIME} in
// the pattern becomes the window start as YYYYMMDDHHM0.
func (r *RotatingFileWriter) RotateLogFile() error {
	if r.logFile != nil {
		_ = r.logFile.Close()
		r.logFile = nil
	}
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	nowMS := now.UnixMilli()
	tenMinutesMS := int64(10 * 60 * 1000)
	fromMS := (nowMS / tenMinutesMS) * tenMinutesMS
	untilMS := fromMS + tenMinutesMS

	from := time.UnixMilli(fromMS).UTC()

	originalUtcIsoDate := from.Format(time.RFC3339)
	filePostfix := originalUtcIsoDate[0:15] + "0"
	filePostfix = strings.Replace(filePostfix, ":", "", -1)
	filePostfix = strings.Replace(filePostfix, "T", "", -1)
	filePostfix = strings.Replace(filePostfix, "-", "", -1)

	path := filepath.Join(r.Folder, strings.Replace(r.Pattern, "{TIME}", filePostfix, -1))
	logFile, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	r.logFile = logFile

	header := os.Getenv("CONVERGENCE_LOG_FILE_HEADER")
	host, _ := os.Hostname()
	_, _ = r.logFile.Write([]byte("------------------------------------------------------------"))
	if header != "" {
		_, _ = r.logFile.Write([]byte("\nHeader: " + header))
	}
	_, _ = r.logFile.Write([]byte("\nHost: " + host))
	_, _ = r.logFile.Write([]byte("\nRunner: " + LIBRARY_VERSION + " (" + LIBRARY_VERSION_HASH + ")"))

	_, _ = r.logFile.Write([]byte("\n------------------------------------------------------------\n\n\n"))
	r.logFilePathValidUntil = untilMS
	return nil
}

func (r *RotatingFileWriter) Write(p []byte) (n int, err error) {
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	if r.logFile == nil || now.UnixMilli() >= r.logFilePathValidUntil {
		if err := r.RotateLogFile(); err != nil {
			return 0, err
		}
	}

	return r.logFile.Write(p)
}

func (r *RotatingFileWriter) Close() error {
	if r.logFile != nil {
		return r.logFile.Close()
	}

	return nil
}

// InitiateLogFileMirroring returns a writer that copies everything written to
// out into rotating files in the observability folder, and the function
// closing those files.
func InitiateLogFileMirroring(out io.Writer, observability ObservabilityConfiguration) (io.Writer, func(), error) {
	if err := os.MkdirAll(observability.Path, 0750); err != nil {
		return nil, nil, err
	}

	rotatingFileWriter := &RotatingFileWriter{
		Folder:  observability.Path,
		Pattern: observability.LogFile.Pattern,
	}
	if err := rotatingFileWriter.RotateLogFile(); err != nil {
		return nil, nil, err
	}

	return io.MultiWriter(out, rotatingFileWriter), func() {
		_ = rotatingFileWriter.Close()
	}, nil
}
