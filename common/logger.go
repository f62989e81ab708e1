package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

type ILogger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string)
	Panic(err error)
}

type ILoggerCloser interface {
	ILogger
	CloseLog()
}

// jobLogger writes to a log file and mirrors warnings and errors to stderr.
type jobLogger struct {
	minimumLevelToLog LogLevel
	file              *os.File
	logger            *log.Logger
	sanitizer         LogSanitizer
	mu                sync.Mutex
}

// NewJobLogger creates a logger writing to logFile (stderr-only when logFile
// is empty) at the given minimum level.
func NewJobLogger(logFile string, minimumLevelToLog LogLevel) (ILoggerCloser, error) {
	j := &jobLogger{
		minimumLevelToLog: minimumLevelToLog,
		sanitizer:         NewQueryStringSanitizer(),
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		j.file = f
		w = io.MultiWriter(f, os.Stderr)
	}

	j.logger = log.New(w, "", log.LstdFlags|log.LUTC)
	j.logger.Printf("Log level: %s. fresco-etl %s, %s/%s, go %s",
		minimumLevelToLog, FrescoEtlVersion, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return j, nil
}

func (j *jobLogger) ShouldLog(level LogLevel) bool {
	if level == ELogLevel.None() {
		return false
	}
	return level <= j.minimumLevelToLog
}

func (j *jobLogger) Log(level LogLevel, msg string) {
	if !j.ShouldLog(level) {
		return
	}
	msg = j.sanitizer.SanitizeLogMessage(msg)
	prefix := ""
	if level <= ELogLevel.Warning() {
		// so readers can find serious entries, but info ones stay uncluttered
		prefix = fmt.Sprintf("%s: ", level)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger.Print(prefix + msg)
}

func (j *jobLogger) Panic(err error) {
	j.Log(ELogLevel.Error(), err.Error())
	panic(err)
}

func (j *jobLogger) CloseLog() {
	if j.file == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.file.Sync()
	_ = j.file.Close()
	j.file = nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// nopLogger discards everything. Useful default for library consumers and tests.
type nopLogger struct{}

func NewNopLogger() ILoggerCloser { return nopLogger{} }

func (nopLogger) ShouldLog(LogLevel) bool  { return false }
func (nopLogger) Log(LogLevel, string)     {}
func (nopLogger) Panic(err error)          { panic(err) }
func (nopLogger) CloseLog()                {}

// Lifecycle helpers used where a nil logger may be passed around.
func LoggerOrNop(l ILoggerCloser) ILoggerCloser {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

func Logf(l ILogger, level LogLevel, format string, args ...any) {
	if l != nil && l.ShouldLog(level) {
		l.Log(level, fmt.Sprintf(format, args...))
	}
}

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}
