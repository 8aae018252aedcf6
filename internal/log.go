package internal

import (
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// Logger provides leveled logging
type Logger struct {
	level  LogLevel
	prefix string
	out    *log.Logger
}

// NewLogger creates a new logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return &Logger{level: level, out: log.Default()}
}

// NewDefaultLogger creates a logger based on the COSMOPIPE_LOG_LEVEL (or LOG_LEVEL)
// environment variable
func NewDefaultLogger() *Logger {
	levelStr := os.Getenv("COSMOPIPE_LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	return NewLogger(ParseLevel(levelStr, LogLevelInfo))
}

// ParseLevel maps a level name to a LogLevel, returning def for unknown names
func ParseLevel(name string, def LogLevel) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return LogLevelError
	case "WARN":
		return LogLevelWarn
	case "INFO":
		return LogLevelInfo
	case "DEBUG":
		return LogLevelDebug
	case "TRACE":
		return LogLevelTrace
	}
	return def
}

// WithPrefix returns a copy of the logger that prepends prefix to every message.
// Used to tag lines with a pipeline id code.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{level: l.level, prefix: l.prefix + prefix, out: l.out}
}

// WithWriter returns a copy of the logger writing to w
func (l *Logger) WithWriter(w io.Writer) *Logger {
	return &Logger{level: l.level, prefix: l.prefix, out: log.New(w, "", log.LstdFlags)}
}

// Writer returns the underlying destination
func (l *Logger) Writer() io.Writer {
	return l.out.Writer()
}

func (l *Logger) emit(tag string, format string, args ...interface{}) {
	l.out.Printf(tag+l.prefix+format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.emit("[ERROR] ", format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogLevelWarn {
		l.emit("[WARN] ", format, args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.emit("[INFO] ", format, args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.emit("[DEBUG] ", format, args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LogLevelTrace {
		l.emit("[TRACE] ", format, args...)
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// Discard is a logger that drops everything, handy in tests
var Discard = &Logger{level: LogLevelError - 1, out: log.New(io.Discard, "", 0)}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
