// Package logger provides structured logging for bearer.
//
// It wraps logrus to provide:
//   - Structured logging with JSON and text output
//   - Configurable log levels (debug, info, warn, error)
//   - Key/value convenience methods and flow/client context fields
//
// Token values must never be passed to the logger; log client names, URLs
// and expiry instants instead.
//
// Example usage:
//
//	log, err := logger.New("info", "text")
//	if err != nil {
//		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
//	}
//	log.WithClient("github").Info("Refreshing access token")
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with convenience methods
type Logger struct {
	*logrus.Logger
}

// New creates a new logger writing to stderr with the specified level and format
func New(level, format string) (*Logger, error) {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a new logger with custom output writer
func NewWithWriter(level, format string, out io.Writer) (*Logger, error) {
	log := logrus.New()

	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	log.SetLevel(parsedLevel)
	log.SetOutput(out)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", format)
	}

	return &Logger{log}, nil
}

// Nop returns a logger that discards everything. Library entry points use it
// when the caller passes a nil logger.
func Nop() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return &Logger{log}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// WithFlowID returns a logger entry tagged with a callback flow ID
func (l *Logger) WithFlowID(flowID string) *logrus.Entry {
	return l.WithField("flow_id", flowID)
}

// WithClient returns a logger entry tagged with the client name
func (l *Logger) WithClient(name string) *logrus.Entry {
	return l.WithField("client", name)
}

// WithError returns a logger entry with error context
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithField("error", err.Error())
}

// Info logs an info level message
func (l *Logger) Info(msg string, fields ...interface{}) {
	if len(fields) > 0 {
		l.Logger.WithFields(toFields(fields)).Info(msg)
	} else {
		l.Logger.Info(msg)
	}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, fields ...interface{}) {
	if len(fields) > 0 {
		l.Logger.WithFields(toFields(fields)).Debug(msg)
	} else {
		l.Logger.Debug(msg)
	}
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, fields ...interface{}) {
	if len(fields) > 0 {
		l.Logger.WithFields(toFields(fields)).Warn(msg)
	} else {
		l.Logger.Warn(msg)
	}
}

// Error logs an error level message
func (l *Logger) Error(msg string, fields ...interface{}) {
	if len(fields) > 0 {
		l.Logger.WithFields(toFields(fields)).Error(msg)
	} else {
		l.Logger.Error(msg)
	}
}

// toFields converts variadic key-value pairs to logrus.Fields
func toFields(args []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(args)-1; i += 2 {
		key := fmt.Sprintf("%v", args[i])
		fields[key] = args[i+1]
	}
	return fields
}
