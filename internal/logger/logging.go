// Package logger builds the charmbracelet/log loggers used across ctxserve.
// Everything goes to stderr since stdout carries the msgpack IPC stream.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a charm logger on stderr that follows the global log level.
func New(prefix string) *log.Logger {
	return NewWithConfig(os.Stderr, prefix, log.GetLevel(), false, true, log.TextFormatter)
}

// NewWithConfig creates a charm logger with custom config
func NewWithConfig(w io.Writer, prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: showTimestamp,
		Formatter:       fmt,
	})
}

// Setup replaces the default logger. debug lowers the level and adds
// callers. json switches to the JSON formatter for log collectors.
func Setup(debug, json bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	formatter := log.TextFormatter
	if json {
		formatter = log.JSONFormatter
	}
	log.SetDefault(NewWithConfig(os.Stderr, "", level, debug, true, formatter))
}
