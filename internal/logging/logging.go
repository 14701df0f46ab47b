// Package logging builds the structured logger shared by every ciabot
// component. Components derive their own logger with WithPrefix so log lines
// carry a component tag ("settings", "bot", "commands", ...).
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures the logger.
type Options struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format selects the line format: "text" (default), "json" or "logfmt".
	Format string
	// Output is the writer for log output (default: os.Stderr).
	Output io.Writer
	// Prefix is the component name prefix.
	Prefix string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
		Prefix: "ciabot",
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func parseFormat(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// New creates a logger with the given options.
func New(opts Options) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		Formatter:       parseFormat(opts.Format),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	})
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel + 1})
}
