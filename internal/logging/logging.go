// Package logging builds the structured loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format string
	// File enables size-based rotation through lumberjack when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New creates a [log.Logger] with timestamps and caller reporting enabled.
//
// Output defaults to [os.Stderr]; a rotated file is used when opts.File is set.
func New(w io.Writer, opts Options) *log.Logger {
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			Compress:   true,
		}
	}
	if w == nil {
		w = os.Stderr
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		Formatter:       formatter(opts.Format),
	})
	if lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level))); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// Discard returns a logger that drops everything. Used when callers pass nil.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Component returns a child logger tagged with the component name.
func Component(l *log.Logger, name string) *log.Logger {
	return OrDiscard(l).With("component", name)
}

func formatter(name string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
