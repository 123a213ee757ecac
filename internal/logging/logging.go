// Package logging builds the application logger with an optional file
// sink shared by the CLI and the TUI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// Options configures the logger.
type Options struct {
	Level   string    // "debug", "info", "warn", "error"; default info
	File    string    // Optional log file, appended to
	Output  io.Writer // Primary sink; default os.Stderr
	NoColor bool
}

// Logger bundles the hclog logger with the file handle it may own.
type Logger struct {
	hclog.Logger
	file *os.File
}

// New creates the application logger. When opts.File is set, log lines go
// to both the primary output and the file.
func New(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		out = io.MultiWriter(out, f)
	}

	l.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "smartremux",
		Output: out,
		Level:  hclog.LevelFromString(levelOrDefault(opts.Level)),
		Color:  colorMode(opts),
	})
	return l, nil
}

// Discard returns a logger that drops everything. Used in tests and as a
// safe default for optional dependencies.
func Discard() *Logger {
	return &Logger{Logger: hclog.NewNullLogger()}
}

// Close releases the file sink if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func colorMode(opts Options) hclog.ColorOption {
	if opts.NoColor || opts.File != "" {
		return hclog.ColorOff
	}
	return hclog.AutoColor
}
