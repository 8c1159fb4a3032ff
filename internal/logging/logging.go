// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Options mirrors the log section of the config file.
type Options struct {
	Level  string
	Format string
	// File receives the log instead of stderr when set.
	File string
}

// ParseLevel maps a level name onto slog levels. Verbose logr calls
// (V(n)) sit at -n, so "debug" enables V(1) through V(4).
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return slog.Level(-8), nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// New returns a logger writing to w. The returned closer releases a log
// file opened for Options.File and is never nil.
func New(opts Options, w io.Writer) (logr.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), nopCloser{}, err
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return logr.Discard(), closer, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return logr.Discard(), closer, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch opts.Format {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		_ = closer.Close()
		return logr.Discard(), nopCloser{}, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return logr.FromSlogHandler(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
