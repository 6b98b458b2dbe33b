// Package logging configures the process-wide slog logger. Output goes to
// stderr and, when a log file is configured, to that file as well.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const rootName = "rccrawler"

// Setup installs a text handler writing to w at the given level as the
// default logger.
func Setup(w io.Writer, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	return nil
}

// Open mirrors log output to stderr and the file at path. The returned
// closer releases the file.
func Open(path, level string) (io.Closer, error) {
	if path == "" {
		return io.NopCloser(nil), Setup(os.Stderr, level)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if err := Setup(io.MultiWriter(os.Stderr, f), level); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}

// For returns a logger tagged with a dotted component name under the
// rccrawler root, e.g. For("crawler.harvest").
func For(name string) *slog.Logger {
	if name == "" {
		return slog.Default().With("logger", rootName)
	}
	return slog.Default().With("logger", rootName+"."+name)
}
