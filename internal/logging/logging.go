package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
)

const (
	rotateThresholdKB = 10 * 1024
	maxRolls          = 30
)

// ParseLevel accepts "debug", "info", "warn", "error" (case-insensitive).
// Defaults to info if the level string is unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates a configured *slog.Logger, sets it as the default, and returns it
// together with a closer for the log file. When logFile is empty only stderr
// is written and the closer is a no-op.
func Setup(level, logFile string) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if logFile != "" {
		r, err := newRotator(logFile)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stderr, r)
		closer = r
	}

	logger := New(out, level)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New builds a text logger writing to w.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

func newRotator(logFile string) (*rotator.Rotator, error) {
	dir, _ := filepath.Split(logFile)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, rotateThresholdKB, false, maxRolls)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	return r, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
