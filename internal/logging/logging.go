// Package logging builds the root log/slog.Logger cmd/memory-daemon
// wires into every component, following the teacher's own plain
// log/slog usage (no wrapper library): a text handler for interactive
// use, a JSON handler for production, and component-tagged child
// loggers via With("component", name) so a single log stream can be
// filtered per package.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// New builds a root logger writing to w at the given level ("debug",
// "info", "warn", "error") in the given format ("text" or "json").
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q (want \"text\" or \"json\")", format)
	}
	return slog.New(handler), nil
}

// Component returns a child logger tagged with "component", the
// convention every internal package's New(...) constructor expects
// for its own *slog.Logger argument.
func Component(root *slog.Logger, name string) *slog.Logger {
	if root == nil {
		root = slog.New(slog.DiscardHandler)
	}
	return root.With("component", name)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q (want debug, info, warn, or error)", level)
	}
}
