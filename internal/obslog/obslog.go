// Package obslog provides the structured logger every package composes
// around, following the teacher's log/slog usage in cmd/helm/main.go and
// pkg/mcp/server.go (plain key-value slog calls, no otel wiring).
package obslog

import (
	"io"
	"log/slog"
)

// New builds a text-handler logger tagged with component, writing to w.
func New(w io.Writer, component string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("component", component)
}
