package shared

import (
	"io"
	"log/slog"
)

// NewLogger builds the process logger from cfg. attrs are attached to
// every record, typically rank and run_id.
func NewLogger(w io.Writer, cfg Config, attrs ...any) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With(attrs...)
}
