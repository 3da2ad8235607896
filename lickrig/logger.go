package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/itohio/lickrig/pkg/config"
)

// newLogger builds the process logger from the logging section. main passes
// stderr because stdout may carry the command channel.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "error":
		level = slog.LevelError
	case "warn", "warning":
		level = slog.LevelWarn
	case "info", "":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("logging: unknown level %q (want error, warn, info or debug)", cfg.Level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
