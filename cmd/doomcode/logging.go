package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/doomcode/doomcode/internal/config"
)

// newLogger builds a stderr logger — the controller's stdout belongs to
// the PTY once the assistant is running. Debug-level logging turns on
// when either debug env var from the environment section is set.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.DebugSession || cfg.DebugPTY {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
