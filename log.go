package luacord

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Log Contexts: structured field keys shared across every component's
// logger.
const (
	LogCtxClient   = "client"
	LogCtxRequest  = "request"
	LogCtxRoute    = "route"
	LogCtxBucket   = "bucket"
	LogCtxSession  = "session"
	LogCtxPayload  = "payload"
	LogCtxEvent    = "event"
	LogCtxCommand  = "command"
)

// LoggingConfig controls the destination and verbosity of the
// package-level logger.
type LoggingConfig struct {
	Level zerolog.Level

	// File, when non-empty, routes log output through a rotating
	// lumberjack.Logger instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLoggingConfig logs at info level to stderr.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: zerolog.InfoLevel}
}

// NewLogger builds a zerolog.Logger from cfg.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var w = os.Stderr

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    nonZero(cfg.MaxSizeMB, 50),
			MaxBackups: nonZero(cfg.MaxBackups, 3),
			MaxAge:     nonZero(cfg.MaxAgeDays, 28),
		}

		return zerolog.New(lj).Level(cfg.Level).With().Timestamp().Logger()
	}

	return zerolog.New(w).Level(cfg.Level).With().Timestamp().Logger()
}

func nonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}

	return v
}
