// Package monitoring provides structured logging and Prometheus metrics
// shared across every duelcore component.
package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig configures the process-wide logger.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// NewLogger builds a zerolog.Logger configured for structured output.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().Timestamp().Str("service", "duelcore").Logger()
}

// RecoverPanic recovers a panic in a goroutine, logs it with a stack
// trace, and swallows it so that one misbehaving handler never takes
// the whole process down.
func RecoverPanic(logger zerolog.Logger, where string, fields map[string]any) {
	if r := recover(); r != nil {
		ev := logger.Error().
			Str("component", where).
			Interface("panic", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			ev = ev.Interface(k, v)
		}
		ev.Msg("recovered panic")
	}
}
