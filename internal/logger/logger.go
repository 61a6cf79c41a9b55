// Package logger wraps zerolog with the service-wide defaults: RFC3339
// timestamps, service/version/environment fields on every line, and console
// output outside production.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level       string // debug | info | warn | error (default info)
	Environment string // "production" switches to JSON output
	ServiceName string
	Version     string
}

// Logger is the service logger. It embeds zerolog.Logger so call sites use
// the zerolog fluent API directly.
type Logger struct {
	zerolog.Logger
}

// New builds a configured Logger.
func New(cfg Config) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	var base zerolog.Logger
	if cfg.Environment == "production" {
		base = zerolog.New(os.Stdout)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	base = base.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Logger()

	return &Logger{Logger: base}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
