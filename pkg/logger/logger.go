// Package logger configures the zerolog root logger shared by all Ingot
// components. Components derive their own sub-loggers from the root via
// .With().Str("component"|"service"|"client", ...).
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level  string // any zerolog level name (debug, info, warn, error, ...)
	Pretty bool   // Enable pretty console output
}

// New creates the root structured logger. An unknown level string falls
// back to info rather than silencing the server.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	// Duration fields are logged as Dur("duration_ms", ...) throughout.
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Pretty {
		// Caller info is a dev-mode aid; production output stays lean.
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
