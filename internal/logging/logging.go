// Package logging sets up the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger writing human-readable output when pretty is true
// (local development) and newline-delimited JSON otherwise (production).
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w = os.Stdout
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(w)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
