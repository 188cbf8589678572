// Package logging builds the zerolog logger shared by every command.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr. pretty selects the console writer,
// otherwise one JSON object per line. An unknown level falls back to info and
// is reported through the returned logger.
func New(level string, pretty bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	if err != nil && level != "" {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
	}
	return log
}
