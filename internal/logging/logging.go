// Package logging configures the process-wide zerolog logger, following
// the console-writer setup used across the teacher corpus's cmd/ entry
// points (e.g. helixml-helix's cmd/hydra).
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a console logger at the given level ("debug", "info",
// "warn", "error"). An unparsable level falls back to info rather than
// failing startup over a typo'd flag.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}
