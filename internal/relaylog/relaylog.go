// Package relaylog configures the zerolog sink used for every structured
// log line the relay emits. It deliberately does not own the
// continuously-overwritten status line (see internal/relay/status.go),
// which writes raw carriage returns and must not be mixed with structured
// log output.
package relaylog

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New returns a logger writing to stdout at the given level. Pretty
// console formatting is used automatically when stdout is a terminal;
// otherwise lines are written as JSON, suitable for log collection.
func New(level zerolog.Level) zerolog.Logger {
	var w zerolog.ConsoleWriter
	if isatty.IsTerminal(os.Stdout.Fd()) {
		w = zerolog.NewConsoleWriter()
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
