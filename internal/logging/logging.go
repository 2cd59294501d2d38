// Package logging builds the single zerolog.Logger shared by every
// component of the daemon, the way acacia/cartographus/warren wire zerolog
// once at startup and pass it down instead of reaching for a package-level
// global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-friendly logger at the given level name
// (trace/debug/info/warn/error/fatal as in record.Level, plus panic). An
// unrecognized level falls back to info.
func New(levelName string, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
