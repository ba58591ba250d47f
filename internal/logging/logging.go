// Package logging constructs the process-wide structured logger. There is
// no global logger mutation: New returns a zerolog.Logger that callers thread
// through explicitly, the way the rest of this codebase passes dependencies.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr in production).
// When w is a TTY, output is human-readable console text; otherwise it is
// newline-delimited JSON suitable for log aggregation.
func New(w io.Writer, level string, debug bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}

	var out io.Writer = w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Adapter wraps a zerolog.Logger to satisfy the narrow Warnf/Infof interfaces
// that internal/state and internal/ruleconfig accept, so those packages stay
// decoupled from the logging library in use.
type Adapter struct {
	Log zerolog.Logger
}

func (a Adapter) Warnf(format string, args ...any) {
	a.Log.Warn().Msgf(format, args...)
}

func (a Adapter) Infof(format string, args ...any) {
	a.Log.Info().Msgf(format, args...)
}
