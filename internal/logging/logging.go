// Package logging builds the host's operator logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New returns a logger writing to w at the named level. Format "console"
// writes human-readable lines, "json" writes one JSON object per line, and
// "auto" picks console when w is a terminal.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
	}

	var out io.Writer
	switch format {
	case "", "auto":
		if isTerminal(w) {
			out = console(w)
		} else {
			out = zerolog.SyncWriter(w)
		}
	case "console":
		out = console(w)
	case "json":
		out = zerolog.SyncWriter(w)
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(w),
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
