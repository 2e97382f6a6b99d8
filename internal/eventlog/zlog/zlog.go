// Package zlog provides an eventlog.Sink that relays entries to a zerolog
// logger, so backend output shows up in the host's own log stream.
package zlog

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/mbrock/sidecar/internal/eventlog"
)

// Sink writes each entry as one zerolog event.
type Sink struct {
	log zerolog.Logger
}

var _ eventlog.Sink = (*Sink)(nil)

// New creates a sink. The logger's writer must be safe for concurrent use;
// logging.New wraps it accordingly.
func New(log zerolog.Logger) *Sink {
	return &Sink{log: log}
}

// Write logs message with fields converted to lower-case keys
// (SIDECAR_STREAM becomes stream).
func (s *Sink) Write(message string, fields map[string]string) error {
	var ev *zerolog.Event
	switch eventlog.SeverityOf(fields) {
	case eventlog.SeverityError:
		ev = s.log.Error()
	case eventlog.SeverityWarning:
		ev = s.log.Warn()
	default:
		ev = s.log.Info()
	}
	for k, v := range fields {
		ev = ev.Str(Key(k), v)
	}
	ev.Msg(message)
	return nil
}

// Close is a no-op; the logger outlives the sink.
func (s *Sink) Close() error { return nil }

// Key converts a journal-style field name into a log key.
func Key(field string) string {
	return strings.ToLower(strings.TrimPrefix(field, "SIDECAR_"))
}
