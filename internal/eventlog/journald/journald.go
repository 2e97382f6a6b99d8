// Package journald provides an eventlog.Sink that writes to systemd-journald.
package journald

import (
	"errors"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/mbrock/sidecar/internal/eventlog"
)

// DefaultIdentifier is the SYSLOG_IDENTIFIER attached to every entry.
const DefaultIdentifier = "sidecar"

// ErrUnavailable is returned by Open when no journald socket is reachable.
var ErrUnavailable = errors.New("journald is not available")

// Sink writes entries to the local journal via go-systemd/journal.
type Sink struct {
	identifier string
}

var _ eventlog.Sink = (*Sink)(nil)

// Open returns a journald sink, or ErrUnavailable when the journal socket
// cannot be reached (non-systemd hosts, containers, macOS, Windows).
func Open(identifier string) (*Sink, error) {
	if !journal.Enabled() {
		return nil, ErrUnavailable
	}
	if identifier == "" {
		identifier = DefaultIdentifier
	}
	return &Sink{identifier: identifier}, nil
}

// Write sends one entry. journal.Send opens a datagram per call, so the sink
// is safe for concurrent use.
func (s *Sink) Write(message string, fields map[string]string) error {
	return journal.Send(message, Priority(fields), s.vars(fields))
}

// Close is a no-op; journal.Send holds no per-sink state.
func (s *Sink) Close() error { return nil }

func (s *Sink) vars(fields map[string]string) map[string]string {
	vars := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		if key := FieldName(k); key != "" {
			vars[key] = v
		}
	}
	vars["SYSLOG_IDENTIFIER"] = s.identifier
	return vars
}

// Priority maps an entry's severity to a journal priority.
func Priority(fields map[string]string) journal.Priority {
	switch eventlog.SeverityOf(fields) {
	case eventlog.SeverityError:
		return journal.PriErr
	case eventlog.SeverityWarning:
		return journal.PriWarning
	case eventlog.SeverityNotice:
		return journal.PriNotice
	default:
		return journal.PriInfo
	}
}

// FieldName converts a field key into a valid journal field name: upper case
// letters, digits and underscores, not starting with an underscore or digit.
// It returns "" when nothing usable remains.
func FieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}
