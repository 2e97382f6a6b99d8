// Package eventlog defines the log sink the supervisor writes to and the
// semantic helpers used to record backend lifecycle events and output lines.
package eventlog

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// Record is a single entry as seen by in-process sinks.
type Record struct {
	Timestamp time.Time
	Message   string
	Fields    map[string]string
}

// Sink accepts structured entries from several origins at once (one draining
// goroutine per stream plus the host's own lifecycle events). Implementations
// must be safe for concurrent use.
type Sink interface {
	// Write appends an entry. Errors are reported but callers treat them as
	// non-fatal.
	Write(message string, fields map[string]string) error

	// Close releases any resources.
	Close() error
}

// Lifecycle event constants.
const (
	EventStarted        = "started"
	EventExited         = "exited"
	EventLaunchFailed   = "launch-failed"
	EventShutdownFailed = "shutdown-failed"
	EventDecodeError    = "decode-error"
)

// Field names attached to entries.
const (
	FieldEvent    = "SIDECAR_EVENT"
	FieldInstance = "SIDECAR_INSTANCE"
	FieldCommand  = "SIDECAR_COMMAND"
	FieldPID      = "SIDECAR_PID"
	FieldExitCode = "SIDECAR_EXIT_CODE"
	FieldState    = "SIDECAR_STATE"
	FieldStream   = "SIDECAR_STREAM"
	FieldError    = "SIDECAR_ERROR"
	FieldFD       = "FD"
)

// StreamName returns "stdout" for fd 1 and "stderr" for fd 2.
func StreamName(fd int) string {
	switch fd {
	case 1:
		return "stdout"
	case 2:
		return "stderr"
	default:
		return "fd" + strconv.Itoa(fd)
	}
}

// EmitStarted records that the backend process was spawned.
func EmitStarted(sink Sink, instance string, pid int, command []string) error {
	return sink.Write("Backend started", map[string]string{
		FieldEvent:    EventStarted,
		FieldInstance: instance,
		FieldPID:      strconv.Itoa(pid),
		FieldCommand:  strings.Join(command, " "),
	})
}

// EmitExited records that the backend process was reaped.
func EmitExited(sink Sink, instance string, pid, exitCode int, state string, command []string) error {
	return sink.Write("Backend exited", map[string]string{
		FieldEvent:    EventExited,
		FieldInstance: instance,
		FieldPID:      strconv.Itoa(pid),
		FieldExitCode: strconv.Itoa(exitCode),
		FieldState:    state,
		FieldCommand:  strings.Join(command, " "),
	})
}

// EmitLaunchFailed records that the backend could not be started.
func EmitLaunchFailed(sink Sink, path string, err error) error {
	return sink.Write("Failed to start backend", map[string]string{
		FieldEvent:   EventLaunchFailed,
		FieldCommand: path,
		FieldError:   err.Error(),
	})
}

// EmitShutdownFailed records that the backend survived a shutdown attempt.
func EmitShutdownFailed(sink Sink, instance string, pid int, err error) error {
	return sink.Write("Failed to stop backend", map[string]string{
		FieldEvent:    EventShutdownFailed,
		FieldInstance: instance,
		FieldPID:      strconv.Itoa(pid),
		FieldError:    err.Error(),
	})
}

// EmitDecodeError records that a line of backend output was not valid text.
func EmitDecodeError(sink Sink, instance string, fd int, err error) error {
	return sink.Write("Backend output is not valid text", map[string]string{
		FieldEvent:    EventDecodeError,
		FieldInstance: instance,
		FieldFD:       strconv.Itoa(fd),
		FieldStream:   StreamName(fd),
		FieldError:    err.Error(),
	})
}

// WriteOutput writes one line of process output with FD, stream name and
// extra fields.
func WriteOutput(sink Sink, fd int, text string, extraFields map[string]string) error {
	fields := map[string]string{
		FieldFD:     strconv.Itoa(fd),
		FieldStream: StreamName(fd),
	}
	maps.Copy(fields, extraFields)
	return sink.Write(text, fields)
}

// IsOutput reports whether fields describe an output line rather than a
// lifecycle event.
func IsOutput(fields map[string]string) bool {
	_, isEvent := fields[FieldEvent]
	_, hasFD := fields[FieldFD]
	return hasFD && !isEvent
}

// Severity classifies an entry for sinks that have levels or priorities.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityWarning
	SeverityError
)

// SeverityOf derives the severity of an entry from its fields.
func SeverityOf(fields map[string]string) Severity {
	switch fields[FieldEvent] {
	case EventLaunchFailed, EventShutdownFailed:
		return SeverityError
	case EventDecodeError:
		return SeverityWarning
	case EventStarted:
		return SeverityNotice
	case EventExited:
		if fields[FieldExitCode] != "0" && fields[FieldState] != "killed" {
			return SeverityWarning
		}
		return SeverityNotice
	}
	return SeverityInfo
}

// Discard is a Sink that drops every entry.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(string, map[string]string) error { return nil }
func (discard) Close() error                          { return nil }
