package supervisor

import (
	"errors"
	"fmt"

	"github.com/mbrock/sidecar/internal/linereader"
)

var (
	// ErrAlreadyLaunched is returned by a second Launch on the same
	// supervisor. A supervisor owns at most one backend instance.
	ErrAlreadyLaunched = errors.New("backend already launched")

	// ErrShuttingDown is returned by Launch after Shutdown has been called.
	ErrShuttingDown = errors.New("supervisor is shutting down")

	// ErrStillRunning is wrapped by ShutdownError when the child survived a
	// forced kill.
	ErrStillRunning = errors.New("backend still running after kill")
)

// LaunchError reports that the backend could not be started: it was not
// found, is not executable, or the OS refused to spawn it.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("launching backend: %v", e.Err)
	}
	return fmt.Sprintf("launching backend %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ShutdownError reports that the child could not be terminated.
type ShutdownError struct {
	PID int
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("stopping backend (pid %d): %v", e.PID, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// StreamDecodeError reports child output that was not valid text. The line
// is still forwarded with invalid bytes replaced.
type StreamDecodeError struct {
	Stream Stream
	Err    *linereader.DecodeError
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("%s %v", e.Stream, e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }
