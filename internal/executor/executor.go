// Package executor provides an abstraction for starting backend processes.
package executor

import (
	"errors"
	"io"
)

// ErrEmptyCommand is returned when a Spec has no executable path.
var ErrEmptyCommand = errors.New("empty command")

// Spec describes a process to start.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the host environment

	// Capture creates pipes for stdout and stderr, readable through
	// Process.Stdout and Process.Stderr. Without Capture the child writes to
	// Stdout and Stderr below (nil discards).
	Capture bool

	// PTY connects the child's stdout to a pseudo-terminal instead of a pipe
	// so that it line-buffers. Only meaningful with Capture.
	PTY bool

	// KillOnParentDeath asks the OS to end the child when the host dies:
	// a parent-death signal on Linux, a kill-on-close job object on Windows.
	// Ignored elsewhere.
	KillOnParentDeath bool

	Stdout io.Writer
	Stderr io.Writer
}

// Command returns the path followed by the arguments.
func (s Spec) Command() []string {
	return append([]string{s.Path}, s.Args...)
}

// Process represents a running process.
type Process interface {
	// PID returns the OS process ID.
	PID() int

	// Stdout and Stderr return the captured output streams, or nil when the
	// process was started without Capture.
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits and returns the exit code.
	// A process killed by a signal reports -1.
	Wait() (exitCode int, err error)

	// Terminate asks the process (and its process group) to exit.
	Terminate() error

	// Kill forcibly ends the process and its process group (the job object
	// on Windows).
	Kill() error

	// CloseOutput closes the captured streams so readers return promptly.
	CloseOutput() error
}

// Executor starts processes.
type Executor interface {
	Start(spec Spec) (Process, error)
}

// Default returns the default ExecExecutor.
func Default() Executor {
	return &ExecExecutor{}
}
