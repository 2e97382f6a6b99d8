package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbrock/sidecar/internal/executor"
)

// Stream identifies which output stream a line came from. The values match
// the file descriptor numbers.
type Stream int

const (
	Stdout Stream = 1
	Stderr Stream = 2
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a child process.
//
//	NotStarted -> Running -> Exited | Killed
//
// There is no way back to NotStarted.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateExited
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Handle references a launched backend process.
type Handle struct {
	id      string
	path    string
	args    []string
	pid     int
	started time.Time
	tracked bool

	proc executor.Process

	mu            sync.Mutex
	state         State
	exitCode      int
	exitErr       error
	killRequested bool

	stdoutLines atomic.Int64
	stderrLines atomic.Int64

	exited     chan struct{} // closed once the process is reaped
	done       chan struct{} // closed once reaped and fully drained
	forceDrain chan struct{}
	forceOnce  sync.Once
}

func newHandle(id, path string, args []string, proc executor.Process, tracked bool) *Handle {
	return &Handle{
		id:         id,
		path:       path,
		args:       args,
		pid:        proc.PID(),
		started:    time.Now(),
		tracked:    tracked,
		proc:       proc,
		state:      StateRunning,
		exited:     make(chan struct{}),
		done:       make(chan struct{}),
		forceDrain: make(chan struct{}),
	}
}

// ID returns the instance ID attached to every log record of this child.
func (h *Handle) ID() string { return h.id }

// PID returns the OS process ID.
func (h *Handle) PID() int { return h.pid }

// Path returns the executable path.
func (h *Handle) Path() string { return h.path }

// Args returns the arguments passed to the executable.
func (h *Handle) Args() []string { return append([]string(nil), h.args...) }

// Command returns the path followed by the arguments.
func (h *Handle) Command() []string { return append([]string{h.path}, h.args...) }

// Started returns when the process was spawned.
func (h *Handle) Started() time.Time { return h.started }

// Tracked reports whether the supervisor drains and retains this child.
func (h *Handle) Tracked() bool { return h.tracked }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Alive reports whether the process has not been reaped yet.
func (h *Handle) Alive() bool {
	return h.State() == StateRunning
}

// ExitCode returns the exit code once the process has been reaped.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateRunning {
		return 0, false
	}
	return h.exitCode, true
}

// Lines returns how many lines have been relayed from stream.
func (h *Handle) Lines(stream Stream) int64 {
	switch stream {
	case Stdout:
		return h.stdoutLines.Load()
	case Stderr:
		return h.stderrLines.Load()
	}
	return 0
}

// Exited is closed when the process has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Done is closed when the process has been reaped and its output fully
// drained. No lines are produced after Done.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) countLine(stream Stream) {
	switch stream {
	case Stdout:
		h.stdoutLines.Add(1)
	case Stderr:
		h.stderrLines.Add(1)
	}
}

// requestKill marks the handle so that its exit is recorded as Killed.
func (h *Handle) requestKill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killRequested = true
}

func (h *Handle) markExited(code int, err error) State {
	h.mu.Lock()
	h.exitCode = code
	h.exitErr = err
	h.state = StateExited
	if h.killRequested {
		h.state = StateKilled
	}
	state := h.state
	h.mu.Unlock()

	close(h.exited)
	return state
}

// stopDraining closes the read ends of the output streams so draining
// goroutines blocked on a stream held open by a grandchild return.
func (h *Handle) stopDraining() {
	h.forceOnce.Do(func() { close(h.forceDrain) })
}
