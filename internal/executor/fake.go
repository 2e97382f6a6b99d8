package executor

import (
	"context"
	"io"
	"os/exec"
	"sync"
)

// FakeCommand is a function that simulates a command execution.
// It receives stdout, stderr and the arguments and returns an exit code.
// The context is cancelled when the process is asked to terminate.
type FakeCommand func(ctx context.Context, stdout, stderr io.Writer, args []string) int

// FakeExecutor is a test implementation of Executor that runs registered
// fake commands as goroutines.
type FakeExecutor struct {
	mu       sync.RWMutex
	commands map[string]FakeCommand
	started  []Spec
	live     int
	nextPID  int
}

var _ Executor = (*FakeExecutor)(nil)

// NewFakeExecutor creates a new FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		commands: make(map[string]FakeCommand),
		nextPID:  10000,
	}
}

// RegisterCommand registers a fake command implementation under the
// executable path it will be started with.
func (e *FakeExecutor) RegisterCommand(path string, handler FakeCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[path] = handler
}

// Started returns the specs of every successfully started process.
func (e *FakeExecutor) Started() []Spec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Spec(nil), e.started...)
}

// Live returns how many started processes have not exited yet.
func (e *FakeExecutor) Live() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live
}

// fakeProcess implements Process for FakeExecutor.
type fakeProcess struct {
	owner  *FakeExecutor
	pid    int
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu       sync.Mutex
	exitCode int
}

// Start implements Executor.Start for FakeExecutor.
func (e *FakeExecutor) Start(spec Spec) (Process, error) {
	if spec.Path == "" {
		return nil, ErrEmptyCommand
	}

	e.mu.Lock()
	handler, ok := e.commands[spec.Path]
	if !ok {
		e.mu.Unlock()
		return nil, &exec.Error{Name: spec.Path, Err: exec.ErrNotFound}
	}
	e.nextPID++
	pid := e.nextPID
	e.started = append(e.started, spec)
	e.live++
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcess{
		owner:  e,
		pid:    pid,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if spec.Capture {
		proc.stdoutR, proc.stdoutW = io.Pipe()
		proc.stderrR, proc.stderrW = io.Pipe()
		stdout, stderr = proc.stdoutW, proc.stderrW
	} else {
		if spec.Stdout != nil {
			stdout = spec.Stdout
		}
		if spec.Stderr != nil {
			stderr = spec.Stderr
		}
	}

	go func() {
		code := handler(ctx, stdout, stderr, spec.Args)
		proc.exit(code)
	}()

	return proc, nil
}

// exit records the exit code once and closes the child-facing pipe ends, the
// way the OS closes a dead process's descriptors.
func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		if p.stdoutW != nil {
			p.stdoutW.Close()
			p.stderrW.Close()
		}
		p.cancel()
		p.owner.mu.Lock()
		p.owner.live--
		p.owner.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Stdout() io.Reader {
	if p.stdoutR == nil {
		return nil
	}
	return p.stdoutR
}

func (p *fakeProcess) Stderr() io.Reader {
	if p.stderrR == nil {
		return nil
	}
	return p.stderrR
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

// Terminate cancels the command's context; commands that ignore it keep
// running until Kill.
func (p *fakeProcess) Terminate() error {
	p.cancel()
	return nil
}

// Kill ends the process immediately with exit code -1, whether or not the
// command function has returned.
func (p *fakeProcess) Kill() error {
	p.exit(-1)
	return nil
}

func (p *fakeProcess) CloseOutput() error {
	if p.stdoutR != nil {
		p.stdoutR.Close()
		p.stderrR.Close()
	}
	return nil
}
