package executor

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

// ExecExecutor is the default Executor that uses os/exec. Every child gets its
// own process group so it can be signalled as a unit and does not receive the
// terminal's job-control signals.
type ExecExecutor struct{}

var _ Executor = (*ExecExecutor)(nil)

// execProcess wraps exec.Cmd to implement Process.
type execProcess struct {
	cmd    *exec.Cmd
	group  *processGroup
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// Start implements Executor.Start using os/exec.
func (e *ExecExecutor) Start(spec Spec) (Process, error) {
	if spec.Path == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = sysProcAttr(spec)

	p := &execProcess{cmd: cmd}

	// Child-facing ends, closed once the child holds its own copies.
	var childEnds []io.Closer
	closeAll := func(cs ...io.Closer) {
		for _, c := range cs {
			if c != nil {
				c.Close()
			}
		}
	}

	if spec.Capture {
		var stdoutW *os.File
		var err error
		if spec.PTY {
			p.stdout, stdoutW, err = openPTY()
		} else {
			p.stdout, stdoutW, err = os.Pipe()
		}
		if err != nil {
			return nil, err
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			closeAll(p.stdout, stdoutW)
			return nil, err
		}
		p.stderr = stderrR
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
		childEnds = []io.Closer{stdoutW, stderrW}
	} else {
		cmd.Stdout = spec.Stdout
		cmd.Stderr = spec.Stderr
	}

	group, err := startGroup(cmd, spec)
	if err != nil {
		closeAll(childEnds...)
		p.CloseOutput()
		return nil, err
	}
	p.group = group
	closeAll(childEnds...)

	return p, nil
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *execProcess) Stderr() io.Reader {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.group.release()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

func (p *execProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.group.terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.group.kill(p.cmd.Process)
}

func (p *execProcess) CloseOutput() error {
	var errs []error
	for _, c := range []io.Closer{p.stdout, p.stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
