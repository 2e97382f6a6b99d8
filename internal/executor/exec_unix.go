//go:build !windows

package executor

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr(spec Spec) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if spec.KillOnParentDeath {
		setParentDeathSignal(attr)
	}
	return attr
}

// processGroup is the child's own process group, whose ID is the child's PID.
type processGroup struct {
	reaped chan struct{}
	once   sync.Once
}

// startGroup starts cmd. With a parent-death signal the starting goroutine
// stays locked to its OS thread until the child is reaped: the kernel signals
// the child when that thread exits, not when the host process does.
func startGroup(cmd *exec.Cmd, spec Spec) (*processGroup, error) {
	g := &processGroup{reaped: make(chan struct{})}
	if !spec.KillOnParentDeath {
		return g, cmd.Start()
	}

	started := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		err := cmd.Start()
		started <- err
		if err == nil {
			<-g.reaped
		}
	}()
	return g, <-started
}

// release is called once the child has been reaped.
func (g *processGroup) release() {
	g.once.Do(func() { close(g.reaped) })
}

func (g *processGroup) terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func (g *processGroup) kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

// signalGroup signals the process group first (negative PID), then falls
// back to the process itself.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p.Pid > 0 {
		if err := unix.Kill(-p.Pid, sig); err == nil {
			return nil
		}
	}
	err := p.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
