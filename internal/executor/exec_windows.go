//go:build windows

package executor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

func sysProcAttr(Spec) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW,
	}
}

// processGroup is a job object holding the child and everything it starts.
// With KillOnParentDeath the job is killed when its last handle closes, which
// the OS does when the host dies.
type processGroup struct {
	mu  sync.Mutex
	job windows.Handle
}

func startGroup(cmd *exec.Cmd, spec Spec) (*processGroup, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	g := &processGroup{}
	job, err := newJob(spec.KillOnParentDeath)
	if err != nil {
		// Without a job only the child itself can be killed.
		return g, nil
	}
	if err := assignToJob(job, cmd.Process.Pid); err != nil {
		windows.CloseHandle(job)
		return g, nil
	}
	g.job = job
	return g, nil
}

func newJob(killOnClose bool) (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}
	if !killOnClose {
		return job, nil
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func assignToJob(job windows.Handle, pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.AssignProcessToJobObject(job, h)
}

// release closes the job once the child has been reaped.
func (g *processGroup) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job != 0 {
		windows.CloseHandle(g.job)
		g.job = 0
	}
}

// Windows has no SIGTERM for a console-less child; terminating is killing.
func (g *processGroup) terminate(p *os.Process) error {
	return g.kill(p)
}

func (g *processGroup) kill(p *os.Process) error {
	if g.terminateJob() {
		return nil
	}
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (g *processGroup) terminateJob() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.job != 0 && windows.TerminateJobObject(g.job, 1) == nil
}
