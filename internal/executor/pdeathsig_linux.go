package executor

import "syscall"

// setParentDeathSignal makes the kernel send SIGTERM to the child when the
// thread that started it exits. startGroup keeps that thread alive.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGTERM
}
