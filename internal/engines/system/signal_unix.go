//go:build unix

package system

import (
	"os"

	"golang.org/x/sys/unix"
)

const canSuspend = true

func suspend(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	return unix.Kill(p.Pid, unix.SIGSTOP)
}

func resume(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	return unix.Kill(p.Pid, unix.SIGCONT)
}

func kill(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	_ = unix.Kill(p.Pid, unix.SIGCONT)
	return p.Kill()
}
