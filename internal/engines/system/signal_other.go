//go:build !unix

package system

import (
	"errors"
	"os"
)

const canSuspend = false

var errNoJobControl = errors.New("process suspension is not supported on this platform")

func suspend(*os.Process) error { return errNoJobControl }

func resume(*os.Process) error { return errNoJobControl }

func kill(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	return p.Kill()
}
