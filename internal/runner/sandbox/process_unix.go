//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup puts the guest in its own process group so that
// cancellation kills anything it spawned too.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
