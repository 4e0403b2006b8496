//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureCmd puts detached children in their own process group so Stop
// reaches every process they spawn.
func configureCmd(cmd *exec.Cmd, detach bool) {
	if !detach {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
