//go:build windows

package process

import "os/exec"

func configureCmd(cmd *exec.Cmd, detach bool) {}
