//go:build !windows

package app

import (
	"os/exec"
	"syscall"
)

// syscallTerm is the graceful-shutdown signal runStop sends before
// escalating to Kill.
var syscallTerm = syscall.SIGTERM

// detach sets up cmd to survive this process exiting: a new session so
// it is not a job-control child of the CLI's terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
