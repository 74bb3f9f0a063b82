//go:build unix

package launcher

import (
	"os/exec"
	"syscall"
)

// GetShellCommand returns the interpreter and flags used to run a command line.
func GetShellCommand(command string) (string, []string) {
	return "/bin/sh", []string{"-c"}
}

// Exit statuses POSIX shells use when the command cannot be run.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// shellFailure maps a shell exit status to the reason the command never ran.
func shellFailure(code int) (string, bool) {
	switch code {
	case exitNotFound:
		return "command not found", true
	case exitNotExecutable:
		return "command not executable", true
	}
	return "", false
}

// detach starts the child in its own session so it survives the engine and
// does not receive terminal signals aimed at it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
