//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

// GetShellCommand returns the interpreter and flags used to run a command line.
func GetShellCommand(command string) (string, []string) {
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = filepath.Join(os.Getenv("SystemRoot"), "System32", "cmd.exe")
	}
	return comspec, []string{"/C"}
}

// cmd.exe exits 9009 when a command is not recognized.
const exitNotFound = 9009

func shellFailure(code int) (string, bool) {
	if code == exitNotFound {
		return "command not found", true
	}
	return "", false
}

// detach starts the child in a new process group without a console window.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}
