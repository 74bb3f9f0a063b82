package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/logging"
)

var log = logging.L("launcher")

const (
	// DefaultGrace is how long a new child is watched for an immediate
	// shell failure before it is reported as started.
	DefaultGrace = 250 * time.Millisecond

	reasonEmptyCommand = "empty command"
)

// OutcomeKind is the terminal result of a launch request.
type OutcomeKind string

const (
	Started  OutcomeKind = "started"
	Rejected OutcomeKind = "rejected"
	Failed   OutcomeKind = "error"
)

// Outcome is the result of one Launch call.
type Outcome struct {
	Kind    OutcomeKind `json:"kind" yaml:"kind"`
	Command string      `json:"command" yaml:"command"`
	PID     int         `json:"pid,omitempty" yaml:"pid,omitempty"`
	Reason  string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
}

// Status renders the outcome as a one-line status message.
func (o Outcome) Status() string {
	switch o.Kind {
	case Started:
		return "Started: " + o.Command
	case Rejected:
		return "No command entered"
	default:
		return fmt.Sprintf("Error starting '%s': %s", o.Command, o.Message)
	}
}

// Launcher starts command lines through the host shell as detached
// background processes.
type Launcher struct {
	grace time.Duration
	shell func(command string) (string, []string)
}

// New creates a Launcher. grace <= 0 disables the startup check.
func New(grace time.Duration) *Launcher {
	return &Launcher{
		grace: grace,
		shell: GetShellCommand,
	}
}

// Launch hands commandLine to the host shell without parsing it and returns
// once the child is started. The child is never waited on by the caller and
// its output is discarded.
func (l *Launcher) Launch(ctx context.Context, commandLine string) (out Outcome) {
	command := strings.TrimSpace(commandLine)
	out = Outcome{Command: command}

	defer func() {
		if r := recover(); r != nil {
			log.Error("launch panicked", "command", command, "panic", r)
			out = Outcome{Kind: Failed, Command: command, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if command == "" {
		out.Kind = Rejected
		out.Reason = reasonEmptyCommand
		return out
	}
	if err := ctx.Err(); err != nil {
		out.Kind = Failed
		out.Message = err.Error()
		return out
	}

	name, args := l.shell(command)
	// Deliberately not CommandContext: the child must outlive the request.
	cmd := exec.Command(name, append(args, command)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if dir, err := os.UserHomeDir(); err == nil {
		cmd.Dir = dir
	}
	detach(cmd)

	if err := cmd.Start(); err != nil {
		log.Warn("launch failed", "command", command, logging.KeyError, err)
		out.Kind = Failed
		out.Message = err.Error()
		return out
	}
	out.PID = cmd.Process.Pid

	exited := make(chan error, 1)
	go func() {
		// Reap the child whenever it exits so it never lingers as a zombie.
		exited <- cmd.Wait()
	}()

	if msg, failed := l.awaitStartup(exited); failed {
		log.Warn("launched command failed immediately", "command", command, "reason", msg)
		out.Kind = Failed
		out.Message = msg
		return out
	}

	log.Info("launched command", "command", command, logging.KeyPID, out.PID)
	out.Kind = Started
	return out
}

// awaitStartup watches the child for the grace window and reports whether
// the shell gave up on the command.
func (l *Launcher) awaitStartup(exited <-chan error) (string, bool) {
	if l.grace <= 0 {
		return "", false
	}

	timer := time.NewTimer(l.grace)
	defer timer.Stop()

	select {
	case err := <-exited:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", false
		}
		return shellFailure(exitErr.ExitCode())
	case <-timer.C:
		return "", false
	}
}
