//go:build unix

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Terminate sends SIGTERM.
func (h *hostHandle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

// Kill sends SIGKILL.
func (h *hostHandle) Kill() error {
	return h.signal(unix.SIGKILL)
}

// Exited sends signal 0. A zombie or a reused pid counts as exited.
func (h *hostHandle) Exited(ctx context.Context) (bool, error) {
	err := unix.Kill(int(h.proc.Pid), 0)
	switch {
	case errors.Is(err, unix.ESRCH):
		return true, nil
	case err != nil && !errors.Is(err, unix.EPERM):
		return false, fmt.Errorf("check pid %d: %w", h.proc.Pid, err)
	}
	return h.zombie(ctx) || h.reused(ctx), nil
}

func (h *hostHandle) signal(sig unix.Signal) error {
	err := unix.Kill(int(h.proc.Pid), sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), h.proc.Pid, ErrProcessGone)
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), h.proc.Pid, ErrPermission)
	default:
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), h.proc.Pid, err)
	}
}
