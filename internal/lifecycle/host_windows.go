//go:build windows

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Terminate asks the process to exit.
func (h *hostHandle) Terminate() error {
	return h.wrap("terminate", h.proc.Terminate())
}

// Kill forcibly ends the process.
func (h *hostHandle) Kill() error {
	return h.wrap("kill", h.proc.Kill())
}

// Exited reports whether the pid is gone or now names a different process.
func (h *hostHandle) Exited(ctx context.Context) (bool, error) {
	exists, err := process.PidExistsWithContext(ctx, h.proc.Pid)
	if err != nil {
		return false, h.wrap("check", err)
	}
	return !exists || h.reused(ctx), nil
}

func (h *hostHandle) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s pid %d: %w", op, h.proc.Pid, ErrPermission)
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, process.ErrorProcessNotRunning):
		return fmt.Errorf("%s pid %d: %w", op, h.proc.Pid, ErrProcessGone)
	default:
		return fmt.Errorf("%s pid %d: %w", op, h.proc.Pid, err)
	}
}
