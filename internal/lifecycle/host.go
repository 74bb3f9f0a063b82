package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/shirou/gopsutil/v3/process"
)

// HostResolver resolves pids against the local process table.
type HostResolver struct{}

// Resolve opens pid and captures its display name and start time.
func (HostResolver) Resolve(ctx context.Context, pid int32) (Handle, error) {
	// Non-positive pids address process groups when signalled.
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", pid, ErrProcessGone)
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, classifyProcessErr(pid, err)
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
		}
		name = metrics.UnknownName
	}

	createTime, _ := p.CreateTimeWithContext(ctx)

	return &hostHandle{proc: p, name: name, createTime: createTime}, nil
}

type hostHandle struct {
	proc       *process.Process
	name       string
	createTime int64
}

func (h *hostHandle) PID() int32 {
	return h.proc.Pid
}

func (h *hostHandle) Name() string {
	return h.name
}

// reused reports whether the pid now belongs to a different process.
func (h *hostHandle) reused(ctx context.Context) bool {
	if h.createTime == 0 {
		return false
	}
	ct, err := h.proc.CreateTimeWithContext(ctx)
	return err == nil && ct != h.createTime
}

func (h *hostHandle) zombie(ctx context.Context) bool {
	status, err := h.proc.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

func classifyProcessErr(pid int32, err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("pid %d: %w", pid, ErrPermission)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}
