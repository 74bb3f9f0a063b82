package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/logging"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var log = logging.L("metrics")

// cpuSample is the cumulative CPU time of one process incarnation.
// createTime distinguishes a reused pid from its predecessor.
type cpuSample struct {
	createTime int64
	cpuSeconds float64
	at         time.Time
}

// HostSource reads the local process table through gopsutil.
type HostSource struct {
	mu      sync.Mutex
	samples map[int32]cpuSample
	now     func() time.Time
}

// NewHostSource creates a Source backed by the host operating system.
func NewHostSource() *HostSource {
	return &HostSource{
		samples: make(map[int32]cpuSample),
		now:     time.Now,
	}
}

// ListPids returns the pids of all live processes and forgets CPU samples of
// processes that are no longer listed.
func (s *HostSource) ListPids(ctx context.Context) ([]int32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}
	s.prune(pids)
	return pids, nil
}

// Query samples a single process. Fields that cannot be read fall back to
// their sentinels; only a vanished or unreadable process is an error.
func (s *HostSource) Query(ctx context.Context, pid int32) (ProcessRecord, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessRecord{}, classify(pid, err)
	}

	rec := ProcessRecord{
		PID:    pid,
		Name:   UnknownName,
		User:   UnknownUser,
		Status: StatusUnknown,
	}

	name, err := p.NameWithContext(ctx)
	switch {
	case err == nil && name != "":
		rec.Name = name
	case err != nil && (isGone(err) || isPermission(err)):
		return ProcessRecord{}, classify(pid, err)
	}

	if username, err := p.UsernameWithContext(ctx); err == nil && username != "" {
		rec.User = username
	}

	if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
		rec.Status = NormalizeStatus(status[0])
	}

	if memPercent, err := p.MemoryPercentWithContext(ctx); err == nil {
		rec.MemoryPercent = Round1(float64(memPercent))
	}

	rec.CPUPercent = Round1(s.cpuPercent(ctx, p))

	return rec, nil
}

// SystemStats samples host CPU and memory and counts live processes.
func (s *HostSource) SystemStats(ctx context.Context) (SystemStats, error) {
	stats := SystemStats{TakenAt: s.now()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		stats.CPUPercent = clampPercent(Round1(percents[0]))
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("virtual memory: %w", err)
	}
	stats.MemoryUsedBytes = vmem.Used
	stats.MemoryTotalBytes = vmem.Total
	stats.MemoryPercent = clampPercent(Round1(vmem.UsedPercent))

	pids, err := s.ListPids(ctx)
	if err != nil {
		return stats, err
	}
	stats.ProcessCount = len(pids)

	return stats, nil
}

// cpuPercent returns utilization since the previous sample of the same
// process incarnation, or 0 on first observation.
func (s *HostSource) cpuPercent(ctx context.Context, p *process.Process) float64 {
	times, err := p.TimesWithContext(ctx)
	if err != nil || times == nil {
		return 0
	}
	createTime, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return 0
	}

	cur := cpuSample{
		createTime: createTime,
		cpuSeconds: times.User + times.System,
		at:         s.now(),
	}

	s.mu.Lock()
	prev, ok := s.samples[p.Pid]
	s.samples[p.Pid] = cur
	s.mu.Unlock()

	if !ok {
		return 0
	}
	return cpuDelta(prev, cur)
}

func (s *HostSource) prune(pids []int32) {
	live := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		live[pid] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for pid := range s.samples {
		if _, ok := live[pid]; !ok {
			delete(s.samples, pid)
		}
	}
}

// cpuDelta computes percent utilization between two samples. Samples from
// different process incarnations are never compared.
func cpuDelta(prev, cur cpuSample) float64 {
	if prev.createTime != cur.createTime {
		return 0
	}
	wall := cur.at.Sub(prev.at).Seconds()
	if wall <= 0 {
		return 0
	}
	used := cur.cpuSeconds - prev.cpuSeconds
	if used <= 0 {
		return 0
	}
	return used / wall * 100
}

// NormalizeStatus maps gopsutil status strings onto Status.
func NormalizeStatus(s string) Status {
	switch s {
	case process.Running:
		return StatusRunning
	case process.Sleep, process.Wait, process.Blocked, process.Lock:
		return StatusSleeping
	case process.Stop:
		return StatusStopped
	case process.Idle:
		return StatusIdle
	case process.Zombie:
		return StatusZombie
	default:
		return StatusUnknown
	}
}

func classify(pid int32, err error) error {
	switch {
	case isGone(err):
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	case isPermission(err):
		return fmt.Errorf("pid %d: %w", pid, ErrAccessDenied)
	default:
		log.Debug("unexpected process query error", logging.KeyPID, pid, logging.KeyError, err)
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}

func isGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH)
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
