package metrics

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestHostSourceListsSelf(t *testing.T) {
	src := NewHostSource()

	pids, err := src.ListPids(context.Background())
	if err != nil {
		t.Fatalf("ListPids failed: %v", err)
	}
	if len(pids) == 0 {
		t.Fatal("expected at least one process")
	}

	self := int32(os.Getpid())
	found := false
	for _, pid := range pids {
		if pid == self {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("own pid %d not listed", self)
	}
}

func TestHostSourceQuerySelf(t *testing.T) {
	src := NewHostSource()
	self := int32(os.Getpid())

	rec, err := src.Query(context.Background(), self)
	if err != nil {
		t.Fatalf("Query self failed: %v", err)
	}
	if rec.PID != self {
		t.Fatalf("PID = %d, want %d", rec.PID, self)
	}
	if rec.Name == "" || rec.Name == UnknownName {
		t.Fatalf("expected own process name, got %q", rec.Name)
	}
	if rec.CPUPercent != 0 {
		t.Fatalf("first observation should report 0 cpu, got %v", rec.CPUPercent)
	}
	if rec.MemoryPercent < 0 || rec.MemoryPercent > 100 {
		t.Fatalf("memory percent out of range: %v", rec.MemoryPercent)
	}
	t.Logf("self: name=%s user=%s status=%s mem=%.1f%%", rec.Name, rec.User, rec.Status, rec.MemoryPercent)
}

func TestHostSourceQueryMissingProcess(t *testing.T) {
	src := NewHostSource()

	// Above the default pid_max on every supported platform.
	_, err := src.Query(context.Background(), 1<<30)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHostSourceSystemStats(t *testing.T) {
	src := NewHostSource()
	ctx := context.Background()

	stats, err := src.SystemStats(ctx)
	if err != nil {
		t.Fatalf("SystemStats failed: %v", err)
	}
	if stats.MemoryTotalBytes == 0 {
		t.Fatal("expected non-zero total memory")
	}
	if stats.MemoryUsedBytes > stats.MemoryTotalBytes {
		t.Fatalf("used %d exceeds total %d", stats.MemoryUsedBytes, stats.MemoryTotalBytes)
	}
	if stats.CPUPercent < 0 || stats.CPUPercent > 100 {
		t.Fatalf("cpu percent out of range: %v", stats.CPUPercent)
	}

	pids, err := src.ListPids(ctx)
	if err != nil {
		t.Fatalf("ListPids failed: %v", err)
	}
	// Process churn between the two calls is tolerated.
	diff := stats.ProcessCount - len(pids)
	if diff < -20 || diff > 20 {
		t.Fatalf("process count %d far from listed %d", stats.ProcessCount, len(pids))
	}
}

func TestCPUDelta(t *testing.T) {
	base := time.Unix(1000, 0)
	prev := cpuSample{createTime: 42, cpuSeconds: 10, at: base}

	cur := cpuSample{createTime: 42, cpuSeconds: 10.5, at: base.Add(time.Second)}
	if got := cpuDelta(prev, cur); got != 50 {
		t.Fatalf("cpuDelta = %v, want 50", got)
	}

	reused := cpuSample{createTime: 43, cpuSeconds: 99, at: base.Add(time.Second)}
	if got := cpuDelta(prev, reused); got != 0 {
		t.Fatalf("reused pid should not be compared, got %v", got)
	}

	sameInstant := cpuSample{createTime: 42, cpuSeconds: 11, at: base}
	if got := cpuDelta(prev, sameInstant); got != 0 {
		t.Fatalf("zero wall time should yield 0, got %v", got)
	}
}

func TestPruneForgetsExitedProcesses(t *testing.T) {
	src := NewHostSource()
	src.samples[1] = cpuSample{createTime: 1}
	src.samples[2] = cpuSample{createTime: 2}

	src.prune([]int32{2, 3})

	if _, ok := src.samples[1]; ok {
		t.Fatal("sample for unlisted pid should be pruned")
	}
	if _, ok := src.samples[2]; !ok {
		t.Fatal("sample for listed pid should be kept")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"running": StatusRunning,
		"sleep":   StatusSleeping,
		"wait":    StatusSleeping,
		"stop":    StatusStopped,
		"idle":    StatusIdle,
		"zombie":  StatusZombie,
		"":        StatusUnknown,
		"weird":   StatusUnknown,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRound1(t *testing.T) {
	if got := Round1(12.345); got != 12.3 {
		t.Fatalf("Round1(12.345) = %v", got)
	}
	if got := Round1(0.05); got != 0.1 {
		t.Fatalf("Round1(0.05) = %v", got)
	}
}
