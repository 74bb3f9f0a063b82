package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSnapshot(t *testing.T) {
	m := New()
	m.ObserveSnapshot(120, 3, 40*time.Millisecond)
	m.ObserveSnapshot(118, 2, 30*time.Millisecond)

	if got := testutil.ToFloat64(m.SnapshotBuilds); got != 2 {
		t.Fatalf("builds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Processes); got != 118 {
		t.Fatalf("processes = %v, want 118", got)
	}
	if got := testutil.ToFloat64(m.Applications); got != 2 {
		t.Fatalf("applications = %v, want 2", got)
	}
}

func TestRequestOutcomesAreLabelled(t *testing.T) {
	m := New()
	m.Termination("terminated")
	m.Termination("killed")
	m.Termination("killed")
	m.Launch("started")
	m.RequestRejected()

	if got := testutil.ToFloat64(m.Terminations.WithLabelValues("killed")); got != 2 {
		t.Fatalf("killed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Terminations.WithLabelValues("terminated")); got != 1 {
		t.Fatalf("terminated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Launches.WithLabelValues("started")); got != 1 {
		t.Fatalf("started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsRejected); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
}

func TestStatsAndSkips(t *testing.T) {
	m := New()
	m.ObserveStats(12.5, 40.1, 1<<30)
	m.StatsFailed()
	m.TickSkipped()
	m.Panic("snapshot")

	if got := testutil.ToFloat64(m.CPUPercent); got != 12.5 {
		t.Fatalf("cpu = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(m.MemoryUsedBytes); got != float64(1<<30) {
		t.Fatalf("memory used = %v", got)
	}
	if got := testutil.ToFloat64(m.StatsFailures); got != 1 {
		t.Fatalf("stats failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SnapshotSkipped); got != 1 {
		t.Fatalf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoopPanics.WithLabelValues("snapshot")); got != 1 {
		t.Fatalf("panics = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSnapshot(1, 1, time.Millisecond)
	m.ObserveStats(1, 1, 1)
	m.StatsFailed()
	m.TickSkipped()
	m.Termination("killed")
	m.Launch("started")
	m.RequestRejected()
	m.Panic("stats")
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil metrics: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveSnapshot(7, 1, time.Millisecond)

	path := filepath.Join(t.TempDir(), "taskmgr.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "taskmgr_processes 7") {
		t.Fatalf("textfile missing process gauge:\n%s", data)
	}
}

func TestWriteTextfileEmptyPathIsNoop(t *testing.T) {
	if err := New().WriteTextfile(""); err != nil {
		t.Fatalf("WriteTextfile(\"\") = %v", err)
	}
}
