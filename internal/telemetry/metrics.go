package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskmgr"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Snapshot loop
	SnapshotBuilds   prometheus.Counter
	SnapshotSkipped  prometheus.Counter
	SnapshotDuration prometheus.Histogram
	Processes        prometheus.Gauge
	Applications     prometheus.Gauge

	// Stats loop
	StatsSamples    prometheus.Counter
	StatsFailures   prometheus.Counter
	CPUPercent      prometheus.Gauge
	MemoryPercent   prometheus.Gauge
	MemoryUsedBytes prometheus.Gauge

	// Requests
	Terminations     *prometheus.CounterVec
	Launches         *prometheus.CounterVec
	RequestsRejected prometheus.Counter

	LoopPanics *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SnapshotBuilds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_builds_total",
			Help:      "Total number of process snapshots built",
		}),
		SnapshotSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_ticks_skipped_total",
			Help:      "Snapshot ticks skipped because a build was already in flight",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_build_duration_seconds",
			Help:      "Time spent building one process snapshot",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		Processes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Processes in the latest snapshot",
		}),
		Applications: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applications",
			Help:      "Applications in the latest snapshot",
		}),

		StatsSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_samples_total",
			Help:      "Total number of system stats samples taken",
		}),
		StatsFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_sample_failures_total",
			Help:      "System stats samples that failed",
		}),
		CPUPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_cpu_percent",
			Help:      "System-wide CPU utilization",
		}),
		MemoryPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_memory_percent",
			Help:      "Physical memory in use as a percentage",
		}),
		MemoryUsedBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_memory_used_bytes",
			Help:      "Physical memory in use",
		}),

		Terminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Termination requests by outcome",
		}, []string{"outcome"}),
		Launches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Launch requests by outcome",
		}, []string{"outcome"}),
		RequestsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Async requests rejected because the worker pool was full or stopped",
		}),

		LoopPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_panics_total",
			Help:      "Panics recovered per engine loop",
		}, []string{"loop"}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSnapshot(processes, applications int, took time.Duration) {
	if m == nil {
		return
	}
	m.SnapshotBuilds.Inc()
	m.SnapshotDuration.Observe(took.Seconds())
	m.Processes.Set(float64(processes))
	m.Applications.Set(float64(applications))
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.SnapshotSkipped.Inc()
}

func (m *Metrics) ObserveStats(cpuPercent, memPercent float64, memUsed uint64) {
	if m == nil {
		return
	}
	m.StatsSamples.Inc()
	m.CPUPercent.Set(cpuPercent)
	m.MemoryPercent.Set(memPercent)
	m.MemoryUsedBytes.Set(float64(memUsed))
}

func (m *Metrics) StatsFailed() {
	if m == nil {
		return
	}
	m.StatsFailures.Inc()
}

func (m *Metrics) Termination(outcome string) {
	if m == nil {
		return
	}
	m.Terminations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Launch(outcome string) {
	if m == nil {
		return
	}
	m.Launches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RequestRejected() {
	if m == nil {
		return
	}
	m.RequestsRejected.Inc()
}

func (m *Metrics) Panic(loop string) {
	if m == nil {
		return
	}
	m.LoopPanics.WithLabelValues(loop).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
