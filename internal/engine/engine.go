package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/taskmgr/internal/config"
	"github.com/breeze-rmm/taskmgr/internal/health"
	"github.com/breeze-rmm/taskmgr/internal/launcher"
	"github.com/breeze-rmm/taskmgr/internal/lifecycle"
	"github.com/breeze-rmm/taskmgr/internal/logging"
	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/breeze-rmm/taskmgr/internal/snapshot"
	"github.com/breeze-rmm/taskmgr/internal/telemetry"
	"github.com/breeze-rmm/taskmgr/internal/workerpool"
)

var log = logging.L("engine")

// Health component names.
const (
	ComponentSnapshot = "snapshot"
	ComponentStats    = "stats"
)

// skipThreshold is the number of consecutive skipped ticks after which the
// snapshot loop is reported degraded.
const skipThreshold = 3

var ErrAlreadyStarted = errors.New("engine already started")

// Builder produces one process snapshot per call.
type Builder interface {
	Build(ctx context.Context) snapshot.Snapshot
}

// Terminator runs the termination protocol for one pid.
type Terminator interface {
	Terminate(ctx context.Context, pid int32) lifecycle.Outcome
}

// Launcher starts one command line.
type Launcher interface {
	Launch(ctx context.Context, commandLine string) launcher.Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records loop and request activity in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHealth reports loop health to m instead of a private monitor.
func WithHealth(m *health.Monitor) Option {
	return func(e *Engine) {
		if m != nil {
			e.health = m
		}
	}
}

// Engine runs the snapshot and stats loops. Terminate and launch requests
// run on the caller's goroutine or on the worker pool, never on a loop.
type Engine struct {
	cfg        *config.Config
	source     metrics.Source
	builder    Builder
	terminator Terminator
	launcher   Launcher

	metrics *telemetry.Metrics
	health  *health.Monitor
	pool    *workerpool.Pool

	seq      atomic.Uint64
	snap     atomic.Pointer[snapshot.Snapshot]
	stats    atomic.Pointer[metrics.SystemStats]
	building atomic.Bool
	skipped  atomic.Int32
	refresh  chan struct{}

	subMu       sync.RWMutex
	snapSubs    []func(snapshot.Snapshot)
	statsSubs   []func(metrics.SystemStats)
	outcomeSubs []func(Result)

	started atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New wires an engine. Nothing runs until Start. The engine keeps its own
// copy of cfg with unset intervals and pool sizes replaced by defaults.
func New(cfg *config.Config, source metrics.Source, builder Builder, terminator Terminator, launch Launcher, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	own := *cfg
	own.ApplicationPatterns = append([]string(nil), cfg.ApplicationPatterns...)
	if keys := own.FillUnset(); len(keys) > 0 {
		log.Warn("config values unset, using defaults", "keys", keys)
	}

	e := &Engine{
		cfg:        &own,
		source:     source,
		builder:    builder,
		terminator: terminator,
		launcher:   launch,
		health:     health.NewMonitor(),
		refresh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = workerpool.New(own.MaxConcurrentRequests, own.RequestQueueSize)
	return e
}

// Health returns the monitor the loops report to.
func (e *Engine) Health() *health.Monitor {
	return e.health
}

// OnSnapshot registers fn to receive every published snapshot.
// Subscribers must not modify the snapshot's slices.
func (e *Engine) OnSnapshot(fn func(snapshot.Snapshot)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.snapSubs = append(e.snapSubs, fn)
}

// OnStats registers fn to receive every system stats sample.
func (e *Engine) OnStats(fn func(metrics.SystemStats)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.statsSubs = append(e.statsSubs, fn)
}

// OnOutcome registers fn to receive the result of every submitted request.
func (e *Engine) OnOutcome(fn func(Result)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.outcomeSubs = append(e.outcomeSubs, fn)
}

// Snapshot returns the latest published snapshot, or the zero value before
// the first build.
func (e *Engine) Snapshot() snapshot.Snapshot {
	if s := e.snap.Load(); s != nil {
		return *s
	}
	return snapshot.Snapshot{}
}

// Stats returns the latest system stats sample.
func (e *Engine) Stats() metrics.SystemStats {
	if s := e.stats.Load(); s != nil {
		return *s
	}
	return metrics.SystemStats{}
}

// Start launches the snapshot and stats loops. Both take their first sample
// immediately.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = g

	g.Go(func() error {
		e.snapshotLoop(gctx)
		return nil
	})
	g.Go(func() error {
		e.statsLoop(gctx)
		return nil
	})

	log.Info("engine started",
		"pollInterval", e.cfg.PollInterval().String(),
		"statsInterval", e.cfg.StatsInterval().String(),
		"workers", e.pool.Workers(),
	)
	return nil
}

// Stop ends both loops, refuses new requests and waits for in-flight
// requests until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		if !e.pool.Shutdown(ctx) {
			return fmt.Errorf("draining requests: %w", ctx.Err())
		}
		return nil
	}

	e.cancel()
	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for engine loops: %w", ctx.Err())
	}

	if !e.pool.Shutdown(ctx) && err == nil {
		err = fmt.Errorf("draining requests: %w", ctx.Err())
	}

	log.Info("engine stopped")
	return err
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	e.dispatchBuild(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatchBuild(ctx)
		case <-e.refresh:
			e.dispatchBuild(ctx)
		}
	}
}

// dispatchBuild starts a build unless one is already running. Skipped ticks
// are never queued.
func (e *Engine) dispatchBuild(ctx context.Context) {
	if !e.building.CompareAndSwap(false, true) {
		e.skipTick()
		return
	}
	e.group.Go(func() error {
		defer e.building.Store(false)
		e.build(ctx)
		return nil
	})
}

func (e *Engine) skipTick() {
	n := e.skipped.Add(1)
	e.metrics.TickSkipped()
	log.Debug("snapshot tick skipped, build in flight", "consecutive", n)
	if n >= skipThreshold {
		e.health.Update(ComponentSnapshot, health.Degraded,
			fmt.Sprintf("%d consecutive ticks skipped", n))
	}
}

// build runs one snapshot build and publishes it. The caller owns the
// in-flight flag.
func (e *Engine) build(ctx context.Context) (snap snapshot.Snapshot, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.Panic(ComponentSnapshot)
			e.health.Update(ComponentSnapshot, health.Degraded, fmt.Sprintf("build panicked: %v", r))
			log.Error("snapshot build panicked", "panic", r, "stack", string(debug.Stack()))
			snap, ok = e.Snapshot(), false
		}
	}()

	start := time.Now()
	snap = e.builder.Build(ctx)
	if ctx.Err() != nil {
		// Partial builds from a cancelled tick are not published.
		return e.Snapshot(), false
	}
	snap.Seq = e.seq.Add(1)
	took := time.Since(start)

	e.snap.Store(&snap)
	e.skipped.Store(0)
	e.metrics.ObserveSnapshot(len(snap.Processes), len(snap.Applications), took)
	if len(snap.Processes) == 0 {
		e.health.Update(ComponentSnapshot, health.Degraded, "process listing returned nothing")
	} else {
		e.health.Update(ComponentSnapshot, health.Healthy, "")
	}

	log.Debug(fmt.Sprintf("Processes: %d", len(snap.Processes)),
		logging.KeySeq, snap.Seq,
		"applications", len(snap.Applications),
		logging.KeyDurationMs, took.Milliseconds(),
	)

	e.subMu.RLock()
	subs := e.snapSubs
	e.subMu.RUnlock()
	for _, fn := range subs {
		notify(ComponentSnapshot, func() { fn(snap) })
	}
	return snap, true
}

func (e *Engine) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StatsInterval())
	defer ticker.Stop()

	e.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sample(ctx)
		}
	}
}

// sample takes one system stats reading and publishes it. A failed sample
// keeps the previous value.
func (e *Engine) sample(ctx context.Context) (stats metrics.SystemStats, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.Panic(ComponentStats)
			e.health.Update(ComponentStats, health.Degraded, fmt.Sprintf("sample panicked: %v", r))
			log.Error("stats sample panicked", "panic", r, "stack", string(debug.Stack()))
			stats, ok = e.Stats(), false
		}
	}()

	stats, err := e.source.SystemStats(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return e.Stats(), false
		}
		e.metrics.StatsFailed()
		e.health.Update(ComponentStats, health.Degraded, err.Error())
		log.Warn("system stats sample failed", logging.KeyError, err)
		return e.Stats(), false
	}

	e.stats.Store(&stats)
	e.metrics.ObserveStats(stats.CPUPercent, stats.MemoryPercent, stats.MemoryUsedBytes)
	e.health.Update(ComponentStats, health.Healthy, "")

	e.subMu.RLock()
	subs := e.statsSubs
	e.subMu.RUnlock()
	for _, fn := range subs {
		notify(ComponentStats, func() { fn(stats) })
	}
	return stats, true
}

// Refresh rebuilds the snapshot and samples stats on the caller's goroutine.
// If a build is already in flight the latest published snapshot is returned
// instead of starting a second one.
func (e *Engine) Refresh(ctx context.Context) (snapshot.Snapshot, metrics.SystemStats) {
	stats, _ := e.sample(ctx)

	if !e.building.CompareAndSwap(false, true) {
		e.skipTick()
		return e.Snapshot(), stats
	}
	defer e.building.Store(false)

	snap, _ := e.build(ctx)
	return snap, stats
}

// scheduleRefresh asks the snapshot loop for an early build. Requests
// coalesce while one is pending.
func (e *Engine) scheduleRefresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// notify runs one subscriber callback, isolating its panics.
func notify(component string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("subscriber panicked", "component", component, "panic", r)
		}
	}()
	fn()
}

// newRequestID returns a fresh id for an async request.
func newRequestID() string {
	return uuid.NewString()
}
