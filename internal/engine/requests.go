package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/launcher"
	"github.com/breeze-rmm/taskmgr/internal/lifecycle"
	"github.com/breeze-rmm/taskmgr/internal/logging"
)

// RequestKind identifies the operation behind a Result.
type RequestKind string

const (
	KindTerminate RequestKind = "terminate"
	KindLaunch    RequestKind = "launch"
)

// Result is delivered to OnOutcome subscribers when a submitted request
// completes. Exactly one of Terminate and Launch is set.
type Result struct {
	RequestID string             `json:"requestId" yaml:"request_id"`
	Kind      RequestKind        `json:"kind" yaml:"kind"`
	Seq       uint64             `json:"seq" yaml:"seq"`
	Duration  time.Duration      `json:"durationNs" yaml:"duration"`
	Terminate *lifecycle.Outcome `json:"terminate,omitempty" yaml:"terminate,omitempty"`
	Launch    *launcher.Outcome  `json:"launch,omitempty" yaml:"launch,omitempty"`
}

// Status returns the one-line status text of the underlying outcome.
func (r Result) Status() string {
	switch {
	case r.Terminate != nil:
		return r.Terminate.Status()
	case r.Launch != nil:
		return r.Launch.Status()
	}
	return ""
}

// RequestTerminate terminates pid on the caller's goroutine. It may block
// for up to the termination timeout.
func (e *Engine) RequestTerminate(ctx context.Context, pid int32) lifecycle.Outcome {
	out := e.terminator.Terminate(ctx, pid)
	e.metrics.Termination(string(out.Kind))
	if out.Kind == lifecycle.Terminated || out.Kind == lifecycle.Killed {
		e.scheduleRefresh()
	}
	logging.FromContext(ctx).Info(out.Status(), logging.KeyPID, pid, "outcome", string(out.Kind))
	return out
}

// RequestLaunch starts commandLine on the caller's goroutine.
func (e *Engine) RequestLaunch(ctx context.Context, commandLine string) launcher.Outcome {
	out := e.launcher.Launch(ctx, commandLine)
	e.metrics.Launch(string(out.Kind))
	logging.FromContext(ctx).Info(out.Status(), "outcome", string(out.Kind))
	return out
}

// SubmitTerminate queues a termination on the worker pool and returns its
// request id. The request runs detached from any caller context.
func (e *Engine) SubmitTerminate(pid int32) (string, error) {
	id := newRequestID()
	err := e.pool.Submit(func() {
		ctx, start := e.requestContext(id, KindTerminate)
		out := e.RequestTerminate(ctx, pid)
		e.deliver(Result{
			RequestID: id,
			Kind:      KindTerminate,
			Seq:       e.Snapshot().Seq,
			Duration:  time.Since(start),
			Terminate: &out,
		})
	})
	if err != nil {
		e.metrics.RequestRejected()
		return "", fmt.Errorf("submit terminate %d: %w", pid, err)
	}
	log.Debug("terminate queued", logging.KeyRequestID, id, logging.KeyPID, pid)
	return id, nil
}

// SubmitLaunch queues a launch on the worker pool and returns its request id.
func (e *Engine) SubmitLaunch(commandLine string) (string, error) {
	id := newRequestID()
	err := e.pool.Submit(func() {
		ctx, start := e.requestContext(id, KindLaunch)
		out := e.RequestLaunch(ctx, commandLine)
		e.deliver(Result{
			RequestID: id,
			Kind:      KindLaunch,
			Seq:       e.Snapshot().Seq,
			Duration:  time.Since(start),
			Launch:    &out,
		})
	})
	if err != nil {
		e.metrics.RequestRejected()
		return "", fmt.Errorf("submit launch: %w", err)
	}
	log.Debug("launch queued", logging.KeyRequestID, id)
	return id, nil
}

func (e *Engine) requestContext(id string, kind RequestKind) (context.Context, time.Time) {
	logger := logging.WithRequest(log, id, string(kind))
	return logging.NewContext(context.Background(), logger), time.Now()
}

func (e *Engine) deliver(r Result) {
	e.subMu.RLock()
	subs := e.outcomeSubs
	e.subMu.RUnlock()
	for _, fn := range subs {
		notify("outcome", func() { fn(r) })
	}
}
