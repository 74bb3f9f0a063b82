package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/logging"
)

var log = logging.L("lifecycle")

const (
	// DefaultTimeout bounds the wait between the graceful and forced signal.
	DefaultTimeout = 3 * time.Second

	defaultPollInterval = 50 * time.Millisecond
)

var (
	// ErrProcessGone means the target no longer exists.
	ErrProcessGone = errors.New("process no longer exists")
	// ErrPermission means the caller lacks privilege to inspect or signal the target.
	ErrPermission = errors.New("operation not permitted")
)

// Handle is a resolved, live process.
type Handle interface {
	PID() int32
	Name() string
	// Terminate sends the graceful termination signal.
	Terminate() error
	// Kill sends the forced termination signal.
	Kill() error
	// Exited reports whether the process has gone away since it was resolved.
	Exited(ctx context.Context) (bool, error)
}

// Resolver looks up a live process by pid.
type Resolver interface {
	Resolve(ctx context.Context, pid int32) (Handle, error)
}

// State is a step of the termination protocol.
type State int

const (
	StateInit State = iota
	StateResolved
	StateSignaledGraceful
	StateTimedOut
	StateSignaledForced
	StateExited
	StateNotFound
	StatePermissionDenied
	StateFailed
)

var stateNames = map[State]string{
	StateInit:             "init",
	StateResolved:         "resolved",
	StateSignaledGraceful: "signaled_graceful",
	StateTimedOut:         "timed_out",
	StateSignaledForced:   "signaled_forced",
	StateExited:           "exited",
	StateNotFound:         "not_found",
	StatePermissionDenied: "permission_denied",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateSignaledForced, StateExited, StateNotFound, StatePermissionDenied, StateFailed:
		return true
	}
	return false
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the graceful wait bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets how often liveness is checked while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Controller drives the graceful-then-forced termination protocol.
type Controller struct {
	resolver     Resolver
	timeout      time.Duration
	pollInterval time.Duration
}

// NewController creates a Controller. A nil resolver uses the host process table.
func NewController(resolver Resolver, opts ...Option) *Controller {
	if resolver == nil {
		resolver = HostResolver{}
	}
	c := &Controller{
		resolver:     resolver,
		timeout:      DefaultTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the configured graceful wait bound.
func (c *Controller) Timeout() time.Duration {
	return c.timeout
}

// termination carries one request through the state machine.
type termination struct {
	pid    int32
	handle Handle
	name   string
	state  State
	err    error
}

// Terminate asks pid to exit, escalating to a forced kill if it is still
// alive after the timeout. Every failure mode is returned as an Outcome.
// Once the graceful signal is sent the request no longer observes ctx
// cancellation, so escalation always completes within the timeout.
func (c *Controller) Terminate(ctx context.Context, pid int32) (out Outcome) {
	start := time.Now()
	t := &termination{pid: pid, state: StateInit}

	defer func() {
		if r := recover(); r != nil {
			log.Error("termination panicked", logging.KeyPID, pid, "panic", r, "state", t.state.String())
			out = Outcome{Kind: Failed, PID: pid, Name: t.name, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	for !t.state.Terminal() {
		t.state = c.step(ctx, t)
	}

	out = t.outcome()
	log.Info("termination finished",
		logging.KeyPID, pid,
		"name", t.name,
		"state", t.state.String(),
		"outcome", string(out.Kind),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return out
}

// step performs the single transition out of t.state.
func (c *Controller) step(ctx context.Context, t *termination) State {
	switch t.state {
	case StateInit:
		if err := ctx.Err(); err != nil {
			t.err = err
			return StateFailed
		}
		h, err := c.resolver.Resolve(ctx, t.pid)
		if err != nil {
			return t.fail(err, StateNotFound)
		}
		t.handle = h
		t.name = h.Name()
		return StateResolved

	case StateResolved:
		if err := t.handle.Terminate(); err != nil {
			// Gone before the signal landed: nothing left to terminate.
			return t.fail(err, StateExited)
		}
		return StateSignaledGraceful

	case StateSignaledGraceful:
		exited, err := c.wait(context.WithoutCancel(ctx), t.handle)
		if err != nil {
			return t.fail(err, StateExited)
		}
		if exited {
			return StateExited
		}
		return StateTimedOut

	case StateTimedOut:
		if err := t.handle.Kill(); err != nil {
			return t.fail(err, StateExited)
		}
		return StateSignaledForced

	default:
		t.err = fmt.Errorf("no transition from %s", t.state)
		return StateFailed
	}
}

// fail maps err onto a terminal state; gone selects the state used when the
// process has already disappeared.
func (t *termination) fail(err error, gone State) State {
	t.err = err
	switch {
	case errors.Is(err, ErrProcessGone):
		return gone
	case errors.Is(err, ErrPermission):
		return StatePermissionDenied
	default:
		return StateFailed
	}
}

// wait polls for exit until the controller timeout elapses.
func (c *Controller) wait(ctx context.Context, h Handle) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		exited, err := h.Exited(ctx)
		if err != nil {
			return false, err
		}
		if exited {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

func (t *termination) outcome() Outcome {
	o := Outcome{PID: t.pid, Name: t.name}
	switch t.state {
	case StateExited:
		o.Kind = Terminated
	case StateSignaledForced:
		o.Kind = Killed
	case StateNotFound:
		o.Kind = NotFound
	case StatePermissionDenied:
		o.Kind = PermissionDenied
	default:
		o.Kind = Failed
		if t.err != nil {
			o.Message = t.err.Error()
		} else {
			o.Message = "unknown failure"
		}
	}
	return o
}
