package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyRequestID  = "requestId"
	KeyRequest    = "request"
	KeyPID        = "pid"
	KeySeq        = "seq"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// sink is the process-wide destination of every logger. Init swaps the
// handler it holds, so package-level loggers created at import time follow
// the configured format and level.
type sink struct {
	current atomic.Pointer[handlerRef]
	gen     atomic.Uint64
}

// handlerRef pairs a handler with the sink generation it was built for.
type handlerRef struct {
	handler slog.Handler
	gen     uint64
}

func (s *sink) set(h slog.Handler) {
	s.current.Store(&handlerRef{handler: h, gen: s.gen.Add(1)})
}

// scope is one With or WithGroup call, replayed in order onto the sink handler.
type scope struct {
	group string
	attrs []slog.Attr
}

// routedHandler forwards records to the sink's current handler with its
// scopes applied. The scoped handler is rebuilt only after Init.
type routedHandler struct {
	sink   *sink
	scopes []scope
	cached atomic.Pointer[handlerRef]
}

func (h *routedHandler) resolve() slog.Handler {
	cur := h.sink.current.Load()
	if c := h.cached.Load(); c != nil && c.gen == cur.gen {
		return c.handler
	}

	handler := cur.handler
	for _, sc := range h.scopes {
		if sc.group != "" {
			handler = handler.WithGroup(sc.group)
		} else {
			handler = handler.WithAttrs(sc.attrs)
		}
	}
	h.cached.Store(&handlerRef{handler: handler, gen: cur.gen})
	return handler
}

func (h *routedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *routedHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *routedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(scope{attrs: attrs})
}

func (h *routedHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(scope{group: name})
}

func (h *routedHandler) derive(sc scope) *routedHandler {
	scopes := make([]scope, 0, len(h.scopes)+1)
	scopes = append(scopes, h.scopes...)
	scopes = append(scopes, sc)
	return &routedHandler{sink: h.sink, scopes: scopes}
}

// newHandler builds the text or JSON handler Init installs.
func newHandler(format, level string, output io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}

var (
	root          = newSink(newHandler("text", "info", os.Stderr))
	defaultLogger = slog.New(&routedHandler{sink: root})
)

func newSink(h slog.Handler) *sink {
	s := &sink{}
	s.set(h)
	return s
}

func init() {
	slog.SetDefault(defaultLogger)
}

// Init switches every logger to format ("text" or "json") at level, writing
// to output (stderr when nil; stdout carries command output). It may be
// called again to reconfigure.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	root.set(newHandler(format, level, output))
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithRequest returns a child logger with request correlation fields attached.
func WithRequest(logger *slog.Logger, requestID, kind string) *slog.Logger {
	return logger.With(
		slog.String(KeyRequestID, requestID),
		slog.String(KeyRequest, kind),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
