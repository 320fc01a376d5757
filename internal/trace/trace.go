// Package trace carries trace and span identifiers through context so every
// log line produced for one tick, dispatch or request can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Propagation keys for HTTP headers and gRPC metadata.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

// Context holds the identifiers of a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New returns a root context with fresh IDs.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// Child returns a context for a span nested under c.
func (c Context) Child() Context {
	if c.TraceID == "" {
		return New()
	}
	return Context{TraceID: c.TraceID, SpanID: newSpanID(), ParentSpanID: c.SpanID}
}

// FromContext extracts the trace context, if any.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// Continue builds a context for a span whose caller sent traceID/parentSpanID.
func Continue(traceID, parentSpanID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{TraceID: traceID, SpanID: newSpanID(), ParentSpanID: parentSpanID}
}

func newTraceID() string { return randomHex(16) }

func newSpanID() string { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (c Context) logArgs() []any {
	args := []any{"trace_id", c.TraceID, "span_id", c.SpanID}
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	return args
}

// Span times one operation.
type Span struct {
	Name  string
	Ctx   Context
	Start time.Time

	mu    sync.Mutex
	end   time.Time
	attrs []slog.Attr
}

// StartSpan begins a span nested under whatever span ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := parent.Child()
	s := &Span{Name: name, Ctx: tc, Start: time.Now()}
	return WithContext(ctx, tc), s
}

// SetAttr records an attribute reported when the span ends.
func (s *Span) SetAttr(key string, val any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, val))
	s.mu.Unlock()
}

// End closes the span and logs it at debug level.
// A non-nil err is logged at warn level instead.
func (s *Span) End(err error) {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()

	level := slog.LevelDebug
	args := []any{"span", s}
	if err != nil {
		level = slog.LevelWarn
		args = append(args, "error", err)
	}
	slog.Default().Log(context.Background(), level, "span ended", args...)
}

// Duration returns the span duration, or 0 while it is open.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.Start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	s.mu.Lock()
	attrs = append(attrs, s.attrs...)
	s.mu.Unlock()
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with ctx's trace IDs.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}
