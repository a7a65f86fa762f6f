// Package otel traces Pijaz API commands with OpenTelemetry.
//
// Each attempt of an API command becomes one span named "pijaz <command>".
// Retries of the same command share the pijaz.request_id attribute, so a
// retried command shows up as several spans with increasing pijaz.attempt.
//
//	hook := otel.NewHook(otel.WithTracerProvider(tp))
//	manager, err := core.NewServerManager(httpapi.New(), cfg, core.WithTelemetry(hook))
package otel

import (
	"context"
	"errors"
	"strconv"
	"sync"

	global "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pijaz/pijaz-go/core"
)

const instrumentationName = "github.com/pijaz/pijaz-go/contrib/otel"

// Attribute keys set on every span.
const (
	AttrCommand   = attribute.Key("pijaz.command")
	AttrRequestID = attribute.Key("pijaz.request_id")
	AttrAttempt   = attribute.Key("pijaz.attempt")
	AttrErrorType = attribute.Key("error.type")
)

// Option configures a Hook.
type Option func(*Hook)

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Hook) {
		if tp != nil {
			h.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithParent makes every span a child of the span in ctx.
func WithParent(ctx context.Context) Option {
	return func(h *Hook) {
		if ctx != nil {
			h.parent = ctx
		}
	}
}

// Hook implements core.TelemetryHook with OpenTelemetry spans.
// It is safe for concurrent use.
type Hook struct {
	tracer trace.Tracer
	parent context.Context

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewHook creates a tracing hook.
func NewHook(opts ...Option) *Hook {
	h := &Hook{
		tracer: global.GetTracerProvider().Tracer(instrumentationName),
		parent: context.Background(),
		spans:  make(map[string]trace.Span),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func spanKey(id core.RequestID, attempt int) string {
	return string(id) + "#" + strconv.Itoa(attempt)
}

// OnCommandStart opens a span for the attempt.
func (h *Hook) OnCommandStart(e core.CommandStartEvent) {
	_, span := h.tracer.Start(h.parent, "pijaz "+e.Command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(e.Start),
		trace.WithAttributes(
			AttrCommand.String(e.Command),
			AttrRequestID.String(string(e.RequestID)),
			AttrAttempt.Int(e.Attempt),
		),
	)

	h.mu.Lock()
	h.spans[spanKey(e.RequestID, e.Attempt)] = span
	h.mu.Unlock()
}

// OnCommandEnd closes the span of the attempt, recording any error.
func (h *Hook) OnCommandEnd(e core.CommandEndEvent) {
	key := spanKey(e.RequestID, e.Attempt)

	h.mu.Lock()
	span, ok := h.spans[key]
	delete(h.spans, key)
	h.mu.Unlock()

	if !ok {
		return
	}

	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetAttributes(AttrErrorType.String(errorType(e.Err)))
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End(trace.WithTimestamp(e.End))
}

// inFlight returns the number of open spans.
func (h *Hook) inFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spans)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrRejected):
		return "rejected"
	case errors.Is(err, core.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, core.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

var _ core.TelemetryHook = (*Hook)(nil)
