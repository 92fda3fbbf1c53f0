// Package pipeline wraps every command and query with cross-cutting
// correlation, timing and failure logging. It is an observability layer
// only: errors pass through unchanged, never swallowed or translated.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/observability"
)

// Handler is one command or query execution. Results travel through
// closure capture at the call site.
type Handler func(ctx context.Context) error

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

type contextKey int

const (
	correlationIDKey contextKey = iota
	requestKindKey
)

// Pipeline is an ordered middleware chain applied to every execution.
type Pipeline struct {
	middlewares []Middleware
}

// New builds a pipeline. Middlewares run in the given order, outermost
// first.
func New(middlewares ...Middleware) *Pipeline {
	return &Pipeline{middlewares: middlewares}
}

// Default is the standard chain: correlation then observation.
func Default() *Pipeline {
	return New(Correlate(), Observe())
}

// Execute runs op under the middleware chain, tagging the context with the
// request kind.
func (p *Pipeline) Execute(ctx context.Context, kind string, op Handler) error {
	ctx = context.WithValue(ctx, requestKindKey, kind)
	wrapped := op
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		wrapped = p.middlewares[i](wrapped)
	}
	return wrapped(ctx)
}

// Correlate attaches a correlation id: an inbound one if the transport
// already set it, else the ambient trace id, else a minted uuid.
func Correlate() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context) error {
			if CorrelationIDFromContext(ctx) == "" {
				id := ""
				if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
					id = span.TraceID().String()
				}
				if id == "" {
					id = uuid.NewString()
				}
				ctx = WithCorrelationID(ctx, id)
			}
			return next(ctx)
		}
	}
}

// Observe measures elapsed time and logs the outcome. Failures are logged
// with full error and correlation id, then re-raised unchanged.
func Observe() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context) error {
			kind := RequestKindFromContext(ctx)
			correlationID := CorrelationIDFromContext(ctx)
			start := time.Now()

			err := next(ctx)
			elapsed := time.Since(start)
			if err != nil {
				observability.ObserveRequest(kind, "failure", elapsed)
				log.Printf("request failed kind=%s correlation_id=%s duration_ms=%d err=%v",
					kind, correlationID, elapsed.Milliseconds(), err)
				return err
			}
			observability.ObserveRequest(kind, "success", elapsed)
			log.Printf("request completed kind=%s correlation_id=%s duration_ms=%d",
				kind, correlationID, elapsed.Milliseconds())
			return nil
		}
	}
}

// WithCorrelationID stores a correlation id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or empty.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestKindFromContext returns the request kind set by Execute.
func RequestKindFromContext(ctx context.Context) string {
	if kind, ok := ctx.Value(requestKindKey).(string); ok {
		return kind
	}
	return "unknown"
}
