package telemetry

import (
	"context"
	"log"
	"time"

	"messaging-service/internal/pipeline"
)

// Publisher publishes audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter ships audit records for sends, broadcasts and state
// transitions to the workforce audit queue. A nil emitter is a no-op.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// AuditEnvelope is the stable schema of an audit record.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	RequestKind   string       `json:"request_kind,omitempty"`
	UserID        *int         `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload carries the human-readable part of the record.
type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// NewAuditEmitter constructs an AuditEmitter.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. Correlation id and request kind are
// taken from the pipeline context.
func (e *AuditEmitter) Emit(ctx context.Context, level, text string, userID *int) {
	if e == nil || e.publisher == nil {
		return
	}

	requestID := pipeline.CorrelationIDFromContext(ctx)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		RequestKind:   pipeline.RequestKindFromContext(ctx),
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed request_id=%s err=%v", requestID, err)
	}
}
