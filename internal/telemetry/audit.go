package telemetry

import (
	"context"
	"log"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Record is one audit entry. UserID and ConversationID are optional and
// omitted from the envelope when absent.
type Record struct {
	Level          string
	Text           string
	RequestID      string
	UserID         *int64
	ConversationID *int64
}

type AuditEnvelope struct {
	SchemaVersion  int          `json:"schema_version"`
	EventType      string       `json:"event_type"`
	OccurredAt     string       `json:"occurred_at"`
	Service        string       `json:"service"`
	Environment    string       `json:"environment"`
	RequestID      string       `json:"request_id"`
	UserID         *int64       `json:"user_id,omitempty"`
	ConversationID *int64       `json:"conversation_id,omitempty"`
	Payload        AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes an audit record. A nil emitter or missing publisher makes it
// a no-op so call sites never have to guard.
func (e *AuditEmitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s request_id=%s user_id=%v text=%q", rec.Level, rec.RequestID, rec.UserID, rec.Text)

	envelope := AuditEnvelope{
		SchemaVersion:  1,
		EventType:      "audit_log",
		OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Service:        e.service,
		Environment:    e.environment,
		RequestID:      rec.RequestID,
		UserID:         rec.UserID,
		ConversationID: rec.ConversationID,
		Payload: AuditPayload{
			Level: rec.Level,
			Text:  rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
