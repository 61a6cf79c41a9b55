package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/foliodesk/be-folio-core/internal/repository"
)

// EventPublisher publishes workflow events to NATS for downstream consumers
// (reporting, integrations).
//
// Subject convention: notifications.folio.<event_kind>
//
// All publish operations are non-fatal. Errors are logged but never propagated
// to the caller, so bus failures never interrupt workflow operations.
type EventPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// RecordEvent is the JSON schema published to NATS.
type RecordEvent struct {
	EventKind  string    `json:"event_kind"`
	RecordCode string    `json:"record_code"`
	OrgUnit    string    `json:"org_unit"`
	ActorPhone string    `json:"actor_phone,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEventPublisher connects to NATS. A nil return with error means the bus
// is unreachable; callers may run without one.
func NewEventPublisher(url string, log zerolog.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &EventPublisher{conn: conn, log: log}, nil
}

// PublishRecordEvent publishes one workflow event.
func (p *EventPublisher) PublishRecordEvent(ctx context.Context, event repository.EventKind, recordCode, orgUnit, actorPhone string, recipients []string) {
	if p == nil || p.conn == nil {
		return
	}

	payload := &RecordEvent{
		EventKind:  string(event),
		RecordCode: recordCode,
		OrgUnit:    orgUnit,
		ActorPhone: actorPhone,
		Recipients: recipients,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("event_kind", string(event)).Msg("event bus: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.folio.%s", event)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("record_code", recordCode).
			Msg("event bus: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("record_code", recordCode).
		Int("recipients", len(recipients)).
		Msg("event bus: event published")
}

// Close drains the connection.
func (p *EventPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
