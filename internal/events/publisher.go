package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/model"
)

// Envelope is the wire form of an event sent to external consumers. Delivery
// bookkeeping is not part of it.
type Envelope struct {
	ID          string             `json:"id"`
	Type        model.EventType    `json:"type"`
	ActorUserID string             `json:"actorUserId"`
	TargetID    string             `json:"targetId"`
	Context     model.EventContext `json:"context"`
	Payload     map[string]any     `json:"payload,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Encode renders ev as a JSON Envelope.
func Encode(ev model.DomainEvent) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:          ev.ID,
		Type:        ev.Type,
		ActorUserID: ev.ActorUserID,
		TargetID:    ev.TargetID,
		Context:     ev.Context,
		Payload:     ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
}

// LogPublisher only logs events.
type LogPublisher struct {
	log *zap.Logger
}

var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

// Publish logs the event type and ids.
func (p *LogPublisher) Publish(_ context.Context, ev model.DomainEvent) error {
	p.log.Info("published event",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("actor", ev.ActorUserID),
		zap.String("target", ev.TargetID),
	)
	return nil
}
