// Package kafkapub forwards domain events to Kafka topics.
package kafkapub

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/model"
)

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements events.Publisher. Messages are keyed by the actor user
// id so one user's events stay ordered within a partition.
type Publisher struct {
	writer       Writer
	topicByEvent map[string]string
	defaultTopic string
}

var _ events.Publisher = (*Publisher)(nil)

// New builds a publisher over a kafka.Writer. kafka-go connects lazily on
// the first write.
func New(brokers []string, defaultTopic string, topicByEvent map[string]string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return NewWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, defaultTopic, topicByEvent), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w Writer, defaultTopic string, topicByEvent map[string]string) *Publisher {
	return &Publisher{writer: w, topicByEvent: topicByEvent, defaultTopic: defaultTopic}
}

// Topic resolves the topic for an event type: mapped, then default, then the type name.
func (p *Publisher) Topic(t model.EventType) string {
	if mapped, ok := p.topicByEvent[string(t)]; ok && mapped != "" {
		return mapped
	}
	if p.defaultTopic != "" {
		return p.defaultTopic
	}
	return string(t)
}

// Publish writes one message.
func (p *Publisher) Publish(ctx context.Context, ev model.DomainEvent) error {
	raw, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.Topic(ev.Type),
		Key:   []byte(ev.ActorUserID),
		Value: raw,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error { return p.writer.Close() }
