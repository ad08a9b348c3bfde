// Package redispub forwards domain events to a Redis pub/sub channel as JSON.
package redispub

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/model"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "lms.domain_events"

// Client is the part of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher implements events.Publisher over Redis PUBLISH.
type Publisher struct {
	rdb     Client
	channel string
}

var _ events.Publisher = (*Publisher)(nil)

// New constructs a Publisher.
func New(rdb Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Publish sends the event envelope on the channel.
func (p *Publisher) Publish(ctx context.Context, ev model.DomainEvent) error {
	raw, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}
