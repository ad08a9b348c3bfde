// Package events is the durable domain-event log with in-process dispatch.
// Publish appends to domain_events and delivers inline; whatever is left
// unprocessed is redelivered by OutboxWorker, so handlers must be idempotent.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/model"
)

// Handler reacts to one event type.
type Handler func(ctx context.Context, ev model.DomainEvent) error

// Publisher forwards events to consumers outside this process.
type Publisher interface {
	Publish(ctx context.Context, ev model.DomainEvent) error
}

// Outbox appends events inside a store transaction and delivers them after
// commit.
type Outbox interface {
	Append(ctx context.Context, tx docstore.Tx, ev model.DomainEvent) (model.DomainEvent, error)
	Dispatch(ctx context.Context, ev model.DomainEvent)
}

var _ Outbox = (*Bus)(nil)

// Bus appends events and dispatches them to subscribed handlers.
type Bus struct {
	store docstore.Store
	sink  Publisher
	log   *zap.Logger

	mu       sync.RWMutex
	handlers map[model.EventType][]Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithPublisher forwards every delivered event to p.
func WithPublisher(p Publisher) Option { return func(b *Bus) { b.sink = p } }

// NewBus constructs a Bus.
func NewBus(store docstore.Store, log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{store: store, log: log, handlers: make(map[model.EventType][]Handler)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t model.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish appends ev with a server timestamp and processed=false, then delivers
// it inline. A delivery failure is logged and not returned; the event stays
// unprocessed for the outbox worker.
func (b *Bus) Publish(ctx context.Context, ev model.DomainEvent) (string, error) {
	now, err := b.store.ServerTime(ctx)
	if err != nil {
		return "", fmt.Errorf("server time: %w", err)
	}
	ev = pending(ev, now)
	ref, err := b.store.Add(ctx, model.CollDomainEvents, ev)
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	ev.ID = ref.ID
	b.Dispatch(ctx, ev)
	return ev.ID, nil
}

// Append writes ev into the outbox as part of tx, so the event commits or
// aborts together with the state change. Call Dispatch with the returned event
// after the transaction commits.
func (b *Bus) Append(ctx context.Context, tx docstore.Tx, ev model.DomainEvent) (model.DomainEvent, error) {
	now, err := tx.ServerTime(ctx)
	if err != nil {
		return ev, fmt.Errorf("server time: %w", err)
	}
	ev = pending(ev, now)
	ref, err := tx.Add(ctx, model.CollDomainEvents, ev)
	if err != nil {
		return ev, fmt.Errorf("append event: %w", err)
	}
	ev.ID = ref.ID
	return ev, nil
}

// Dispatch delivers an already appended event and marks it processed on
// success. Failures are logged; the outbox worker retries the event.
func (b *Bus) Dispatch(ctx context.Context, ev model.DomainEvent) {
	if err := b.deliver(ctx, ev); err != nil {
		b.log.Error("inline event delivery failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	now, err := b.store.ServerTime(ctx)
	if err != nil {
		now = ev.OccurredAt
	}
	ref := docstore.Doc(model.CollDomainEvents, ev.ID)
	if err := b.store.Set(ctx, ref, processedPatch(now), docstore.Merge()); err != nil {
		b.log.Warn("mark event processed failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func pending(ev model.DomainEvent, now time.Time) model.DomainEvent {
	ev.OccurredAt = now
	ev.Processed = false
	ev.DeadLettered = false
	ev.ProcessedAt = nil
	ev.Attempts = 0
	ev.LastError = ""
	ev.NextAttemptAt = nil
	ev.ClaimToken = ""
	ev.ClaimUntil = nil
	ev.DeadLetteredAt = nil
	return ev
}

// deliver runs every handler for the event type and then the external sink.
func (b *Bus) deliver(ctx context.Context, ev model.DomainEvent) error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Type]...)
	b.mu.RUnlock()

	var errList []error
	for _, h := range hs {
		if err := safeCall(ctx, h, ev); err != nil {
			errList = append(errList, err)
		}
	}
	if err := errors.Join(errList...); err != nil {
		return err
	}
	if b.sink != nil {
		if err := b.sink.Publish(ctx, ev); err != nil {
			return fmt.Errorf("forward event: %w", err)
		}
	}
	return nil
}

func safeCall(ctx context.Context, h Handler, ev model.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
