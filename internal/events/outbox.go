package events

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
)

// WorkerConfig tunes the outbox worker. Zero values take defaults.
type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	ClaimTTL    time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

// Stats summarizes one worker pass.
type Stats struct {
	Claimed      int
	Delivered    int
	Failed       int
	DeadLettered int
}

// OutboxWorker redelivers unprocessed events with retry and backoff.
type OutboxWorker struct {
	bus *Bus
	log *zap.Logger
	cfg WorkerConfig
}

// NewOutboxWorker constructs the redelivery loop.
func NewOutboxWorker(bus *Bus, log *zap.Logger, cfg WorkerConfig) *OutboxWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxWorker{bus: bus, log: log, cfg: cfg.withDefaults()}
}

// Run executes ProcessOnce periodically until ctx is done.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("outbox iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims a batch of due events and delivers each one.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (Stats, error) {
	var st Stats
	token, err := uuid.NewV4()
	if err != nil {
		return st, err
	}
	claimToken := token.String()

	claimed, err := w.claim(ctx, claimToken)
	if err != nil {
		return st, err
	}
	st.Claimed = len(claimed)

	for _, ev := range claimed {
		if ev.Attempts >= w.cfg.MaxRetries {
			st.DeadLettered++
			w.deadLetter(ctx, ev, claimToken, "retry threshold reached before delivery")
			continue
		}

		if err := w.bus.deliver(ctx, ev); err != nil {
			st.Failed++
			attempts := ev.Attempts + 1
			if attempts >= w.cfg.MaxRetries {
				st.DeadLettered++
				w.log.Error("event moved to dead letter",
					zap.String("event_id", ev.ID),
					zap.String("event_type", string(ev.Type)),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				ev.Attempts = attempts
				w.deadLetter(ctx, ev, claimToken, err.Error())
				continue
			}
			w.log.Warn("event delivery failed; retry scheduled",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			w.markFailed(ctx, ev, claimToken, attempts, err.Error())
			continue
		}
		st.Delivered++
		w.markDelivered(ctx, ev, claimToken)
	}

	if st.Claimed > 0 {
		w.log.Info("outbox batch processed",
			zap.Int("batch_size", st.Claimed),
			zap.Int("delivered", st.Delivered),
			zap.Int("failed", st.Failed),
			zap.Int("dead_lettered", st.DeadLettered),
		)
	}
	return st, nil
}

// Backoff is the delay before the given (1-based) retry attempt.
func (w *OutboxWorker) Backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

func due(ev model.DomainEvent, now time.Time) bool {
	if ev.Processed || ev.DeadLettered {
		return false
	}
	if ev.ClaimUntil != nil && ev.ClaimUntil.After(now) {
		return false
	}
	return ev.NextAttemptAt == nil || !ev.NextAttemptAt.After(now)
}

func (w *OutboxWorker) claim(ctx context.Context, claimToken string) ([]model.DomainEvent, error) {
	store := w.bus.store
	now, err := store.ServerTime(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := store.Query(ctx, model.CollDomainEvents, docstore.Where(
		docstore.Eq("processed", false),
		docstore.Eq("deadLettered", false),
	))
	if err != nil {
		return nil, err
	}

	claimUntil := now.Add(w.cfg.ClaimTTL)
	var out []model.DomainEvent
	for _, sn := range snaps {
		if len(out) >= w.cfg.BatchSize {
			break
		}
		var ev model.DomainEvent
		if err := sn.DataTo(&ev); err != nil {
			return nil, err
		}
		if !due(ev, now) {
			continue
		}

		ref := sn.Ref
		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			cur, err := docstore.GetAs[model.DomainEvent](ctx, tx, ref)
			if err != nil {
				return err
			}
			if !due(cur, now) {
				return errAlreadyClaimed
			}
			ev = cur
			return tx.Set(ctx, ref, map[string]any{
				"claimToken": claimToken,
				"claimUntil": claimUntil,
			}, docstore.Merge())
		})
		switch {
		case err == nil:
			ev.ID = ref.ID
			ev.ClaimToken = claimToken
			out = append(out, ev)
		case errors.Is(err, errAlreadyClaimed), errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrNotFound):
		default:
			return out, err
		}
	}
	return out, nil
}

var errAlreadyClaimed = errors.New("event already claimed")

// finish applies patch if the event is still held under claimToken.
func (w *OutboxWorker) finish(ctx context.Context, ev model.DomainEvent, claimToken string, patch map[string]any) {
	ref := docstore.Doc(model.CollDomainEvents, ev.ID)
	err := w.bus.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		cur, err := docstore.GetAs[model.DomainEvent](ctx, tx, ref)
		if err != nil {
			return err
		}
		if cur.ClaimToken != claimToken {
			return errAlreadyClaimed
		}
		patch["claimToken"] = nil
		patch["claimUntil"] = nil
		return tx.Set(ctx, ref, patch, docstore.Merge())
	})
	if err != nil {
		w.log.Warn("outbox bookkeeping failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func processedPatch(at time.Time) map[string]any {
	return map[string]any{"processed": true, "processedAt": at}
}

func (w *OutboxWorker) markDelivered(ctx context.Context, ev model.DomainEvent, claimToken string) {
	now, err := w.bus.store.ServerTime(ctx)
	if err != nil {
		now = time.Now().UTC()
	}
	w.finish(ctx, ev, claimToken, processedPatch(now))
}

func (w *OutboxWorker) markFailed(ctx context.Context, ev model.DomainEvent, claimToken string, attempts int, msg string) {
	now, err := w.bus.store.ServerTime(ctx)
	if err != nil {
		now = time.Now().UTC()
	}
	w.finish(ctx, ev, claimToken, map[string]any{
		"attempts":      attempts,
		"lastError":     msg,
		"nextAttemptAt": now.Add(w.Backoff(attempts)),
	})
}

func (w *OutboxWorker) deadLetter(ctx context.Context, ev model.DomainEvent, claimToken string, msg string) {
	now, err := w.bus.store.ServerTime(ctx)
	if err != nil {
		now = time.Now().UTC()
	}
	w.finish(ctx, ev, claimToken, map[string]any{
		"attempts":       ev.Attempts,
		"lastError":      msg,
		"deadLettered":   true,
		"deadLetteredAt": now,
	})
}
