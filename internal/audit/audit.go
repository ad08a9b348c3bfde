// Package audit appends immutable business audit entries to audit_logs.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/model"
)

// Logger records audit entries.
type Logger interface {
	// Record appends an entry on its own; failures are logged and not returned.
	Record(ctx context.Context, e model.AuditEntry)
	// RecordTx appends an entry as part of tx, so it commits or aborts with it.
	RecordTx(ctx context.Context, tx docstore.Tx, e model.AuditEntry) error
}

// StoreLogger writes entries into the document store.
type StoreLogger struct {
	store docstore.Store
	log   *zap.Logger
}

var _ Logger = (*StoreLogger)(nil)

// NewStoreLogger constructs a StoreLogger.
func NewStoreLogger(store docstore.Store, log *zap.Logger) *StoreLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreLogger{store: store, log: log}
}

// Record appends e outside any transaction.
func (l *StoreLogger) Record(ctx context.Context, e model.AuditEntry) {
	now, err := l.store.ServerTime(ctx)
	if err == nil {
		e.Timestamp = now
		_, err = l.store.Add(ctx, model.CollAuditLogs, e)
	}
	if err != nil {
		l.log.Error("audit write failed", zap.String("action", e.Action), zap.String("target", e.Target.ID), zap.Error(err))
		return
	}
	l.log.Info("audit", zap.String("action", e.Action), zap.String("actor", e.Actor.UID), zap.String("target", e.Target.ID))
}

// RecordTx appends e inside tx with the transaction's server timestamp.
func (l *StoreLogger) RecordTx(ctx context.Context, tx docstore.Tx, e model.AuditEntry) error {
	now, err := tx.ServerTime(ctx)
	if err != nil {
		return err
	}
	e.Timestamp = now
	if _, err := tx.Add(ctx, model.CollAuditLogs, e); err != nil {
		return fmt.Errorf("audit %s: %w", e.Action, err)
	}
	return nil
}

// Nop discards entries.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, model.AuditEntry) {}

// RecordTx does nothing.
func (Nop) RecordTx(context.Context, docstore.Tx, model.AuditEntry) error { return nil }
