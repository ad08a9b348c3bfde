package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/docstore/memstore"
	"github.com/and161185/lms-core/internal/model"
)

func TestStoreLogger_RecordAndRecordTx(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2031, 2, 3, 4, 5, 6, 0, time.UTC)
	s := memstore.New(memstore.WithClock(func() time.Time { return at }))
	l := NewStoreLogger(s, zaptest.NewLogger(t))

	l.Record(ctx, model.AuditEntry{
		Actor:  model.AuditActor{UID: "admin"},
		Action: "ENROLLMENT_ACTIVATED",
		Target: model.AuditTarget{Collection: model.CollEnrollments, ID: "u1_c1"},
	})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return l.RecordTx(ctx, tx, model.AuditEntry{
			Actor:  model.AuditActor{UID: "system"},
			Action: "CERTIFICATE_ISSUED",
			Target: model.AuditTarget{Collection: model.CollCertificates, ID: "u1_c1"},
		})
	})
	require.NoError(t, err)

	snaps, err := s.Query(ctx, model.CollAuditLogs, docstore.Query{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	var e model.AuditEntry
	require.NoError(t, snaps[1].DataTo(&e))
	require.Equal(t, "CERTIFICATE_ISSUED", e.Action)
	require.Equal(t, at, e.Timestamp)
}

func TestStoreLogger_RecordTxRolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	l := NewStoreLogger(s, zaptest.NewLogger(t))

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		require.NoError(t, l.RecordTx(ctx, tx, model.AuditEntry{Action: "X"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	snaps, err := s.Query(ctx, model.CollAuditLogs, docstore.Query{})
	require.NoError(t, err)
	require.Empty(t, snaps)
}
