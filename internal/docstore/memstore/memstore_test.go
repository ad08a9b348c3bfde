package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
)

type counter struct {
	N     int    `json:"n"`
	Owner string `json:"owner,omitempty"`
}

func TestSetGetMerge(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("things", "a")

	_, err := s.Get(ctx, ref)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Set(ctx, ref, map[string]any{"n": 1, "owner": "u1"}))
	require.NoError(t, s.Set(ctx, ref, map[string]any{"n": 2}, docstore.Merge()))

	got, err := docstore.GetAs[counter](ctx, s, ref)
	require.NoError(t, err)
	require.Equal(t, counter{N: 2, Owner: "u1"}, got)

	require.NoError(t, s.Set(ctx, ref, map[string]any{"n": 3}))
	got, err = docstore.GetAs[counter](ctx, s, ref)
	require.NoError(t, err)
	require.Equal(t, counter{N: 3}, got)
}

func TestQuery_FiltersOrderLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, owner := range []string{"u1", "u2", "u1", "u1"} {
		_, err := s.Add(ctx, "things", counter{N: i, Owner: owner})
		require.NoError(t, err)
	}
	require.NoError(t, s.Set(ctx, docstore.Doc("other", "x"), counter{N: 9, Owner: "u1"}))

	snaps, err := s.Query(ctx, "things", docstore.Where(docstore.Eq("owner", "u1")))
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	var ns []int
	for _, sn := range snaps {
		var c counter
		require.NoError(t, sn.DataTo(&c))
		ns = append(ns, c.N)
	}
	require.Equal(t, []int{0, 2, 3}, ns)

	q := docstore.Where(docstore.Eq("owner", "u1"), docstore.Eq("n", 2))
	snaps, err = s.Query(ctx, "things", q)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	q = docstore.Where(docstore.Eq("owner", "u1"))
	q.Limit = 1
	snaps, err = s.Query(ctx, "things", q)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestRunTransaction_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("things", "ctr")
	require.NoError(t, s.Set(ctx, ref, counter{}))

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		commited int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
				c, err := docstore.GetAs[counter](ctx, tx, ref)
				if err != nil {
					return err
				}
				c.N++
				return tx.Set(ctx, ref, c)
			})
			if err == nil {
				mu.Lock()
				commited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := docstore.GetAs[counter](ctx, s, ref)
	require.NoError(t, err)
	require.Equal(t, commited, got.N)
}

func TestTxCreate_ExistingAndRace(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("certs", "u1_c1")

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, ref, counter{N: 1})
	}))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, ref, counter{N: 2})
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	// A concurrent writer lands between the read and the commit: the attempt is
	// rejected and retried, and the retry observes the other write.
	ref2 := docstore.Doc("certs", "u2_c1")
	attempts := 0
	err = s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		if _, err := tx.Get(ctx, ref2); err == nil {
			return errs.ErrAlreadyExists
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if attempts == 1 {
			require.NoError(t, s.Set(ctx, ref2, counter{N: 7}))
		}
		return tx.Create(ctx, ref2, counter{N: 8})
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, 2, attempts)

	got, err := docstore.GetAs[counter](ctx, s, ref2)
	require.NoError(t, err)
	require.Equal(t, 7, got.N)
}

func TestTxCreate_AfterAbsentReadIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("certs", "u3_c1")

	var first error
	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		_, err := tx.Get(ctx, ref)
		if attempts == 1 {
			require.ErrorIs(t, err, errs.ErrNotFound)
			require.NoError(t, s.Set(ctx, ref, counter{N: 1}))
			first = tx.Create(ctx, ref, counter{N: 2})
			return first
		}
		require.NoError(t, err)
		return tx.Create(ctx, ref, counter{N: 3})
	})
	require.ErrorIs(t, first, errs.ErrConflict)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, 2, attempts)

	got, err := docstore.GetAs[counter](ctx, s, ref)
	require.NoError(t, err)
	require.Equal(t, 1, got.N)
}

func TestRunTransaction_FailedAttemptWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("things", "a")
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		require.NoError(t, tx.Set(ctx, ref, counter{N: 1}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, ref)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRunTransaction_RetriesExhausted(t *testing.T) {
	s := New()
	calls := 0
	err := s.RunTransaction(context.Background(), func(context.Context, docstore.Tx) error {
		calls++
		return errs.ErrConflict
	})
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Equal(t, docstore.MaxTxAttempts, calls)
}

func TestServerTime_UsesClock(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return at }))
	got, err := s.ServerTime(context.Background())
	require.NoError(t, err)
	require.Equal(t, at, got)

	ref := docstore.Doc("things", "a")
	require.NoError(t, s.Set(context.Background(), ref, counter{}))
	snap, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, at, snap.CreateTime)
}
