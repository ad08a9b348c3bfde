package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestStore_Get_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	ts := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(sqlGet)).
		WithArgs("enrollments", "u1_c1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "created_at", "updated_at"}).
			AddRow([]byte(`{"status":"active"}`), ts, ts))

	snap, err := s.Get(context.Background(), docstore.Doc("enrollments", "u1_c1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"active"}`, string(snap.Data))
	require.Equal(t, ts, snap.CreateTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(sqlGet)).
		WithArgs("courses", "c1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), docstore.Doc("courses", "c1"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_SetMerge_UsesConcatenation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	mock.ExpectExec(`DO UPDATE SET data=documents.data \|\| EXCLUDED.data`).
		WithArgs("enrollments", "u1_c1", `{"status":"completed"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Set(context.Background(), docstore.Doc("enrollments", "u1_c1"),
		map[string]any{"status": "completed"}, docstore.Merge())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query_ContainmentAndLimit(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	ts := time.Now().UTC()
	mock.ExpectQuery(`WHERE collection=\$1 AND data @> \$2::jsonb`).
		WithArgs("progress", `{"status":"completed","userId":"u1"}`, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data", "created_at", "updated_at"}).
			AddRow("u1_c1_l1", []byte(`{"lessonId":"l1"}`), ts, ts).
			AddRow("u1_c1_l2", []byte(`{"lessonId":"l2"}`), ts, ts))

	q := docstore.Where(docstore.Eq("userId", "u1"), docstore.Eq("status", "completed"))
	q.Limit = 10
	snaps, err := s.Query(context.Background(), "progress", q)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "progress/u1_c1_l2", snaps[1].Ref.Path())
}

func TestStore_RunTransaction_CreateCommits(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).
		WithArgs("certificates", "u1_c1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(sqlInsert)).
		WithArgs("certificates", "u1_c1", `{"status":"valid"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, docstore.Doc("certificates", "u1_c1"), map[string]any{"status": "valid"})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_CreateExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).
		WithArgs("certificates", "u1_c1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Create(ctx, docstore.Doc("certificates", "u1_c1"), map[string]any{"status": "valid"})
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_RetriesSerializationFailure(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	ref := docstore.Doc("enrollments", "u1_c1")
	ts := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlGetForUpdate)).
		WithArgs("enrollments", "u1_c1").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlGetForUpdate)).
		WithArgs("enrollments", "u1_c1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "created_at", "updated_at"}).
			AddRow([]byte(`{"status":"active"}`), ts, ts))
	mock.ExpectExec(`DO UPDATE SET data=documents.data \|\| EXCLUDED.data`).
		WithArgs("enrollments", "u1_c1", `{"status":"completed"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	calls := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		calls++
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		return tx.Set(ctx, ref, map[string]any{"status": "completed"}, docstore.Merge())
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_OtherErrorNotRetried(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db, nil)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := s.RunTransaction(context.Background(), func(context.Context, docstore.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestMapErr(t *testing.T) {
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "40P01"}), errs.ErrConflict)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505"}), errs.ErrConflict)
	other := &pgconn.PgError{Code: "42P01"}
	require.Equal(t, error(other), mapErr(other))
	require.NoError(t, mapErr(nil))
}
