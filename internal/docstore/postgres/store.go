package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
)

const (
	sqlGet = `SELECT data, created_at, updated_at FROM documents WHERE collection=$1 AND id=$2`

	sqlGetForUpdate = sqlGet + ` FOR UPDATE`

	sqlExists = `SELECT EXISTS (SELECT 1 FROM documents WHERE collection=$1 AND id=$2)`

	sqlInsert = `INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3::jsonb)`

	sqlReplace = `
INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`

	sqlMerge = `
INSERT INTO documents (collection, id, data) VALUES ($1,$2,$3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET data=documents.data || EXCLUDED.data, updated_at=now()`

	sqlQuery = `
SELECT id, data, created_at, updated_at
FROM documents
WHERE collection=$1 AND data @> $2::jsonb
ORDER BY created_at ASC, id ASC`

	sqlQueryLimit = sqlQuery + `
LIMIT $3`

	sqlNow = `SELECT now()`
)

// Store implements docstore.Store on PostgreSQL. Transactions run at
// SERIALIZABLE isolation and are retried on serialization failures.
type Store struct {
	db  *DB
	log *zap.Logger
}

var _ docstore.Store = (*Store)(nil)

// NewStore constructs a Store.
func NewStore(db *DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func get(ctx context.Context, q querier, sql string, ref docstore.Ref) (*docstore.Snapshot, error) {
	snap := &docstore.Snapshot{Ref: ref}
	var data []byte
	err := q.QueryRow(ctx, sql, ref.Collection, ref.ID).Scan(&data, &snap.CreateTime, &snap.UpdateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, mapErr(err)
	}
	snap.Data = data
	return snap, nil
}

func set(ctx context.Context, q querier, ref docstore.Ref, v any, opts []docstore.SetOption) error {
	raw, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	sql := sqlReplace
	if docstore.ResolveSetOptions(opts).Merge {
		sql = sqlMerge
	}
	_, err = q.Exec(ctx, sql, ref.Collection, ref.ID, string(raw))
	return mapErr(err)
}

func insert(ctx context.Context, q querier, ref docstore.Ref, v any) error {
	raw, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, sqlInsert, ref.Collection, ref.ID, string(raw))
	return mapErr(err)
}

func newRef(collection string) (docstore.Ref, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return docstore.Ref{}, err
	}
	return docstore.Doc(collection, id.String()), nil
}

func serverTime(ctx context.Context, q querier) (time.Time, error) {
	var now time.Time
	if err := q.QueryRow(ctx, sqlNow).Scan(&now); err != nil {
		return time.Time{}, mapErr(err)
	}
	return now.UTC(), nil
}

// Get loads one document.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	return get(ctx, s.db.Pool, sqlGet, ref)
}

// Set upserts one document.
func (s *Store) Set(ctx context.Context, ref docstore.Ref, v any, opts ...docstore.SetOption) error {
	return set(ctx, s.db.Pool, ref, v, opts)
}

// Add inserts a document under a random UUID.
func (s *Store) Add(ctx context.Context, collection string, v any) (docstore.Ref, error) {
	ref, err := newRef(collection)
	if err != nil {
		return docstore.Ref{}, err
	}
	return ref, insert(ctx, s.db.Pool, ref, v)
}

// Query runs a jsonb containment match for the equality filters.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Snapshot, error) {
	filter, err := docstore.FilterDocument(q.Filters)
	if err != nil {
		return nil, err
	}
	args := []any{collection, string(filter)}
	sql := sqlQuery
	if q.Limit > 0 {
		sql = sqlQueryLimit
		args = append(args, q.Limit)
	}

	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*docstore.Snapshot
	for rows.Next() {
		var (
			id   string
			data []byte
			snap docstore.Snapshot
		)
		if err = rows.Scan(&id, &data, &snap.CreateTime, &snap.UpdateTime); err != nil {
			return nil, err
		}
		snap.Ref = docstore.Doc(collection, id)
		snap.Data = data
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// ServerTime returns the database clock.
func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, s.db.Pool)
}

// RunTransaction runs fn in a SERIALIZABLE transaction, retrying on conflicts.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var err error
	for attempt := 1; attempt <= docstore.MaxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !errors.Is(err, errs.ErrConflict) {
			return err
		}
		s.log.Debug("docstore transaction conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("postgres: transaction retries exhausted: %w", err)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = mapErr(e)
		}
	}()

	err = fn(ctx, &pgTx{tx: tx})
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	return get(ctx, t.tx, sqlGetForUpdate, ref)
}

// Create checks existence first so a visible row yields ErrAlreadyExists; a
// row inserted concurrently surfaces as a unique violation, i.e. a conflict.
func (t *pgTx) Create(ctx context.Context, ref docstore.Ref, v any) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, sqlExists, ref.Collection, ref.ID).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if exists {
		return errs.ErrAlreadyExists
	}
	return insert(ctx, t.tx, ref, v)
}

func (t *pgTx) Set(ctx context.Context, ref docstore.Ref, v any, opts ...docstore.SetOption) error {
	return set(ctx, t.tx, ref, v, opts)
}

func (t *pgTx) Add(ctx context.Context, collection string, v any) (docstore.Ref, error) {
	ref, err := newRef(collection)
	if err != nil {
		return docstore.Ref{}, err
	}
	return ref, insert(ctx, t.tx, ref, v)
}

func (t *pgTx) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, t.tx)
}
