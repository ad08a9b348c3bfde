// Package memstore is an in-process docstore.Store with optimistic transactions.
// Every document carries a version; a transaction records the versions it read
// and commits only if none of them changed in the meantime.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
)

type doc struct {
	data    []byte
	version uint64
	seq     uint64
	created time.Time
	updated time.Time
}

// Store implements docstore.Store in memory.
type Store struct {
	mu    sync.RWMutex
	docs  map[docstore.Ref]*doc
	seq   uint64
	clock func() time.Time
}

var _ docstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the server clock (tests).
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.clock = fn } }

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{docs: make(map[docstore.Ref]*doc), clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func snapshotOf(ref docstore.Ref, d *doc) *docstore.Snapshot {
	return &docstore.Snapshot{
		Ref:        ref,
		Data:       append(json.RawMessage(nil), d.data...),
		CreateTime: d.created,
		UpdateTime: d.updated,
	}
}

// Get returns a copy of the document.
func (s *Store) Get(_ context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return snapshotOf(ref, d), nil
}

// Set writes outside of a transaction.
func (s *Store) Set(_ context.Context, ref docstore.Ref, v any, opts ...docstore.SetOption) error {
	raw, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	merge := docstore.ResolveSetOptions(opts).Merge
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applySetLocked(ref, raw, merge)
}

// Add appends a document with a generated id.
func (s *Store) Add(_ context.Context, collection string, v any) (docstore.Ref, error) {
	raw, err := docstore.Encode(v)
	if err != nil {
		return docstore.Ref{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return docstore.Ref{}, err
	}
	ref := docstore.Doc(collection, id.String())
	s.mu.Lock()
	defer s.mu.Unlock()
	return ref, s.applySetLocked(ref, raw, false)
}

func (s *Store) applySetLocked(ref docstore.Ref, raw []byte, merge bool) error {
	now := s.now()
	d, ok := s.docs[ref]
	if !ok {
		s.seq++
		s.docs[ref] = &doc{data: raw, version: 1, seq: s.seq, created: now, updated: now}
		return nil
	}
	if merge {
		merged, err := docstore.MergeJSON(d.data, raw)
		if err != nil {
			return err
		}
		raw = merged
	}
	d.data = raw
	d.version++
	d.updated = now
	return nil
}

// Query scans the collection and applies equality filters.
func (s *Store) Query(_ context.Context, collection string, q docstore.Query) ([]*docstore.Snapshot, error) {
	want := make(map[string]any, len(q.Filters))
	for _, f := range q.Filters {
		n, err := normalize(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		want[f.Field] = n
	}

	type hit struct {
		seq  uint64
		snap *docstore.Snapshot
	}
	var hits []hit

	s.mu.RLock()
	for ref, d := range s.docs {
		if ref.Collection != collection {
			continue
		}
		ok, err := matches(d.data, want)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			hits = append(hits, hit{seq: d.seq, snap: snapshotOf(ref, d)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]*docstore.Snapshot, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.snap)
	}
	return out, nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

func matches(data []byte, want map[string]any) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	for k, v := range want {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false, nil
		}
	}
	return true, nil
}

// ServerTime returns the store clock.
func (s *Store) ServerTime(context.Context) (time.Time, error) { return s.now(), nil }

// RunTransaction executes fn with optimistic validation at commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < docstore.MaxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tx{s: s, reads: make(map[docstore.Ref]uint64)}
		if err := fn(ctx, t); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				continue
			}
			return err
		}
		if err := t.commit(); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("memstore: transaction retries exhausted: %w", errs.ErrConflict)
}

type writeKind int

const (
	writeSet writeKind = iota
	writeCreate
)

type write struct {
	kind  writeKind
	ref   docstore.Ref
	data  []byte
	merge bool
}

type tx struct {
	s      *Store
	reads  map[docstore.Ref]uint64 // version observed; 0 when absent
	writes []write
}

func (t *tx) observe(ref docstore.Ref) (*doc, bool) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	d, ok := t.s.docs[ref]
	if _, seen := t.reads[ref]; !seen {
		var v uint64
		if ok {
			v = d.version
		}
		t.reads[ref] = v
	}
	if !ok {
		return nil, false
	}
	return &doc{data: append([]byte(nil), d.data...), created: d.created, updated: d.updated}, true
}

func (t *tx) Get(_ context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	d, ok := t.observe(ref)
	if !ok {
		return nil, errs.ErrNotFound
	}
	return snapshotOf(ref, d), nil
}

func (t *tx) Create(_ context.Context, ref docstore.Ref, v any) error {
	raw, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	seen, wasRead := t.reads[ref]
	if _, ok := t.observe(ref); ok {
		if wasRead && seen == 0 {
			// read as absent earlier in this attempt; someone else created it since
			return errs.ErrConflict
		}
		return errs.ErrAlreadyExists
	}
	t.writes = append(t.writes, write{kind: writeCreate, ref: ref, data: raw})
	return nil
}

func (t *tx) Set(_ context.Context, ref docstore.Ref, v any, opts ...docstore.SetOption) error {
	raw, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, write{kind: writeSet, ref: ref, data: raw, merge: docstore.ResolveSetOptions(opts).Merge})
	return nil
}

func (t *tx) Add(_ context.Context, collection string, v any) (docstore.Ref, error) {
	raw, err := docstore.Encode(v)
	if err != nil {
		return docstore.Ref{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return docstore.Ref{}, err
	}
	ref := docstore.Doc(collection, id.String())
	t.writes = append(t.writes, write{kind: writeCreate, ref: ref, data: raw})
	return ref, nil
}

func (t *tx) ServerTime(context.Context) (time.Time, error) { return t.s.now(), nil }

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for ref, seen := range t.reads {
		var cur uint64
		if d, ok := t.s.docs[ref]; ok {
			cur = d.version
		}
		if cur != seen {
			return errs.ErrConflict
		}
	}
	for _, w := range t.writes {
		if w.kind == writeCreate {
			if _, ok := t.s.docs[w.ref]; ok {
				return errs.ErrConflict
			}
		}
	}
	for _, w := range t.writes {
		if err := t.s.applySetLocked(w.ref, w.data, w.merge); err != nil {
			return err
		}
	}
	return nil
}
