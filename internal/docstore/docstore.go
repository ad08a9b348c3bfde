// Package docstore defines the transactional document store the engine runs on:
// collections of JSON documents with get, set/merge, equality queries and
// read-then-write transactions.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxTxAttempts bounds how many times RunTransaction re-runs a function that
// aborted with errs.ErrConflict.
const MaxTxAttempts = 5

// Ref addresses a single document. Collection may be a nested path such as
// "courses/c1/modules".
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a Ref.
func Doc(collection, id string) Ref { return Ref{Collection: collection, ID: id} }

// Path renders collection/id.
func (r Ref) Path() string { return r.Collection + "/" + r.ID }

// Snapshot is a read document.
type Snapshot struct {
	Ref        Ref
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document into v.
func (s *Snapshot) DataTo(v any) error {
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref.Path(), err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, v any) Filter { return Filter{Field: field, Value: v} }

// Query selects documents of one collection. Results are ordered by creation time.
type Query struct {
	Filters []Filter
	Limit   int // <= 0 means no limit
}

// Where builds a Query from filters.
func Where(filters ...Filter) Query { return Query{Filters: filters} }

// SetOption tweaks Set behaviour.
type SetOption func(*SetOptions)

// SetOptions is the resolved form of SetOption values.
type SetOptions struct {
	Merge bool
}

// Merge makes Set shallow-merge top-level fields into an existing document
// instead of replacing it.
func Merge() SetOption { return func(o *SetOptions) { o.Merge = true } }

// ResolveSetOptions applies opts; used by implementations.
func ResolveSetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Getter is the read side shared by Store and Tx.
type Getter interface {
	// Get loads a document; errs.ErrNotFound when absent.
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
}

// Store is the transactional document store.
type Store interface {
	Getter
	// Set writes a document (replace, or merge with Merge()).
	Set(ctx context.Context, ref Ref, v any, opts ...SetOption) error
	// Add appends a document with an auto-generated id.
	Add(ctx context.Context, collection string, v any) (Ref, error)
	// Query returns documents of collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]*Snapshot, error)
	// RunTransaction runs fn read-then-write; on errs.ErrConflict fn is re-run up to
	// MaxTxAttempts times. A failed transaction writes nothing.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ServerTime returns the store's clock.
	ServerTime(ctx context.Context) (time.Time, error)
}

// Tx is a single transaction attempt.
type Tx interface {
	Getter
	// Create writes a new document; errs.ErrAlreadyExists if it exists.
	Create(ctx context.Context, ref Ref, v any) error
	// Set writes a document (replace, or merge with Merge()).
	Set(ctx context.Context, ref Ref, v any, opts ...SetOption) error
	// Add appends a document with an auto-generated id.
	Add(ctx context.Context, collection string, v any) (Ref, error)
	// ServerTime returns the store's clock as seen by this transaction.
	ServerTime(ctx context.Context) (time.Time, error)
}
