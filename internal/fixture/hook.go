package fixture

import (
	"context"

	"github.com/and161185/lms-core/internal/docstore"
)

// HookStore wraps a Store and calls BeforeTxGet ahead of every read made
// inside a transaction. Tests use it to land a concurrent write at an exact
// point of another transaction.
type HookStore struct {
	docstore.Store
	BeforeTxGet func(ctx context.Context, ref docstore.Ref)
}

// RunTransaction runs fn against the wrapped store with a hooked Tx.
func (h *HookStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return h.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return fn(ctx, hookTx{Tx: tx, h: h})
	})
}

type hookTx struct {
	docstore.Tx
	h *HookStore
}

func (t hookTx) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	if t.h.BeforeTxGet != nil {
		t.h.BeforeTxGet(ctx, ref)
	}
	return t.Tx.Get(ctx, ref)
}
