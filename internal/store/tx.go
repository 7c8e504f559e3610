package store

import (
	"context"
	"sync"
)

type txHooksKey struct{}

// TxHooks collects callbacks to run once the surrounding unit of work commits,
// and undo steps for stores that cannot roll back on their own
type TxHooks struct {
	mu          sync.Mutex
	afterCommit []func()
	undo        []func()
}

// WithTxHooks attaches a fresh hook list to ctx
func WithTxHooks(ctx context.Context) (context.Context, *TxHooks) {
	h := &TxHooks{}
	return context.WithValue(ctx, txHooksKey{}, h), h
}

// InTx reports whether ctx carries an open unit of work
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txHooksKey{}).(*TxHooks)
	return ok
}

// AfterCommit defers fn until the unit of work in ctx commits.
// Without one, fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(txHooksKey{}).(*TxHooks)
	if !ok {
		fn()
		return
	}
	h.mu.Lock()
	h.afterCommit = append(h.afterCommit, fn)
	h.mu.Unlock()
}

// Run executes the collected hooks in registration order
func (h *TxHooks) Run() {
	h.mu.Lock()
	hooks := h.afterCommit
	h.afterCommit = nil
	h.undo = nil
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnRollback registers fn to undo a write if the unit of work in ctx fails.
// Outside a unit of work the write is final and fn is dropped.
func OnRollback(ctx context.Context, fn func()) {
	h, ok := ctx.Value(txHooksKey{}).(*TxHooks)
	if !ok {
		return
	}
	h.mu.Lock()
	h.undo = append(h.undo, fn)
	h.mu.Unlock()
}

// Rollback runs the undo steps newest first and drops the after-commit hooks
func (h *TxHooks) Rollback() {
	h.mu.Lock()
	undo := h.undo
	h.undo = nil
	h.afterCommit = nil
	h.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}
