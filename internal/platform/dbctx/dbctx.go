package dbctx

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction and the
// commit hooks registered against that transaction.
type Context struct {
	Ctx   context.Context
	Tx    *gorm.DB
	Hooks *CommitHooks
}

// OnCommit defers fn until the surrounding transaction has committed. Outside
// a transaction there is nothing to wait for, so fn runs immediately.
func (c Context) OnCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	if c.Hooks == nil {
		ctx := c.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		fn(ctx)
		return
	}
	c.Hooks.add(fn)
}

// CommitHooks collects callbacks for one transaction. They are drained exactly
// once, and only by the code that observed the commit succeed.
type CommitHooks struct {
	mu    sync.Mutex
	fns   []func(ctx context.Context)
	fired bool
}

func (h *CommitHooks) add(fn func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

// Drain returns the registered callbacks in registration order and empties the
// list. A second Drain returns nil.
func (h *CommitHooks) Drain() []func(ctx context.Context) {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired {
		return nil
	}
	h.fired = true
	out := h.fns
	h.fns = nil
	return out
}

// Discard drops every pending callback; used when the transaction rolled back.
func (h *CommitHooks) Discard() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fired = true
	h.fns = nil
}
