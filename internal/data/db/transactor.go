package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// Transactor runs a function inside one database transaction and fires the
// commit hooks registered through dbctx.Context.OnCommit only once the commit
// has been observed to succeed. On rollback the hooks are dropped.
type Transactor struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTransactor(db *gorm.DB, baseLog *logger.Logger) *Transactor {
	return &Transactor{db: db, log: baseLog.With("component", "Transactor")}
}

func (t *Transactor) Run(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	hooks := &dbctx.CommitHooks{}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx, Hooks: hooks})
	})
	if err != nil {
		hooks.Discard()
		return err
	}
	for i, hook := range hooks.Drain() {
		t.fire(ctx, i, hook)
	}
	return nil
}

func (t *Transactor) fire(ctx context.Context, idx int, hook func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Commit hook panic", "hook_index", idx, "panic", fmt.Sprint(r))
		}
	}()
	hook(ctx)
}
