package payments

import (
	"context"

	"github.com/yungbote/myshop-backend/internal/data/db"
	"github.com/yungbote/myshop-backend/internal/data/repos"
	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
)

type gormLedger struct {
	tx     *db.Transactor
	orders repos.OrderRepo
}

// NewGormLedger backs the reconciler with the orders table. Commit hooks are
// fired by the transactor after a successful commit.
func NewGormLedger(tx *db.Transactor, orders repos.OrderRepo) Ledger {
	return &gormLedger{tx: tx, orders: orders}
}

func (l *gormLedger) RunInTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	return l.tx.Run(ctx, func(dbc dbctx.Context) error {
		return fn(&gormLedgerTx{dbc: dbc, orders: l.orders})
	})
}

type gormLedgerTx struct {
	dbc    dbctx.Context
	orders repos.OrderRepo
}

func (t *gormLedgerTx) LockOrderForUpdate(id uint) (*types.Order, error) {
	return t.orders.LockForUpdate(t.dbc, id)
}

func (t *gormLedgerTx) Save(order *types.Order, fields ...string) error {
	return t.orders.Save(t.dbc, order, fields...)
}

func (t *gormLedgerTx) OnCommit(fn func(ctx context.Context)) {
	t.dbc.OnCommit(fn)
}
