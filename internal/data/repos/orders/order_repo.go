package orders

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// ErrTxRequired is returned by LockForUpdate outside a transaction; a row lock
// without a transaction would be released before the caller could use it.
var ErrTxRequired = errors.New("orders: row lock requires a transaction")

type OrderRepo interface {
	Create(dbc dbctx.Context, order *types.Order) error
	GetByID(dbc dbctx.Context, id uint) (*types.Order, error)
	LockForUpdate(dbc dbctx.Context, id uint) (*types.Order, error)
	Save(dbc dbctx.Context, order *types.Order, fields ...string) error
}

type orderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return &orderRepo{
		db:  db,
		log: baseLog.With("repo", "OrderRepo"),
	}
}

func (r *orderRepo) Create(dbc dbctx.Context, order *types.Order) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if order == nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Create(order).Error
}

// GetByID loads an order and its lines. A missing row is (nil, nil).
func (r *orderRepo) GetByID(dbc dbctx.Context, id uint) (*types.Order, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil, nil
	}
	var o types.Order
	err := transaction.WithContext(dbc.Ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// LockForUpdate takes SELECT ... FOR UPDATE on the order row and loads its
// lines. The lock lives until dbc.Tx commits or rolls back. A missing row is
// (nil, nil).
func (r *orderRepo) LockForUpdate(dbc dbctx.Context, id uint) (*types.Order, error) {
	if dbc.Tx == nil {
		return nil, ErrTxRequired
	}
	if id == 0 {
		return nil, nil
	}
	var o types.Order
	err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Debug("No order row to lock", "order_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Where("order_id = ?", o.ID).
		Order("id ASC").
		Find(&o.Lines).Error; err != nil {
		return nil, fmt.Errorf("load order %d lines: %w", id, err)
	}
	return &o, nil
}

// Save writes only the named columns of the order row (plus updated_at).
func (r *orderRepo) Save(dbc dbctx.Context, order *types.Order, fields ...string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if order == nil || order.ID == 0 || len(fields) == 0 {
		return nil
	}
	cols := append([]string{"updated_at"}, fields...)
	res := transaction.WithContext(dbc.Ctx).
		Model(order).
		Select(cols).
		Omit(clause.Associations).
		Updates(order)
	if res.Error != nil {
		return fmt.Errorf("save order %d: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("save order %d: %w", order.ID, gorm.ErrRecordNotFound)
	}
	r.log.Debug("Order saved", "order_id", order.ID, "fields", fields)
	return nil
}
