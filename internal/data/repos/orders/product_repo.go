package orders

import (
	"context"

	"gorm.io/gorm"

	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type ProductRepo interface {
	ListIDs(ctx context.Context) ([]uint, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{db: db, log: baseLog.With("repo", "ProductRepo")}
}

func (r *productRepo) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&types.Product{}).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	r.log.Debug("Listed product ids", "count", len(ids))
	return ids, nil
}
