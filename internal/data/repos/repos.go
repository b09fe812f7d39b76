package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/data/repos/jobs"
	"github.com/yungbote/myshop-backend/internal/data/repos/orders"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type OrderRepo = orders.OrderRepo
type ProductRepo = orders.ProductRepo
type JobRunRepo = jobs.JobRunRepo

func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return orders.NewOrderRepo(db, baseLog)
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return orders.NewProductRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
