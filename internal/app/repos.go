package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type Repos struct {
	Order   repos.OrderRepo
	Product repos.ProductRepo
	JobRun  repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Order:   repos.NewOrderRepo(db, log),
		Product: repos.NewProductRepo(db, log),
		JobRun:  repos.NewJobRunRepo(db, log),
	}
}
