package domain

import (
	"github.com/yungbote/myshop-backend/internal/domain/jobs"
	"github.com/yungbote/myshop-backend/internal/domain/orders"
)

type Order = orders.Order
type OrderLine = orders.OrderLine
type Product = orders.Product

type JobRun = jobs.JobRun

const (
	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
)

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&orders.Product{},
		&orders.Order{},
		&orders.OrderLine{},
		&jobs.JobRun{},
	}
}
