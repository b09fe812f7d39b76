package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/ctxutil"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// EntityOrder is the entity type of every task the shop enqueues.
const EntityOrder = "order"

// Dispatcher queues side-effect tasks as job_run rows for the worker pool.
// Delivery is at least once; task handlers tolerate repeats.
type Dispatcher struct {
	repo repos.JobRunRepo
	log  *logger.Logger
}

func NewDispatcher(repo repos.JobRunRepo, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo: repo,
		log:  baseLog.With("service", "TaskDispatcher"),
	}
}

func (d *Dispatcher) Enqueue(ctx context.Context, taskName string, entityID string, args map[string]any) error {
	taskName = strings.TrimSpace(taskName)
	if taskName == "" {
		return fmt.Errorf("missing task name")
	}
	payload := make(map[string]any, len(args)+2)
	for k, v := range args {
		payload[k] = v
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", taskName, err)
	}
	created, err := d.repo.Create(dbctx.Context{Ctx: ctx}, []*types.JobRun{{
		JobType:    taskName,
		EntityType: EntityOrder,
		EntityID:   entityID,
		Status:     types.JobStatusQueued,
		Stage:      types.JobStatusQueued,
		Payload:    datatypes.JSON(b),
	}})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskName, err)
	}
	if len(created) > 0 {
		d.log.Debug("Task enqueued", "task", taskName, "entity_id", entityID, "job_id", created[0].ID)
	}
	return nil
}
