package tasks

import (
	"github.com/yungbote/myshop-backend/internal/data/repos"
	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/jobs/runtime"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
)

// alreadySucceeded reports whether another run of the same task for the same
// entity has already succeeded.
func alreadySucceeded(jc *runtime.Context, jobs repos.JobRunRepo) (bool, error) {
	if jobs == nil || jc.Job == nil || jc.Job.EntityID == "" {
		return false, nil
	}
	prior, err := jobs.ListByEntity(dbctx.Context{Ctx: jc.Ctx}, jc.Job.EntityType, jc.Job.EntityID, jc.Job.JobType)
	if err != nil {
		return false, err
	}
	for _, j := range prior {
		if j.ID != jc.Job.ID && j.Status == types.JobStatusSucceeded {
			return true, nil
		}
	}
	return false, nil
}
