package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	"github.com/yungbote/myshop-backend/internal/data/repos/testutil"
	"github.com/yungbote/myshop-backend/internal/platform/ctxutil"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
)

func TestEnqueue_StoresQueuedJobWithTraceData(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	d := NewDispatcher(repo, log)

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "t-1", RequestID: "r-1"})
	if err := d.Enqueue(ctx, "invoice.send", "42", map[string]any{"order_id": 42}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	jobs, err := repo.ListByEntity(dbctx.Context{Ctx: context.Background()}, EntityOrder, "42", "invoice.send")
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs: want=1 got=%d", len(jobs))
	}
	job := jobs[0]
	if job.Status != "queued" || job.Attempts != 0 {
		t.Fatalf("job state: status=%s attempts=%d", job.Status, job.Attempts)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["order_id"] != float64(42) {
		t.Fatalf("order_id: want=42 got=%v", payload["order_id"])
	}
	if payload["trace_id"] != "t-1" || payload["request_id"] != "r-1" {
		t.Fatalf("trace data not carried: %v", payload)
	}
}

func TestEnqueue_RejectsEmptyTask(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	d := NewDispatcher(repos.NewJobRunRepo(db, log), log)

	if err := d.Enqueue(context.Background(), "  ", "1", nil); err == nil {
		t.Fatalf("expected error for empty task name")
	}
}
