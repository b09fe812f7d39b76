package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/ctxutil"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
)

/*
Context is the execution handle for one claimed job run.
It wraps:
  - the request context (carrying trace data restored from the payload)
  - the DB handle for handlers that read domain rows
  - the job_run row in memory
  - the only sanctioned ways to report progress or finish the run

Handlers never write job_run directly.
*/
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

// A malformed payload decodes to an empty map; handlers validate what they need.
func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil {
		return
	}
	payload := c.Payload()
	traceID := stringFromAny(payload["trace_id"])
	reqID := stringFromAny(payload["request_id"])
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		TraceID:   traceID,
		RequestID: reqID,
	})
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUint reads a positive integer id stored as a JSON number or string.
func (c *Context) PayloadUint(key string) (uint, bool) {
	return uintFromAny(c.Payload()[key])
}

// PayloadUints reads a list of positive integer ids. Entries that are not ids
// are skipped; ok is false when the key is missing or not a list.
func (c *Context) PayloadUints(key string) ([]uint, bool) {
	raw, ok := c.Payload()[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]uint, 0, len(raw))
	for _, v := range raw {
		if id, ok := uintFromAny(v); ok {
			out = append(out, id)
		}
	}
	return out, true
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, msg string) {
	if c == nil {
		return
	}
	now := time.Now()
	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		_ = c.Repo.UpdateFields(dbctx.Context{Ctx: c.ctx()}, c.Job.ID, map[string]interface{}{
			"stage":        stage,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

// Heartbeat refreshes heartbeat_at without touching stage or message, so a
// handler blocked in a long wait is not reclaimed as stale.
func (c *Context) Heartbeat() {
	if c == nil {
		return
	}
	now := time.Now()
	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		_ = c.Repo.Heartbeat(dbctx.Context{Ctx: c.ctx()}, c.Job.ID)
	}
	if c.Job != nil {
		c.Job.HeartbeatAt = &now
	}
}

// Fail marks the run failed. The worker picks it up again after the retry
// delay while attempts remain.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		_ = c.Repo.UpdateFields(dbctx.Context{Ctx: c.ctx()}, c.Job.ID, map[string]interface{}{
			"status":        types.JobStatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
	}
	if c.Job != nil {
		c.Job.Status = types.JobStatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
}

// Succeed marks the run done and stores result as JSON.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		_ = c.Repo.UpdateFields(dbctx.Context{Ctx: c.ctx()}, c.Job.ID, map[string]interface{}{
			"status":       types.JobStatusSucceeded,
			"stage":        finalStage,
			"message":      "",
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	}
	if c.Job != nil {
		c.Job.Status = types.JobStatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func stringFromAny(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func uintFromAny(v any) (uint, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 || t != math.Trunc(t) {
			return 0, false
		}
		return uint(t), true
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		return uint(n), err == nil && n > 0
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		return uint(n), err == nil && n > 0
	default:
		return 0, false
	}
}
