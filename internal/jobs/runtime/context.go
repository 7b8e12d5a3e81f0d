package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

/*
The execution contract between the job system and all pipeline code.
runtime.Context is a capability-scoped execution handle for a single claimed
job. It wraps:
	- the mutable generation_job row,
	- the append-only event ledger,
	- the notification side-effects,
	- and the only sanctioned ways to report progress or terminate execution.
Pipelines never touch generation_job rows directly. They go through this
object, whose writes are guarded so a row that has already reached a
terminal status is never overwritten.
*/

type Context struct {
	Ctx    context.Context
	Job    *types.GenerationJob
	Jobs   repos.GenerationJobRepo
	Events repos.JobEventRepo
	Notify services.JobNotifier
}

func NewContext(ctx context.Context, job *types.GenerationJob, jobs repos.GenerationJobRepo, events repos.JobEventRepo, notify services.JobNotifier) *Context {
	return &Context{
		Ctx:    ctx,
		Job:    job,
		Jobs:   jobs,
		Events: events,
		Notify: notify,
	}
}

// liveStatuses are the only "from" states a non-terminal write may touch.
// A completed, failed or canceled row is immutable.
var liveStatuses = []types.JobStatus{types.JobInProgress, types.JobCancelRequested}

// Request decodes the immutable input payload of the job.
func (c *Context) Request() (*types.PlanRequest, error) {
	var req types.PlanRequest
	if len(c.Job.Payload) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(c.Job.Payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CancelRequested re-reads the row and reports whether a cancel has been
// asked for. Pipelines call this at phase boundaries only.
func (c *Context) CancelRequested() (bool, error) {
	rows, err := c.Jobs.GetByIDs(c.Ctx, nil, []uuid.UUID{c.Job.ID})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	c.Job.Status = rows[0].Status
	return rows[0].Status == types.JobCancelRequested, nil
}

// Heartbeat refreshes the liveness timestamp so an external supervisor can
// distinguish a slow job from a dead worker.
func (c *Context) Heartbeat() {
	_ = c.Jobs.Heartbeat(c.Ctx, nil, c.Job.ID)
}

/*
Progress publishes a non-terminal update: persists phase/progress plus the
heartbeat into the job row (progress never moves backwards; the repo write
uses GREATEST), appends a ledger event, and notifies subscribers. If the
guarded write is rejected because the row went terminal, nothing is emitted.
*/
func (c *Context) Progress(phase string, pct int, msg string) {
	now := time.Now()
	ok, _ := c.Jobs.UpdateFieldsWhereStatus(c.Ctx, nil, c.Job.ID, liveStatuses, map[string]interface{}{
		"phase":        phase,
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if !ok {
		return
	}

	c.Job.Phase = phase
	if pct > c.Job.Progress {
		c.Job.Progress = pct
	}
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	c.appendEvent(types.EventJobProgress, phase, msg, &pct, nil)
	if c.Notify != nil {
		c.Notify.JobProgress(c.Job.UserID, c.Job, phase, c.Job.Progress, msg)
	}
}

// PhaseStarted records the start of a pipeline phase on the ledger.
func (c *Context) PhaseStarted(phase string, pct int) {
	c.Progress(phase, pct, "phase started")
	c.appendEvent(types.EventPhaseStarted, phase, "", &pct, nil)
}

// PhaseCompleted records the end of a pipeline phase on the ledger.
func (c *Context) PhaseCompleted(phase string, pct int, data map[string]any) {
	c.Progress(phase, pct, "phase completed")
	c.appendEvent(types.EventPhaseCompleted, phase, "", &pct, data)
}

/*
Complete marks the job terminally completed and records the access id of the
persisted plan. A completion racing a cancel request wins: the guarded write
moves the row from either in_progress or cancel_requested.
*/
func (c *Context) Complete(accessID uuid.UUID) {
	now := time.Now()
	pct := 100
	ok, _ := c.Jobs.UpdateFieldsWhereStatus(c.Ctx, nil, c.Job.ID, liveStatuses, map[string]interface{}{
		"status":           types.JobCompleted,
		"phase":            types.PhaseCompleted,
		"progress":         pct,
		"error":            "",
		"output_access_id": accessID,
		"completed_at":     now,
		"updated_at":       now,
	})
	if !ok {
		return
	}

	c.Job.Status = types.JobCompleted
	c.Job.Phase = types.PhaseCompleted
	c.Job.Progress = pct
	c.Job.Error = ""
	c.Job.OutputAccessID = &accessID
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	c.appendEvent(types.EventJobCompleted, types.PhaseCompleted, "", &pct, map[string]any{
		"access_id": accessID.String(),
	})
	if c.Notify != nil {
		c.Notify.JobDone(c.Job.UserID, c.Job)
	}
}

/*
Fail marks the job terminally failed, storing a human message plus optional
structured detail (for example the final validation issues). The write moves
the row from in_progress only; if the row became cancel_requested while the
failing phase ran, the cancel takes precedence and the job is finalized as
canceled instead.
*/
func (c *Context) Fail(phase string, err error, detail map[string]any) {
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	var detailJSON datatypes.JSON
	if detail != nil {
		b, _ := json.Marshal(detail)
		detailJSON = datatypes.JSON(b)
	}

	ok, _ := c.Jobs.UpdateFieldsWhereStatus(c.Ctx, nil, c.Job.ID, []types.JobStatus{types.JobInProgress}, map[string]interface{}{
		"status":       types.JobFailed,
		"phase":        phase,
		"error":        msg,
		"error_detail": detailJSON,
		"completed_at": now,
		"updated_at":   now,
	})
	if !ok {
		if requested, _ := c.CancelRequested(); requested {
			c.Canceled(phase)
		}
		return
	}

	c.Job.Status = types.JobFailed
	c.Job.Phase = phase
	c.Job.Error = msg
	c.Job.ErrorDetail = detailJSON
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	c.appendEvent(types.EventJobFailed, phase, msg, nil, detail)
	if c.Notify != nil {
		c.Notify.JobFailed(c.Job.UserID, c.Job, phase, msg)
	}
}

// Canceled finalizes a job whose cancel request was observed at a phase
// boundary. Cancellation is an outcome, not an error: the error column stays
// empty.
func (c *Context) Canceled(phase string) {
	now := time.Now()
	ok, _ := c.Jobs.UpdateFieldsWhereStatus(c.Ctx, nil, c.Job.ID, []types.JobStatus{types.JobCancelRequested}, map[string]interface{}{
		"status":       types.JobCanceled,
		"phase":        types.PhaseCanceled,
		"error":        "",
		"completed_at": now,
		"updated_at":   now,
	})
	if !ok {
		return
	}

	c.Job.Status = types.JobCanceled
	c.Job.Phase = types.PhaseCanceled
	c.Job.Error = ""
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	c.appendEvent(types.EventJobCanceled, phase, "", nil, nil)
	if c.Notify != nil {
		c.Notify.JobCanceled(c.Job.UserID, c.Job)
	}
}

func (c *Context) appendEvent(eventType, phase, msg string, progress *int, data map[string]any) {
	ev := &types.JobEvent{
		JobID:     c.Job.ID,
		EventType: eventType,
		Phase:     phase,
		Message:   msg,
		Progress:  progress,
	}
	if data != nil {
		b, _ := json.Marshal(data)
		ev.Data = datatypes.JSON(b)
	}
	_, _ = c.Events.Append(c.Ctx, nil, []*types.JobEvent{ev})
}
