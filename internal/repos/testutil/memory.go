package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// MemoryJobRepo is an in-memory GenerationJobRepo for tests that exercise
// the orchestration layer without a database. It mirrors the postgres
// semantics the orchestrator depends on: conditional single-row updates,
// monotonic progress, and the partial unique index on active jobs.
type MemoryJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.GenerationJob
}

func NewMemoryJobRepo() *MemoryJobRepo {
	return &MemoryJobRepo{rows: map[uuid.UUID]*types.GenerationJob{}}
}

var _ repos.GenerationJobRepo = (*MemoryJobRepo)(nil)

func cloneJob(j *types.GenerationJob) *types.GenerationJob {
	c := *j
	return &c
}

func activeStatus(s types.JobStatus) bool {
	return s == types.JobQueued || s == types.JobInProgress || s == types.JobCancelRequested
}

func (r *MemoryJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.GenerationJob) ([]*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, job := range jobs {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		if activeStatus(job.Status) {
			for _, existing := range r.rows {
				if activeStatus(existing.Status) &&
					existing.UserID == job.UserID &&
					existing.ConversationID == job.ConversationID {
					return nil, &pgconn.PgError{Code: "23505", ConstraintName: "uq_generation_job_active"}
				}
			}
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		r.rows[job.ID] = cloneJob(job)
	}
	return jobs, nil
}

func (r *MemoryJobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.GenerationJob
	for _, id := range ids {
		if row, ok := r.rows[id]; ok {
			out = append(out, cloneJob(row))
		}
	}
	return out, nil
}

func (r *MemoryJobRepo) GetActiveByConversation(ctx context.Context, tx *gorm.DB, userID, conversationID uuid.UUID) (*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if activeStatus(row.Status) && row.UserID == userID && row.ConversationID == conversationID {
			return cloneJob(row), nil
		}
	}
	return nil, nil
}

func (r *MemoryJobRepo) ListQueued(ctx context.Context, tx *gorm.DB, limit int) ([]*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var out []*types.GenerationJob
	for _, row := range r.rows {
		if row.Status == types.JobQueued {
			out = append(out, cloneJob(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepo) Claim(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != types.JobQueued {
		return nil, nil
	}
	now := time.Now()
	row.Status = types.JobInProgress
	row.Phase = types.PhasePreparing
	if row.Progress < 5 {
		row.Progress = 5
	}
	row.Attempts++
	row.StartedAt = &now
	row.HeartbeatAt = &now
	row.UpdatedAt = now
	return cloneJob(row), nil
}

func (r *MemoryJobRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, allowed []types.JobStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range allowed {
		if row.Status == s {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	applyJobUpdates(row, updates)
	row.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || (row.Status != types.JobInProgress && row.Status != types.JobCancelRequested) {
		return nil
	}
	now := time.Now()
	row.HeartbeatAt = &now
	row.UpdatedAt = now
	return nil
}

// Get returns a snapshot of a single row for test assertions.
func (r *MemoryJobRepo) Get(id uuid.UUID) *types.GenerationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	return cloneJob(row)
}

// SetStatus force-writes a status, bypassing transition checks. Tests use it
// to stage races (for example flipping a row to cancel_requested between
// phases).
func (r *MemoryJobRepo) SetStatus(id uuid.UUID, status types.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.Status = status
		row.UpdatedAt = time.Now()
	}
}

func applyJobUpdates(row *types.GenerationJob, updates map[string]interface{}) {
	for key, val := range updates {
		switch key {
		case "status":
			if s, ok := val.(types.JobStatus); ok {
				row.Status = s
			}
		case "phase":
			if p, ok := val.(string); ok {
				row.Phase = p
			}
		case "progress":
			// The postgres repo writes GREATEST(progress, ?); mirror the
			// monotonic behavior for plain ints here.
			if p, ok := asInt(val); ok && p > row.Progress {
				row.Progress = p
			}
		case "error":
			if s, ok := val.(string); ok {
				row.Error = s
			}
		case "error_detail":
			switch v := val.(type) {
			case datatypes.JSON:
				row.ErrorDetail = v
			case []byte:
				row.ErrorDetail = v
			}
		case "output_access_id":
			switch v := val.(type) {
			case uuid.UUID:
				row.OutputAccessID = &v
			case *uuid.UUID:
				row.OutputAccessID = v
			}
		case "completed_at":
			switch v := val.(type) {
			case time.Time:
				row.CompletedAt = &v
			case *time.Time:
				row.CompletedAt = v
			}
		case "heartbeat_at":
			switch v := val.(type) {
			case time.Time:
				row.HeartbeatAt = &v
			case *time.Time:
				row.HeartbeatAt = v
			}
		}
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	}
	return 0, false
}

// MemoryEventRepo is an in-memory JobEventRepo.
type MemoryEventRepo struct {
	mu     sync.Mutex
	nextID int64
	events []*types.JobEvent
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{nextID: 1}
}

var _ repos.JobEventRepo = (*MemoryEventRepo)(nil)

func (r *MemoryEventRepo) Append(ctx context.Context, tx *gorm.DB, events []*types.JobEvent) ([]*types.JobEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range events {
		ev.ID = r.nextID
		r.nextID++
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		c := *ev
		r.events = append(r.events, &c)
	}
	return events, nil
}

func (r *MemoryEventRepo) ListAfter(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, afterID int64, limit int) ([]*types.JobEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out []*types.JobEvent
	for _, ev := range r.events {
		if ev.JobID == jobID && ev.ID > afterID {
			c := *ev
			out = append(out, &c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every event appended for a job, in order.
func (r *MemoryEventRepo) All(jobID uuid.UUID) []*types.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobEvent
	for _, ev := range r.events {
		if ev.JobID == jobID {
			c := *ev
			out = append(out, &c)
		}
	}
	return out
}

// MemoryPlanRepo is an in-memory AcademicPlanRepo.
type MemoryPlanRepo struct {
	mu    sync.Mutex
	plans map[uuid.UUID]*types.AcademicPlan
}

func NewMemoryPlanRepo() *MemoryPlanRepo {
	return &MemoryPlanRepo{plans: map[uuid.UUID]*types.AcademicPlan{}}
}

var _ repos.AcademicPlanRepo = (*MemoryPlanRepo)(nil)

func (r *MemoryPlanRepo) Create(ctx context.Context, tx *gorm.DB, plans []*types.AcademicPlan) ([]*types.AcademicPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, plan := range plans {
		if plan.ID == uuid.Nil {
			plan.ID = uuid.New()
		}
		if plan.CreatedAt.IsZero() {
			plan.CreatedAt = now
		}
		c := *plan
		r.plans[plan.AccessID] = &c
	}
	return plans, nil
}

func (r *MemoryPlanRepo) GetByAccessID(ctx context.Context, tx *gorm.DB, accessID uuid.UUID) (*types.AcademicPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[accessID]
	if !ok {
		return nil, nil
	}
	c := *plan
	return &c, nil
}
