package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

var ErrJobNotFound = errors.New("job not found")

// JobService is the orchestration boundary the HTTP layer talks to. It
// owns enqueue dedup, read-side ownership checks, and the cancel state
// machine; execution belongs to the worker.
type JobService interface {
	CreateOrReuse(ctx context.Context, userID, conversationID uuid.UUID, req *types.PlanRequest) (*types.GenerationJob, bool, error)
	GetForUser(ctx context.Context, jobID, userID uuid.UUID) (*types.GenerationJob, error)
	ListEventsForUser(ctx context.Context, jobID, userID uuid.UUID, afterID int64, limit int) ([]*types.JobEvent, error)
	Cancel(ctx context.Context, jobID, userID uuid.UUID) (*types.GenerationJob, error)
}

type jobService struct {
	log    *logger.Logger
	jobs   repos.GenerationJobRepo
	events repos.JobEventRepo
	notify JobNotifier
}

func NewJobService(baseLog *logger.Logger, jobs repos.GenerationJobRepo, events repos.JobEventRepo, notify JobNotifier) JobService {
	return &jobService{
		log:    baseLog.With("service", "JobService"),
		jobs:   jobs,
		events: events,
		notify: notify,
	}
}

/*
CreateOrReuse enqueues a generation job for a conversation, or returns the
conversation's active job if one already exists. Two concurrent creates
converge on one job: the partial unique index rejects the second insert and
the loser re-reads the winner.
*/
func (s *jobService) CreateOrReuse(ctx context.Context, userID, conversationID uuid.UUID, req *types.PlanRequest) (*types.GenerationJob, bool, error) {
	if existing, err := s.jobs.GetActiveByConversation(ctx, nil, userID, conversationID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, false, err
	}

	job := &types.GenerationJob{
		ID:             uuid.New(),
		UserID:         userID,
		ConversationID: conversationID,
		JobType:        types.JobTypePlanBuild,
		Status:         types.JobQueued,
		Phase:          types.PhaseQueued,
		Progress:       0,
		Payload:        datatypes.JSON(payload),
	}
	if _, err := s.jobs.Create(ctx, nil, []*types.GenerationJob{job}); err != nil {
		if repos.IsUniqueViolation(err) {
			winner, getErr := s.jobs.GetActiveByConversation(ctx, nil, userID, conversationID)
			if getErr != nil {
				return nil, false, getErr
			}
			if winner != nil {
				return winner, true, nil
			}
		}
		return nil, false, err
	}

	pct := 0
	_, _ = s.events.Append(ctx, nil, []*types.JobEvent{{
		JobID:     job.ID,
		EventType: types.EventJobCreated,
		Phase:     types.PhaseQueued,
		Progress:  &pct,
	}})
	if s.notify != nil {
		s.notify.JobCreated(userID, job)
	}

	s.log.Info("job enqueued", "job_id", job.ID, "user_id", userID, "conversation_id", conversationID)
	return job, false, nil
}

// GetForUser fetches a job by id. A job owned by someone else is reported
// as not found, never as forbidden.
func (s *jobService) GetForUser(ctx context.Context, jobID, userID uuid.UUID) (*types.GenerationJob, error) {
	rows, err := s.jobs.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].UserID != userID {
		return nil, ErrJobNotFound
	}
	return rows[0], nil
}

// ListEventsForUser pages the job's event ledger from afterID. A job the
// user cannot see yields an empty page.
func (s *jobService) ListEventsForUser(ctx context.Context, jobID, userID uuid.UUID, afterID int64, limit int) ([]*types.JobEvent, error) {
	if _, err := s.GetForUser(ctx, jobID, userID); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return []*types.JobEvent{}, nil
		}
		return nil, err
	}
	return s.events.ListAfter(ctx, nil, jobID, afterID, limit)
}

/*
Cancel asks a job to stop. The effect depends on where the job is:
  - terminal: no-op, the current snapshot is returned;
  - queued: canceled immediately, no phase ever ran;
  - in_progress: flagged cancel_requested; the pipeline observes the flag
    at its next phase boundary.
Repeated cancels are idempotent. A worker can claim the job between the
read and the guarded write; when that race loses the CAS, the status is
re-read and the cancel dispatched once more so it still lands (as
cancel_requested on the now-claimed job).
*/
func (s *jobService) Cancel(ctx context.Context, jobID, userID uuid.UUID) (*types.GenerationJob, error) {
	job, err := s.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		settled, err := s.dispatchCancel(ctx, jobID, userID, job)
		if err != nil {
			return nil, err
		}
		if settled {
			break
		}
		if job, err = s.GetForUser(ctx, jobID, userID); err != nil {
			return nil, err
		}
	}

	return s.GetForUser(ctx, jobID, userID)
}

func (s *jobService) dispatchCancel(ctx context.Context, jobID, userID uuid.UUID, job *types.GenerationJob) (bool, error) {
	switch job.Status {
	case types.JobCompleted, types.JobFailed, types.JobCanceled:
		return true, nil

	case types.JobQueued:
		now := time.Now()
		ok, err := s.jobs.UpdateFieldsWhereStatus(ctx, nil, jobID, []types.JobStatus{types.JobQueued}, map[string]interface{}{
			"status":       types.JobCanceled,
			"phase":        types.PhaseCanceled,
			"completed_at": now,
		})
		if err != nil {
			return false, err
		}
		if ok {
			_, _ = s.events.Append(ctx, nil, []*types.JobEvent{{
				JobID:     jobID,
				EventType: types.EventJobCanceled,
				Phase:     types.PhaseCanceled,
			}})
			s.log.Info("queued job canceled", "job_id", jobID)
			if s.notify != nil {
				if snapshot, err := s.GetForUser(ctx, jobID, userID); err == nil {
					s.notify.JobCanceled(userID, snapshot)
				}
			}
		}
		return ok, nil

	case types.JobInProgress:
		ok, err := s.jobs.UpdateFieldsWhereStatus(ctx, nil, jobID, []types.JobStatus{types.JobInProgress}, map[string]interface{}{
			"status": types.JobCancelRequested,
		})
		if err != nil {
			return false, err
		}
		if ok {
			_, _ = s.events.Append(ctx, nil, []*types.JobEvent{{
				JobID:     jobID,
				EventType: types.EventJobProgress,
				Phase:     job.Phase,
				Message:   "cancellation requested",
			}})
			s.log.Info("job cancel requested", "job_id", jobID)
		}
		return ok, nil
	}

	// cancel_requested: already asked.
	return true, nil
}
