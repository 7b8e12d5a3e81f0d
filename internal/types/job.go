package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is the closed set of lifecycle states for a generation job.
type JobStatus string

const (
	JobQueued          JobStatus = "queued"
	JobInProgress      JobStatus = "in_progress"
	JobCancelRequested JobStatus = "cancel_requested"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobCanceled        JobStatus = "canceled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// CanTransition is the single source of truth for the job state machine.
// Guarded repo updates condition on the "from" side of these edges, so an
// illegal write is rejected at the store even under concurrent workers.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobInProgress || to == JobCanceled
	case JobInProgress:
		return to == JobCancelRequested || to == JobCompleted || to == JobFailed || to == JobCanceled
	case JobCancelRequested:
		// A workflow that already produced a persistable result wins over a
		// pending cancellation.
		return to == JobCanceled || to == JobCompleted
	default:
		return false
	}
}

// Lifecycle pseudo-phases plus the fixed pipeline phases.
const (
	PhaseQueued    = "queued"
	PhasePreparing = "preparing"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseCanceled  = "canceled"

	PhaseMajorSkeleton = "major_skeleton"
	PhaseMajorFill     = "major_fill"
	PhaseMinorFill     = "minor_fill"
	PhaseGenEdFill     = "gen_ed_fill"
	PhaseElectiveFill  = "elective_fill"

	PhaseValidating = "validating"
	PhasePersisting = "persisting"
)

// PipelinePhases returns the fixed phase order of the generation pipeline.
func PipelinePhases() []string {
	return []string{
		PhaseMajorSkeleton,
		PhaseMajorFill,
		PhaseMinorFill,
		PhaseGenEdFill,
		PhaseElectiveFill,
	}
}

// JobTypePlanBuild is the only registered job type today; the registry keyed
// by job_type leaves room for follow-on pipelines without schema changes.
const JobTypePlanBuild = "plan_build"

// GenerationJob is one row per plan-generation attempt. Workers never write
// it directly; all mutation goes through the orchestrator's guarded updates.
type GenerationJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	JobType        string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status         JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Phase          string         `gorm:"column:phase;not null" json:"phase"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	OutputAccessID *uuid.UUID     `gorm:"column:output_access_id;type:uuid" json:"output_access_id,omitempty"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	ErrorDetail    datatypes.JSON `gorm:"column:error_detail;type:jsonb" json:"error_detail,omitempty"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (GenerationJob) TableName() string { return "generation_job" }

// Event types appended to the per-job ledger.
const (
	EventJobCreated     = "job_created"
	EventJobStarted     = "job_started"
	EventPhaseStarted   = "phase_started"
	EventPhaseCompleted = "phase_completed"
	EventJobProgress    = "job_progress"
	EventJobCompleted   = "job_completed"
	EventJobFailed      = "job_failed"
	EventJobCanceled    = "job_canceled"
)

// JobEvent is an append-only ledger row. The bigserial id defines the total
// order clients page through with an after_id cursor; rows are never updated
// or deleted by this subsystem.
type JobEvent struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	EventType string         `gorm:"column:event_type;not null" json:"event_type"`
	Phase     string         `gorm:"column:phase" json:"phase,omitempty"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Progress  *int           `gorm:"column:progress" json:"progress,omitempty"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (JobEvent) TableName() string { return "generation_job_event" }
