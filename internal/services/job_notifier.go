package services

import (
	"github.com/google/uuid"

	"github.com/StudentTechUsher/plangen-backend/internal/sse"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.GenerationJob)
	JobProgress(userID uuid.UUID, job *types.GenerationJob, phase string, progress int, message string)
	JobFailed(userID uuid.UUID, job *types.GenerationJob, phase string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.GenerationJob)
	JobCanceled(userID uuid.UUID, job *types.GenerationJob)
}

type jobNotifier struct {
	hub *sse.SSEHub
}

func NewJobNotifier(hub *sse.SSEHub) JobNotifier {
	return &jobNotifier{hub: hub}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.GenerationJob) {
	n.hub.Broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventPlanJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.GenerationJob, phase string, progress int, message string) {
	n.hub.Broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventPlanJobProgress,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"phase":    phase,
			"progress": progress,
			"message":  message,
			"job":      job,
		},
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.GenerationJob, phase string, errorMessage string) {
	n.hub.Broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventPlanJobFailed,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"phase":    phase,
			"error":    errorMessage,
			"job":      job,
		},
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.GenerationJob) {
	n.hub.Broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventPlanJobDone,
		Data: map[string]any{
			"job_id":           job.ID,
			"job_type":         job.JobType,
			"output_access_id": job.OutputAccessID,
			"job":              job,
		},
	})
}

func (n *jobNotifier) JobCanceled(userID uuid.UUID, job *types.GenerationJob) {
	n.hub.Broadcast(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventPlanJobCanceled,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"job":      job,
		},
	})
}
