package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/StudentTechUsher/plangen-backend/internal/middleware"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// JobTrigger kicks a queued job immediately instead of waiting for the next
// worker tick. The worker implements it.
type JobTrigger interface {
	ProcessJob(ctx context.Context, id uuid.UUID) bool
}

type JobsHandler struct {
	jobs    services.JobService
	trigger JobTrigger
}

func NewJobsHandler(jobs services.JobService, trigger JobTrigger) *JobsHandler {
	return &JobsHandler{jobs: jobs, trigger: trigger}
}

// POST /api/conversations/:conversationId/plan-jobs
func (h *JobsHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	conversationID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}

	var req types.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, reused, err := h.jobs.CreateOrReuse(c.Request.Context(), userID, conversationID, &req)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}

	status := http.StatusAccepted
	if reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"job": job, "reused": reused})
}

// GET /api/plan-jobs/:id
func (h *JobsHandler) GetByID(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	job, err := h.jobs.GetForUser(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/plan-jobs/:id/events?after_id=&limit=
func (h *JobsHandler) ListEvents(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	afterID, _ := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.jobs.ListEventsForUser(c.Request.Context(), jobID, userID, afterID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "events_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"events": events})
}

// POST /api/plan-jobs/:id/cancel
func (h *JobsHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/plan-jobs/:id/trigger
func (h *JobsHandler) Trigger(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if _, err := h.jobs.GetForUser(c.Request.Context(), jobID, userID); err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}

	// Run in the background; jobs can take minutes.
	go h.trigger.ProcessJob(context.WithoutCancel(c.Request.Context()), jobID)
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}
