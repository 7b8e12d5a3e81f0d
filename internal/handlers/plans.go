package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/StudentTechUsher/plangen-backend/internal/middleware"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
)

type PlansHandler struct {
	plans services.PlanStore
}

func NewPlansHandler(plans services.PlanStore) *PlansHandler {
	return &PlansHandler{plans: plans}
}

// GET /api/plans/:accessId
func (h *PlansHandler) GetByAccessID(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing user"))
		return
	}
	accessID, err := uuid.Parse(c.Param("accessId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_access_id", err)
		return
	}

	plan, err := h.plans.GetByAccessID(c.Request.Context(), accessID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "plan_lookup_failed", err)
		return
	}
	if plan == nil || plan.UserID != userID {
		RespondError(c, http.StatusNotFound, "plan_not_found", errors.New("plan not found"))
		return
	}
	RespondOK(c, gin.H{"plan": plan})
}
