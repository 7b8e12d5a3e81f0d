package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// PlanStore persists a validated draft and returns the access id the job
// row exposes as its output reference.
type PlanStore interface {
	Persist(ctx context.Context, userID, conversationID uuid.UUID, req *types.PlanRequest, draft *types.DraftPlan) (uuid.UUID, error)
	GetByAccessID(ctx context.Context, accessID uuid.UUID) (*types.AcademicPlan, error)
}

type planStore struct {
	log      *logger.Logger
	planRepo repos.AcademicPlanRepo
}

func NewPlanStore(log *logger.Logger, planRepo repos.AcademicPlanRepo) PlanStore {
	return &planStore{
		log:      log.With("service", "PlanStore"),
		planRepo: planRepo,
	}
}

func (s *planStore) Persist(ctx context.Context, userID, conversationID uuid.UUID, req *types.PlanRequest, draft *types.DraftPlan) (uuid.UUID, error) {
	planJSON, err := json.Marshal(draft)
	if err != nil {
		return uuid.Nil, err
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return uuid.Nil, err
	}

	plan := &types.AcademicPlan{
		ID:             uuid.New(),
		UserID:         userID,
		ConversationID: conversationID,
		AccessID:       uuid.New(),
		PlanJSON:       datatypes.JSON(planJSON),
		RequestJSON:    datatypes.JSON(reqJSON),
	}
	if _, err := s.planRepo.Create(ctx, nil, []*types.AcademicPlan{plan}); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("plan persisted", "access_id", plan.AccessID, "user_id", userID)
	return plan.AccessID, nil
}

func (s *planStore) GetByAccessID(ctx context.Context, accessID uuid.UUID) (*types.AcademicPlan, error) {
	return s.planRepo.GetByAccessID(ctx, nil, accessID)
}
