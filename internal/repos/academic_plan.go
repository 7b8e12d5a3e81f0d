package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

type AcademicPlanRepo interface {
	Create(ctx context.Context, tx *gorm.DB, plans []*types.AcademicPlan) ([]*types.AcademicPlan, error)
	GetByAccessID(ctx context.Context, tx *gorm.DB, accessID uuid.UUID) (*types.AcademicPlan, error)
}

type academicPlanRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAcademicPlanRepo(db *gorm.DB, baseLog *logger.Logger) AcademicPlanRepo {
	return &academicPlanRepo{
		db:  db,
		log: baseLog.With("repo", "AcademicPlanRepo"),
	}
}

func (r *academicPlanRepo) Create(ctx context.Context, tx *gorm.DB, plans []*types.AcademicPlan) ([]*types.AcademicPlan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(plans) == 0 {
		return []*types.AcademicPlan{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *academicPlanRepo) GetByAccessID(ctx context.Context, tx *gorm.DB, accessID uuid.UUID) (*types.AcademicPlan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if accessID == uuid.Nil {
		return nil, nil
	}
	var plan types.AcademicPlan
	err := transaction.WithContext(ctx).
		Where("access_id = ?", accessID).
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}
