package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// JobEventRepo is the append-only event log. Events are never updated or
// deleted; ListAfter pages the log with the bigserial id as cursor.
type JobEventRepo interface {
	Append(ctx context.Context, tx *gorm.DB, events []*types.JobEvent) ([]*types.JobEvent, error)
	ListAfter(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, afterID int64, limit int) ([]*types.JobEvent, error)
}

type jobEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobEventRepo(db *gorm.DB, baseLog *logger.Logger) JobEventRepo {
	return &jobEventRepo{
		db:  db,
		log: baseLog.With("repo", "JobEventRepo"),
	}
}

func (r *jobEventRepo) Append(ctx context.Context, tx *gorm.DB, events []*types.JobEvent) ([]*types.JobEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(events) == 0 {
		return []*types.JobEvent{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *jobEventRepo) ListAfter(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, afterID int64, limit int) ([]*types.JobEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return []*types.JobEvent{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out []*types.JobEvent
	if err := transaction.WithContext(ctx).
		Where("job_id = ? AND id > ?", jobID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
