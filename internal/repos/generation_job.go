package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// GenerationJobRepo is the job store. Claim and UpdateFieldsWhereStatus are
// the only concurrency primitives the orchestrator relies on: both are
// single-row conditional updates, so two workers can never both believe they
// hold a job.
type GenerationJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.GenerationJob) ([]*types.GenerationJob, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.GenerationJob, error)
	GetActiveByConversation(ctx context.Context, tx *gorm.DB, userID, conversationID uuid.UUID) (*types.GenerationJob, error)
	ListQueued(ctx context.Context, tx *gorm.DB, limit int) ([]*types.GenerationJob, error)
	Claim(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationJob, error)
	UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, allowed []types.JobStatus, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation (the loser of a createOrReuse race sees this on insert).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

func (r *generationJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.GenerationJob) ([]*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.GenerationJob{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *generationJobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GenerationJob
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) GetActiveByConversation(ctx context.Context, tx *gorm.DB, userID, conversationID uuid.UUID) (*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || conversationID == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ? AND status IN ?",
			userID, conversationID,
			[]types.JobStatus{types.JobQueued, types.JobInProgress, types.JobCancelRequested},
		).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *generationJobRepo) ListQueued(ctx context.Context, tx *gorm.DB, limit int) ([]*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var out []*types.GenerationJob
	if err := transaction.WithContext(ctx).
		Where("status = ?", types.JobQueued).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Claim atomically moves a queued job to in_progress. Returns nil (not an
// error) when another worker won the row first.
func (r *generationJobRepo) Claim(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.GenerationJob{}).
		Where("id = ? AND status = ?", id, types.JobQueued).
		Updates(map[string]interface{}{
			"status":       types.JobInProgress,
			"phase":        types.PhasePreparing,
			"progress":     gorm.Expr("GREATEST(progress, ?)", 5),
			"attempts":     gorm.Expr("attempts + 1"),
			"started_at":   now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	rows, err := r.GetByIDs(ctx, transaction, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, errors.New("claimed job row disappeared")
	}
	return rows[0], nil
}

// UpdateFieldsWhereStatus applies updates only while the row's status is in
// the allowed set, and reports whether a row was written. Conditioning on
// the allowed "from" states is what keeps terminal rows immutable.
func (r *generationJobRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, allowed []types.JobStatus, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(allowed) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.GenerationJob{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.GenerationJob{}).
		Where("id = ? AND status IN ?", id, []types.JobStatus{types.JobInProgress, types.JobCancelRequested}).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
