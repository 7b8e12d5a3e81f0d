package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/repos/testutil"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

func serviceLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newJobServiceForTest(t *testing.T) (JobService, *testutil.MemoryJobRepo, *testutil.MemoryEventRepo) {
	t.Helper()
	jobs := testutil.NewMemoryJobRepo()
	events := testutil.NewMemoryEventRepo()
	return NewJobService(serviceLogger(t), jobs, events, nil), jobs, events
}

func simpleRequest() *types.PlanRequest {
	return &types.PlanRequest{
		MajorPrograms:  []types.ProgramRequirement{{Name: "CS"}},
		TermsRemaining: 4,
	}
}

func TestCreateOrReuseDedup(t *testing.T) {
	svc, _, events := newJobServiceForTest(t)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	job1, reused, err := svc.CreateOrReuse(ctx, userID, convID, simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	if reused {
		t.Fatal("first create reported reused")
	}
	if job1.Status != types.JobQueued || job1.Phase != types.PhaseQueued {
		t.Fatalf("unexpected new job state: %s/%s", job1.Status, job1.Phase)
	}

	job2, reused, err := svc.CreateOrReuse(ctx, userID, convID, simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse second: %v", err)
	}
	if !reused || job2.ID != job1.ID {
		t.Fatalf("expected reuse of %s, got %s (reused=%v)", job1.ID, job2.ID, reused)
	}

	// Exactly one job_created event despite two calls.
	created := 0
	for _, ev := range events.All(job1.ID) {
		if ev.EventType == types.EventJobCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected 1 job_created event, got %d", created)
	}

	// A different conversation gets its own job.
	job3, reused, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse other conversation: %v", err)
	}
	if reused || job3.ID == job1.ID {
		t.Fatal("expected fresh job for other conversation")
	}
}

// racingJobRepo misses the active job on the first dedup read, forcing the
// service down the insert path where the unique index rejects it.
type racingJobRepo struct {
	*testutil.MemoryJobRepo
	misses int
}

func (r *racingJobRepo) GetActiveByConversation(ctx context.Context, tx *gorm.DB, userID, conversationID uuid.UUID) (*types.GenerationJob, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.MemoryJobRepo.GetActiveByConversation(ctx, tx, userID, conversationID)
}

func TestCreateOrReuseRaceConvergesOnWinner(t *testing.T) {
	mem := testutil.NewMemoryJobRepo()
	repo := &racingJobRepo{MemoryJobRepo: mem, misses: 1}
	svc := NewJobService(serviceLogger(t), repo, testutil.NewMemoryEventRepo(), nil)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	winner := &types.GenerationJob{
		ID:             uuid.New(),
		UserID:         userID,
		ConversationID: convID,
		JobType:        types.JobTypePlanBuild,
		Status:         types.JobQueued,
		Phase:          types.PhaseQueued,
	}
	if _, err := mem.Create(ctx, nil, []*types.GenerationJob{winner}); err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	job, reused, err := svc.CreateOrReuse(ctx, userID, convID, simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse under race: %v", err)
	}
	if !reused || job.ID != winner.ID {
		t.Fatalf("expected loser to converge on winner %s, got %s (reused=%v)", winner.ID, job.ID, reused)
	}
}

func TestGetForUserOwnership(t *testing.T) {
	svc, _, _ := newJobServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}

	if _, err := svc.GetForUser(ctx, job.ID, userID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := svc.GetForUser(ctx, job.ID, uuid.New()); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound for other user, got %v", err)
	}
	if _, err := svc.GetForUser(ctx, uuid.New(), userID); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound for unknown id, got %v", err)
	}
}

func TestListEventsForUserPagination(t *testing.T) {
	svc, _, events := newJobServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := events.Append(ctx, nil, []*types.JobEvent{{
			JobID:     job.ID,
			EventType: types.EventJobProgress,
		}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page1, err := svc.ListEventsForUser(ctx, job.ID, userID, 0, 2)
	if err != nil {
		t.Fatalf("ListEventsForUser: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page1))
	}
	page2, err := svc.ListEventsForUser(ctx, job.ID, userID, page1[len(page1)-1].ID, 100)
	if err != nil {
		t.Fatalf("ListEventsForUser page 2: %v", err)
	}
	for _, ev := range page2 {
		if ev.ID <= page1[len(page1)-1].ID {
			t.Fatalf("cursor not respected: event %d on page 2", ev.ID)
		}
	}

	// A stranger sees an empty ledger, not an error.
	other, err := svc.ListEventsForUser(ctx, job.ID, uuid.New(), 0, 100)
	if err != nil {
		t.Fatalf("ListEventsForUser other user: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty page for other user, got %d events", len(other))
	}
}

func TestCancelQueuedJob(t *testing.T) {
	svc, jobs, events := newJobServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}

	got, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != types.JobCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at on canceled job")
	}

	canceled := false
	for _, ev := range events.All(job.ID) {
		if ev.EventType == types.EventJobCanceled {
			canceled = true
		}
	}
	if !canceled {
		t.Error("expected job_canceled event")
	}

	// Idempotent.
	again, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel again: %v", err)
	}
	if again.Status != types.JobCanceled {
		t.Fatalf("second cancel changed status to %s", again.Status)
	}
	if jobs.Get(job.ID).Status != types.JobCanceled {
		t.Fatal("stored status changed by repeat cancel")
	}
}

func TestCancelInProgressJob(t *testing.T) {
	svc, jobs, _ := newJobServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	if claimed, err := jobs.Claim(ctx, nil, job.ID); err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != types.JobCancelRequested {
		t.Fatalf("expected cancel_requested, got %s", got.Status)
	}

	// Repeat cancel stays cancel_requested.
	again, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel again: %v", err)
	}
	if again.Status != types.JobCancelRequested {
		t.Fatalf("repeat cancel changed status to %s", again.Status)
	}
}

// claimStealingJobRepo has a worker claim the job right before the
// service's first guarded write, so the queued→canceled CAS loses.
type claimStealingJobRepo struct {
	*testutil.MemoryJobRepo
	steals int
}

func (r *claimStealingJobRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, allowed []types.JobStatus, updates map[string]interface{}) (bool, error) {
	if r.steals > 0 {
		r.steals--
		if _, err := r.MemoryJobRepo.Claim(ctx, tx, id); err != nil {
			return false, err
		}
	}
	return r.MemoryJobRepo.UpdateFieldsWhereStatus(ctx, tx, id, allowed, updates)
}

func TestCancelDuringClaimRaceLandsAsCancelRequested(t *testing.T) {
	mem := testutil.NewMemoryJobRepo()
	repo := &claimStealingJobRepo{MemoryJobRepo: mem, steals: 1}
	events := testutil.NewMemoryEventRepo()
	svc := NewJobService(serviceLogger(t), repo, events, nil)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}

	got, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != types.JobCancelRequested {
		t.Fatalf("cancel lost to the claim race: got %s, want cancel_requested", got.Status)
	}
	if mem.Get(job.ID).Status != types.JobCancelRequested {
		t.Fatal("stored status not cancel_requested")
	}

	requested := false
	for _, ev := range events.All(job.ID) {
		if ev.EventType == types.EventJobProgress && ev.Message == "cancellation requested" {
			requested = true
		}
	}
	if !requested {
		t.Error("expected cancellation-requested event after re-dispatch")
	}
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	svc, jobs, _ := newJobServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	job, _, err := svc.CreateOrReuse(ctx, userID, uuid.New(), simpleRequest())
	if err != nil {
		t.Fatalf("CreateOrReuse: %v", err)
	}
	jobs.SetStatus(job.ID, types.JobCompleted)

	got, err := svc.Cancel(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Fatalf("cancel of terminal job changed status to %s", got.Status)
	}
}
