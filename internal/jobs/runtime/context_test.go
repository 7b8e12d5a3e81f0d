package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/StudentTechUsher/plangen-backend/internal/repos/testutil"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

func claimedContext(t *testing.T) (*Context, *testutil.MemoryJobRepo, *testutil.MemoryEventRepo) {
	t.Helper()
	jobs := testutil.NewMemoryJobRepo()
	events := testutil.NewMemoryEventRepo()

	job := &types.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		ConversationID: uuid.New(),
		JobType:        types.JobTypePlanBuild,
		Status:         types.JobQueued,
		Phase:          types.PhaseQueued,
		Payload:        datatypes.JSON([]byte(`{"terms_remaining":4,"major_programs":[{"name":"CS","required_courses":[]}]}`)),
	}
	if _, err := jobs.Create(context.Background(), nil, []*types.GenerationJob{job}); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := jobs.Claim(context.Background(), nil, job.ID)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	return NewContext(context.Background(), claimed, jobs, events, nil), jobs, events
}

func TestRequestDecodesPayload(t *testing.T) {
	rc, _, _ := claimedContext(t)
	req, err := rc.Request()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.TermsRemaining != 4 || len(req.MajorPrograms) != 1 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	rc, jobs, _ := claimedContext(t)
	rc.Progress(types.PhaseMajorSkeleton, 40, "")
	rc.Progress(types.PhaseMajorFill, 20, "")

	job := jobs.Get(rc.Job.ID)
	if job.Progress != 40 {
		t.Fatalf("progress regressed: %d", job.Progress)
	}
	if job.Phase != types.PhaseMajorFill {
		t.Fatalf("phase should still advance, got %q", job.Phase)
	}
}

func TestCompleteFromCancelRequested(t *testing.T) {
	rc, jobs, _ := claimedContext(t)
	jobs.SetStatus(rc.Job.ID, types.JobCancelRequested)

	accessID := uuid.New()
	rc.Complete(accessID)

	job := jobs.Get(rc.Job.ID)
	if job.Status != types.JobCompleted {
		t.Fatalf("completion must win over a pending cancel, got %s", job.Status)
	}
	if job.OutputAccessID == nil || *job.OutputAccessID != accessID {
		t.Fatal("access id not recorded")
	}
}

func TestFailDefersToCancelRequest(t *testing.T) {
	rc, jobs, events := claimedContext(t)
	jobs.SetStatus(rc.Job.ID, types.JobCancelRequested)

	rc.Fail(types.PhaseMajorFill, errors.New("model exploded"), nil)

	job := jobs.Get(rc.Job.ID)
	if job.Status != types.JobCanceled {
		t.Fatalf("fail during cancel_requested should finalize as canceled, got %s", job.Status)
	}
	if job.Error != "" {
		t.Errorf("canceled job must not carry an error, got %q", job.Error)
	}
	for _, ev := range events.All(rc.Job.ID) {
		if ev.EventType == types.EventJobFailed {
			t.Fatal("no job_failed event expected when cancel wins")
		}
	}
}

func TestTerminalRowIsImmutable(t *testing.T) {
	rc, jobs, events := claimedContext(t)
	rc.Complete(uuid.New())
	before := len(events.All(rc.Job.ID))

	rc.Progress(types.PhaseElectiveFill, 50, "late write")
	rc.Fail(types.PhaseElectiveFill, errors.New("late failure"), nil)
	rc.Canceled(types.PhaseElectiveFill)

	job := jobs.Get(rc.Job.ID)
	if job.Status != types.JobCompleted || job.Progress != 100 {
		t.Fatalf("terminal row mutated: %s/%d", job.Status, job.Progress)
	}
	if got := len(events.All(rc.Job.ID)); got != before {
		t.Fatalf("events appended after terminal state: %d -> %d", before, got)
	}
}
