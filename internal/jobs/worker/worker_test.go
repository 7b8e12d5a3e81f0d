package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/StudentTechUsher/plangen-backend/internal/jobs/runtime"
	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/repos/testutil"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

func workerLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// blockingHandler completes jobs, optionally parking until released so
// tests can observe inflight behavior.
type blockingHandler struct {
	mu      sync.Mutex
	ran     []uuid.UUID
	block   chan struct{}
	started chan struct{}
}

func (h *blockingHandler) Type() string { return types.JobTypePlanBuild }

func (h *blockingHandler) Run(rc *runtime.Context) error {
	h.mu.Lock()
	h.ran = append(h.ran, rc.Job.ID)
	h.mu.Unlock()
	if h.started != nil {
		h.started <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	rc.Complete(uuid.New())
	return nil
}

func (h *blockingHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ran)
}

type panicHandler struct{}

func (panicHandler) Type() string                  { return types.JobTypePlanBuild }
func (panicHandler) Run(rc *runtime.Context) error { panic("boom") }

func setupWorker(t *testing.T, h runtime.Handler) (*Worker, *testutil.MemoryJobRepo, *testutil.MemoryEventRepo) {
	t.Helper()
	jobs := testutil.NewMemoryJobRepo()
	events := testutil.NewMemoryEventRepo()
	registry := runtime.NewRegistry()
	if h != nil {
		if err := registry.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return NewWorker(workerLogger(t), jobs, events, registry, nil), jobs, events
}

func enqueue(t *testing.T, jobs *testutil.MemoryJobRepo) *types.GenerationJob {
	t.Helper()
	job := &types.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		ConversationID: uuid.New(),
		JobType:        types.JobTypePlanBuild,
		Status:         types.JobQueued,
		Phase:          types.PhaseQueued,
	}
	if _, err := jobs.Create(context.Background(), nil, []*types.GenerationJob{job}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestRunCycleProcessesQueuedJobs(t *testing.T) {
	h := &blockingHandler{}
	w, jobs, events := setupWorker(t, h)
	job := enqueue(t, jobs)

	if ran := w.RunCycle(context.Background(), 10); ran != 1 {
		t.Fatalf("RunCycle: ran %d, expected 1", ran)
	}
	if got := jobs.Get(job.ID).Status; got != types.JobCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if h.runCount() != 1 {
		t.Fatalf("handler ran %d times", h.runCount())
	}

	started := false
	for _, ev := range events.All(job.ID) {
		if ev.EventType == types.EventJobStarted {
			started = true
		}
	}
	if !started {
		t.Error("expected job_started event")
	}

	// Nothing left to do.
	if ran := w.RunCycle(context.Background(), 10); ran != 0 {
		t.Fatalf("second RunCycle ran %d jobs", ran)
	}
}

func TestProcessJobSkipsClaimedJob(t *testing.T) {
	h := &blockingHandler{}
	w, jobs, _ := setupWorker(t, h)
	job := enqueue(t, jobs)

	if claimed, err := jobs.Claim(context.Background(), nil, job.ID); err != nil || claimed == nil {
		t.Fatalf("pre-claim: %v", err)
	}
	if w.ProcessJob(context.Background(), job.ID) {
		t.Fatal("ProcessJob should lose the claim")
	}
	if h.runCount() != 0 {
		t.Fatal("handler must not run for a lost claim")
	}
}

func TestProcessJobInflightGuard(t *testing.T) {
	h := &blockingHandler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	w, jobs, _ := setupWorker(t, h)
	job := enqueue(t, jobs)

	done := make(chan bool, 1)
	go func() { done <- w.ProcessJob(context.Background(), job.ID) }()
	<-h.started

	// Re-entry while the first run is parked must be rejected up front.
	if w.ProcessJob(context.Background(), job.ID) {
		t.Fatal("expected inflight guard to reject re-entry")
	}

	close(h.block)
	if !<-done {
		t.Fatal("first ProcessJob should have run the job")
	}
	if h.runCount() != 1 {
		t.Fatalf("handler ran %d times, expected 1", h.runCount())
	}
}

func TestProcessJobPanicFailsJob(t *testing.T) {
	w, jobs, _ := setupWorker(t, panicHandler{})
	job := enqueue(t, jobs)

	if !w.ProcessJob(context.Background(), job.ID) {
		t.Fatal("ProcessJob should claim and run")
	}
	got := jobs.Get(job.ID)
	if got.Status != types.JobFailed {
		t.Fatalf("expected failed after panic, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("expected error message after panic")
	}
}

func TestProcessJobMissingHandlerFails(t *testing.T) {
	w, jobs, _ := setupWorker(t, nil)
	job := enqueue(t, jobs)

	if !w.ProcessJob(context.Background(), job.ID) {
		t.Fatal("ProcessJob should claim even without a handler")
	}
	if got := jobs.Get(job.ID).Status; got != types.JobFailed {
		t.Fatalf("expected failed for missing handler, got %s", got)
	}
}
