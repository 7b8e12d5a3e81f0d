package worker

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StudentTechUsher/plangen-backend/internal/jobs/runtime"
	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/repos"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// Worker polls for queued jobs and drives them through their registered
// handler. Claiming is an atomic queued->in_progress update, so running
// several worker loops (or several processes) is safe: exactly one loop
// wins each job.
type Worker struct {
	log      *logger.Logger
	jobs     repos.GenerationJobRepo
	events   repos.JobEventRepo
	registry *runtime.Registry
	notify   services.JobNotifier

	mu       sync.Mutex
	inflight map[uuid.UUID]bool
}

func NewWorker(baseLog *logger.Logger, jobs repos.GenerationJobRepo, events repos.JobEventRepo, registry *runtime.Registry, notify services.JobNotifier) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		jobs:     jobs,
		events:   events,
		registry: registry,
		notify:   notify,
		inflight: map[uuid.UUID]bool{},
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := getEnvInt("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			w.RunCycle(ctx, 1)
		}
	}
}

// RunCycle claims and processes up to limit queued jobs, returning how many
// it ran. Exposed so the job service can trigger an immediate pickup after
// enqueue and tests can drive the worker synchronously.
func (w *Worker) RunCycle(ctx context.Context, limit int) int {
	queued, err := w.jobs.ListQueued(ctx, nil, limit)
	if err != nil {
		w.log.Warn("ListQueued failed", "error", err)
		return 0
	}

	ran := 0
	for _, job := range queued {
		if w.ProcessJob(ctx, job.ID) {
			ran++
		}
	}
	return ran
}

// ProcessJob claims one job by id and runs it to a terminal state. Returns
// false when the job was already claimed elsewhere or is tracked inflight
// by this worker.
func (w *Worker) ProcessJob(ctx context.Context, id uuid.UUID) bool {
	w.mu.Lock()
	if w.inflight[id] {
		w.mu.Unlock()
		return false
	}
	w.inflight[id] = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inflight, id)
		w.mu.Unlock()
	}()

	job, err := w.jobs.Claim(ctx, nil, id)
	if err != nil {
		w.log.Warn("Claim failed", "job_id", id, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	jc := runtime.NewContext(ctx, job, w.jobs, w.events, w.notify)
	w.appendStarted(ctx, job)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType}, nil)
		return true
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"job_id", job.ID,
					"job_type", job.JobType,
					"panic", r,
				)
				jc.Fail("panic", errFromRecover(r), nil)
			}
		}()

		if runErr := h.Run(jc); runErr != nil {
			// Pipelines finalize their own jobs; this is a safety net.
			jc.Fail("run", runErr, nil)
		}
	}()
	return true
}

func (w *Worker) appendStarted(ctx context.Context, job *types.GenerationJob) {
	pct := job.Progress
	_, _ = w.events.Append(ctx, nil, []*types.JobEvent{{
		JobID:     job.ID,
		EventType: types.EventJobStarted,
		Phase:     job.Phase,
		Progress:  &pct,
	}})
	if w.notify != nil {
		w.notify.JobProgress(job.UserID, job, job.Phase, job.Progress, "job started")
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
