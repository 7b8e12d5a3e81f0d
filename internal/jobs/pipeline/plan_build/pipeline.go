package plan_build

import (
	"fmt"

	"github.com/StudentTechUsher/plangen-backend/internal/jobs/runtime"
	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/services"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// maxRepairAttempts bounds the validate/repair loop: after this many failed
// repair rounds the job fails with the final issues attached.
const maxRepairAttempts = 2

// Pipeline runs the multi-phase plan generation workflow for one claimed
// job. Cancellation is cooperative: the pipeline checks for a cancel
// request at phase boundaries only, never mid-phase.
type Pipeline struct {
	log       *logger.Logger
	executor  services.PhaseExecutor
	validator services.PlanValidator
	store     services.PlanStore
}

func New(log *logger.Logger, executor services.PhaseExecutor, validator services.PlanValidator, store services.PlanStore) *Pipeline {
	return &Pipeline{
		log:       log.With("pipeline", types.JobTypePlanBuild),
		executor:  executor,
		validator: validator,
		store:     store,
	}
}

func (p *Pipeline) Type() string { return types.JobTypePlanBuild }

func (p *Pipeline) Run(rc *runtime.Context) error {
	req, err := rc.Request()
	if err != nil {
		rc.Fail(types.PhasePreparing, fmt.Errorf("decode payload: %w", err), nil)
		return nil
	}
	if err := validateRequest(req); err != nil {
		rc.Fail(types.PhasePreparing, err, nil)
		return nil
	}

	phases := activePhases(req)
	draft := &types.DraftPlan{}

	// Generation phases.
	for i, phase := range phases {
		if requested, err := rc.CancelRequested(); err == nil && requested {
			rc.Canceled(phase)
			return nil
		}
		startPct, endPct := phaseBounds(i, len(phases))
		rc.PhaseStarted(phase, startPct)

		out, err := p.runPhaseWithRetry(rc, phase, req, draft, nil)
		if err != nil {
			rc.Fail(phase, err, nil)
			return nil
		}
		if err := mergePhaseOutput(draft, phase, out); err != nil {
			rc.Fail(phase, err, nil)
			return nil
		}
		rc.PhaseCompleted(phase, endPct, map[string]any{
			"courses_placed": countCourses(draft),
		})
	}

	// Validate, repairing failed phases up to the attempt budget.
	if requested, err := rc.CancelRequested(); err == nil && requested {
		rc.Canceled(types.PhaseValidating)
		return nil
	}
	rc.Progress(types.PhaseValidating, 95, "validating plan")

	var verdict *types.ValidationResult
	for attempt := 0; ; attempt++ {
		verdict, err = p.validator.Validate(rc.Ctx, req, draft)
		if err != nil {
			rc.Fail(types.PhaseValidating, err, nil)
			return nil
		}
		if verdict.Pass {
			break
		}
		if attempt >= maxRepairAttempts {
			rc.Fail(types.PhaseValidating,
				&types.ValidationError{Issues: verdict.Issues, RepairPhases: verdict.RepairPhases},
				map[string]any{
					"issues":        verdict.Issues,
					"repair_phases": verdict.RepairPhases,
				},
			)
			return nil
		}

		p.log.Info("repairing draft",
			"job_id", rc.Job.ID,
			"attempt", attempt+1,
			"phases", verdict.RepairPhases,
		)
		if done, failedPhase, err := p.repair(rc, req, draft, phases, verdict); err != nil {
			rc.Fail(failedPhase, err, nil)
			return nil
		} else if done {
			return nil
		}
	}

	// Persist and complete. From here a racing cancel request loses: the
	// plan is already valid, so completion wins.
	if requested, err := rc.CancelRequested(); err == nil && requested {
		rc.Canceled(types.PhasePersisting)
		return nil
	}
	rc.Progress(types.PhasePersisting, 98, "persisting plan")

	accessID, err := p.store.Persist(rc.Ctx, rc.Job.UserID, rc.Job.ConversationID, req, draft)
	if err != nil {
		rc.Fail(types.PhasePersisting, err, nil)
		return nil
	}
	rc.Complete(accessID)
	return nil
}

// repair re-runs the phases the validator blamed, feeding each its issues.
// A repair that includes the skeleton phase restarts every phase, since a
// new skeleton invalidates all placements. Returns done=true when the job
// was finalized (canceled) during the repair; on error the phase that was
// running is returned so the terminal row names it.
func (p *Pipeline) repair(rc *runtime.Context, req *types.PlanRequest, draft *types.DraftPlan, phases []string, verdict *types.ValidationResult) (bool, string, error) {
	target := verdict.RepairPhases
	if contains(target, types.PhaseMajorSkeleton) {
		target = phases
	}

	for _, phase := range phases {
		if !contains(target, phase) {
			continue
		}
		if requested, err := rc.CancelRequested(); err == nil && requested {
			rc.Canceled(phase)
			return true, "", nil
		}

		issues := issuesFor(verdict.Issues, phase)
		removePhaseCourses(draft, phase)
		out, err := p.runPhaseWithRetry(rc, phase, req, draft, issues)
		if err != nil {
			return false, phase, err
		}
		if err := mergePhaseOutput(draft, phase, out); err != nil {
			return false, phase, err
		}
	}
	return false, "", nil
}

// runPhaseWithRetry executes one phase, retrying exactly once when the
// failure is transient (timeout, rate limit, upstream 5xx). A second
// failure, or any non-transient error, is returned as-is.
func (p *Pipeline) runPhaseWithRetry(rc *runtime.Context, phase string, req *types.PlanRequest, draft *types.DraftPlan, issues []types.ValidationIssue) (*types.PhaseOutput, error) {
	out, err := p.executor.ExecutePhase(rc.Ctx, phase, req, draft, issues)
	if err == nil {
		return out, nil
	}
	if rc.Ctx.Err() != nil || !services.IsTransientErr(err) {
		return nil, err
	}

	p.log.Warn("phase failed, retrying once", "job_id", rc.Job.ID, "phase", phase, "error", err)
	rc.Heartbeat()
	out, err = p.executor.ExecutePhase(rc.Ctx, phase, req, draft, issues)
	if err != nil {
		return nil, fmt.Errorf("phase %s failed after retry: %w", phase, err)
	}
	return out, nil
}

func validateRequest(req *types.PlanRequest) error {
	if len(req.MajorPrograms) == 0 {
		return fmt.Errorf("request has no major programs")
	}
	if req.TermsRemaining <= 0 {
		return fmt.Errorf("request has no terms remaining")
	}
	return nil
}

func issuesFor(issues []types.ValidationIssue, phase string) []types.ValidationIssue {
	var out []types.ValidationIssue
	for _, issue := range issues {
		if issue.Phase == phase {
			out = append(out, issue)
		}
	}
	return out
}

func contains(phases []string, phase string) bool {
	for _, p := range phases {
		if p == phase {
			return true
		}
	}
	return false
}

func countCourses(draft *types.DraftPlan) int {
	var n int
	for _, t := range draft.Terms {
		n += len(t.Courses)
	}
	return n
}
