package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// PlanValidator checks an assembled draft against the request. A failing
// verdict tags each issue with the phase responsible so the workflow can
// re-run just those phases.
type PlanValidator interface {
	Validate(ctx context.Context, req *types.PlanRequest, draft *types.DraftPlan) (*types.ValidationResult, error)
}

type planValidator struct {
	log *logger.Logger
}

func NewPlanValidator(log *logger.Logger) PlanValidator {
	return &planValidator{log: log.With("service", "PlanValidator")}
}

func (v *planValidator) Validate(ctx context.Context, req *types.PlanRequest, draft *types.DraftPlan) (*types.ValidationResult, error) {
	var issues []types.ValidationIssue

	if draft == nil || len(draft.Terms) == 0 {
		issues = append(issues, types.ValidationIssue{
			Code:    "empty_plan",
			Message: "draft plan has no terms",
			Phase:   types.PhaseMajorSkeleton,
		})
		return verdict(issues), nil
	}

	completed := courseSet(req.CompletedCourses)

	// Per-term credit ceiling and duplicates anywhere on the draft.
	seen := map[string]string{}
	for _, term := range draft.Terms {
		var credits float64
		for _, c := range term.Courses {
			code := normalizeCode(c.Code)
			credits += c.Credits
			if prevTerm, dup := seen[code]; dup {
				issues = append(issues, types.ValidationIssue{
					Code:    "duplicate_course",
					Message: fmt.Sprintf("%s placed in both %s and %s", c.Code, prevTerm, term.Name),
					Phase:   sourcePhase(c),
				})
				continue
			}
			seen[code] = term.Name
			if completed[code] {
				issues = append(issues, types.ValidationIssue{
					Code:    "already_completed",
					Message: fmt.Sprintf("%s is already on the transcript", c.Code),
					Phase:   sourcePhase(c),
				})
			}
		}
		if req.MaxCreditsPerTerm > 0 && credits > req.MaxCreditsPerTerm {
			issues = append(issues, types.ValidationIssue{
				Code:    "term_overloaded",
				Message: fmt.Sprintf("%s carries %.1f credits, limit is %.1f", term.Name, credits, req.MaxCreditsPerTerm),
				Phase:   heaviestSource(term),
			})
		}
	}

	if len(draft.Terms) > req.TermsRemaining && req.TermsRemaining > 0 {
		issues = append(issues, types.ValidationIssue{
			Code:    "too_many_terms",
			Message: fmt.Sprintf("plan spans %d terms, student has %d remaining", len(draft.Terms), req.TermsRemaining),
			Phase:   types.PhaseMajorSkeleton,
		})
	}

	// Coverage: every non-completed required course must appear somewhere.
	for _, program := range req.MajorPrograms {
		issues = append(issues, missingCourses(program, completed, seen, types.PhaseMajorFill)...)
	}
	for _, program := range req.MinorPrograms {
		issues = append(issues, missingCourses(program, completed, seen, types.PhaseMinorFill)...)
	}

	res := verdict(issues)
	if !res.Pass {
		v.log.Debug("draft failed validation", "issues", len(res.Issues), "repair_phases", res.RepairPhases)
	}
	return res, nil
}

func missingCourses(program types.ProgramRequirement, completed map[string]bool, placed map[string]string, phase string) []types.ValidationIssue {
	var out []types.ValidationIssue
	for _, c := range program.RequiredCourses {
		code := normalizeCode(c.Code)
		if completed[code] {
			continue
		}
		if _, ok := placed[code]; !ok {
			out = append(out, types.ValidationIssue{
				Code:    "missing_required_course",
				Message: fmt.Sprintf("%s (%s) is required but not placed", c.Code, program.Name),
				Phase:   phase,
			})
		}
	}
	return out
}

func verdict(issues []types.ValidationIssue) *types.ValidationResult {
	if len(issues) == 0 {
		return &types.ValidationResult{Pass: true}
	}
	var phases []string
	seen := map[string]bool{}
	for _, phase := range types.PipelinePhases() {
		for _, issue := range issues {
			if issue.Phase == phase && !seen[phase] {
				seen[phase] = true
				phases = append(phases, phase)
			}
		}
	}
	return &types.ValidationResult{Pass: false, Issues: issues, RepairPhases: phases}
}

func courseSet(courses []types.CourseRef) map[string]bool {
	out := make(map[string]bool, len(courses))
	for _, c := range courses {
		out[normalizeCode(c.Code)] = true
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func sourcePhase(c types.PlannedCourse) string {
	if c.Source != "" {
		return c.Source
	}
	return types.PhaseMajorFill
}

// heaviestSource attributes a term overload to the phase that contributed
// the most credits to the term.
func heaviestSource(term types.PlannedTerm) string {
	perPhase := map[string]float64{}
	for _, c := range term.Courses {
		perPhase[sourcePhase(c)] += c.Credits
	}
	best := types.PhaseElectiveFill
	var max float64
	for _, phase := range types.PipelinePhases() {
		if perPhase[phase] > max {
			max = perPhase[phase]
			best = phase
		}
	}
	return best
}
