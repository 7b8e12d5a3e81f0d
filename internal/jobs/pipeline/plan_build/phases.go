package plan_build

import (
	"fmt"

	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// activePhases resolves the phase order for one request. Phases with no
// input are skipped: minors and electives when the request lists none, and
// gen eds for graduate students.
func activePhases(req *types.PlanRequest) []string {
	phases := []string{types.PhaseMajorSkeleton, types.PhaseMajorFill}
	if len(req.MinorPrograms) > 0 {
		phases = append(phases, types.PhaseMinorFill)
	}
	if !req.IsGraduateStudent && len(req.GenEdRequirements) > 0 {
		phases = append(phases, types.PhaseGenEdFill)
	}
	if len(req.Electives) > 0 {
		phases = append(phases, types.PhaseElectiveFill)
	}
	return phases
}

// phaseBounds splits the 5..95 progress window evenly across the active
// phases; phase i runs from start to end percent.
func phaseBounds(i, n int) (int, int) {
	return 5 + (90*i)/n, 5 + (90*(i+1))/n
}

// mergePhaseOutput folds one phase's output into the draft. The skeleton
// phase defines the terms; fill phases place courses into existing terms.
// Every placed course is tagged with the phase that placed it.
func mergePhaseOutput(draft *types.DraftPlan, phase string, out *types.PhaseOutput) error {
	if out == nil {
		return fmt.Errorf("phase %s produced no output", phase)
	}

	if phase == types.PhaseMajorSkeleton {
		draft.Terms = draft.Terms[:0]
		for _, term := range out.Terms {
			placed := types.PlannedTerm{Name: term.Name}
			for _, c := range term.Courses {
				c.Source = phase
				placed.Courses = append(placed.Courses, c)
				placed.Credits += c.Credits
			}
			draft.Terms = append(draft.Terms, placed)
		}
		return nil
	}

	for _, p := range out.Placements {
		term := draft.Term(p.Term)
		if term == nil {
			return fmt.Errorf("phase %s placed %s into unknown term %q", phase, p.Course.Code, p.Term)
		}
		if draft.HasCourse(p.Course.Code) {
			continue
		}
		course := p.Course
		course.Source = phase
		term.Courses = append(term.Courses, course)
		term.Credits += course.Credits
	}
	return nil
}

// removePhaseCourses strips everything a phase previously contributed, so a
// repair run starts from a clean slate for that phase.
func removePhaseCourses(draft *types.DraftPlan, phase string) {
	for i := range draft.Terms {
		term := &draft.Terms[i]
		kept := term.Courses[:0]
		var credits float64
		for _, c := range term.Courses {
			if c.Source == phase {
				continue
			}
			kept = append(kept, c)
			credits += c.Credits
		}
		term.Courses = kept
		term.Credits = credits
	}
}
