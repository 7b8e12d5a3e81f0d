package services

import (
	"context"
	"testing"

	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

func validatorRequest() *types.PlanRequest {
	return &types.PlanRequest{
		MajorPrograms: []types.ProgramRequirement{{
			Name: "CS",
			RequiredCourses: []types.CourseRef{
				{Code: "CS101", Credits: 3},
				{Code: "CS201", Credits: 3},
			},
		}},
		TermsRemaining:    2,
		MaxCreditsPerTerm: 6,
	}
}

func draftWith(courses ...[]types.PlannedCourse) *types.DraftPlan {
	d := &types.DraftPlan{}
	for i, cs := range courses {
		term := types.PlannedTerm{Name: "Term " + string(rune('1'+i)), Courses: cs}
		for _, c := range cs {
			term.Credits += c.Credits
		}
		d.Terms = append(d.Terms, term)
	}
	return d
}

func TestValidatePasses(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	draft := draftWith(
		[]types.PlannedCourse{{Code: "CS101", Credits: 3, Source: types.PhaseMajorSkeleton}},
		[]types.PlannedCourse{{Code: "CS201", Credits: 3, Source: types.PhaseMajorFill}},
	)
	res, err := v.Validate(context.Background(), validatorRequest(), draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Pass {
		t.Fatalf("expected pass, got issues %+v", res.Issues)
	}
}

func TestValidateMissingRequiredCourse(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	draft := draftWith(
		[]types.PlannedCourse{{Code: "CS101", Credits: 3, Source: types.PhaseMajorSkeleton}},
	)
	res, err := v.Validate(context.Background(), validatorRequest(), draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Pass {
		t.Fatal("expected failure for missing CS201")
	}
	found := false
	for _, issue := range res.Issues {
		if issue.Code == "missing_required_course" && issue.Phase == types.PhaseMajorFill {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing_required_course tagged major_fill, got %+v", res.Issues)
	}
	if len(res.RepairPhases) == 0 || res.RepairPhases[0] != types.PhaseMajorFill {
		t.Fatalf("expected repair phase major_fill, got %v", res.RepairPhases)
	}
}

func TestValidateCompletedCourseSatisfiesRequirement(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	req := validatorRequest()
	req.CompletedCourses = []types.CourseRef{{Code: "cs201", Credits: 3}}
	draft := draftWith(
		[]types.PlannedCourse{{Code: "CS101", Credits: 3, Source: types.PhaseMajorSkeleton}},
	)
	res, err := v.Validate(context.Background(), req, draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Pass {
		t.Fatalf("completed course should satisfy requirement, got %+v", res.Issues)
	}
}

func TestValidateOverloadedTerm(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	draft := draftWith(
		[]types.PlannedCourse{
			{Code: "CS101", Credits: 3, Source: types.PhaseMajorSkeleton},
			{Code: "CS201", Credits: 3, Source: types.PhaseMajorFill},
			{Code: "EL100", Credits: 3, Source: types.PhaseElectiveFill},
		},
	)
	res, err := v.Validate(context.Background(), validatorRequest(), draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Pass {
		t.Fatal("expected failure for overloaded term")
	}
	found := false
	for _, issue := range res.Issues {
		if issue.Code == "term_overloaded" {
			found = true
			// The skeleton and fill phases each placed 3 credits; the
			// heaviest single contributor wins the attribution.
			if issue.Phase == "" {
				t.Error("overload issue missing phase attribution")
			}
		}
	}
	if !found {
		t.Fatalf("expected term_overloaded, got %+v", res.Issues)
	}
}

func TestValidateDuplicateAndReplanned(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	req := validatorRequest()
	req.CompletedCourses = []types.CourseRef{{Code: "CS101", Credits: 3}}
	draft := draftWith(
		[]types.PlannedCourse{{Code: "CS101", Credits: 3, Source: types.PhaseMajorSkeleton}},
		[]types.PlannedCourse{
			{Code: "CS201", Credits: 3, Source: types.PhaseMajorFill},
			{Code: "cs201", Credits: 3, Source: types.PhaseElectiveFill},
		},
	)
	res, err := v.Validate(context.Background(), req, draft)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Pass {
		t.Fatal("expected failure")
	}
	codes := map[string]bool{}
	for _, issue := range res.Issues {
		codes[issue.Code] = true
	}
	if !codes["already_completed"] {
		t.Errorf("expected already_completed issue, got %+v", res.Issues)
	}
	if !codes["duplicate_course"] {
		t.Errorf("expected duplicate_course issue (case-insensitive), got %+v", res.Issues)
	}
}

func TestValidateEmptyDraft(t *testing.T) {
	v := NewPlanValidator(serviceLogger(t))
	res, err := v.Validate(context.Background(), validatorRequest(), &types.DraftPlan{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Pass {
		t.Fatal("expected failure for empty draft")
	}
	if len(res.RepairPhases) == 0 || res.RepairPhases[0] != types.PhaseMajorSkeleton {
		t.Fatalf("empty draft should point at the skeleton phase, got %v", res.RepairPhases)
	}
}
