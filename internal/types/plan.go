package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CourseRef identifies a course as it appears in requirements, transcripts
// and generated plans.
type CourseRef struct {
	Code    string  `json:"code"`
	Title   string  `json:"title,omitempty"`
	Credits float64 `json:"credits"`
}

// ProgramRequirement describes one declared major or minor program.
type ProgramRequirement struct {
	Name            string      `json:"name"`
	RequiredCourses []CourseRef `json:"required_courses"`
	CreditsRequired float64     `json:"credits_required,omitempty"`
}

// GenEdRequirement is one general-education category with its candidate
// courses.
type GenEdRequirement struct {
	Category        string      `json:"category"`
	CreditsRequired float64     `json:"credits_required"`
	Options         []CourseRef `json:"options,omitempty"`
}

// PlanRequest is the immutable input payload of a generation job.
type PlanRequest struct {
	MajorPrograms     []ProgramRequirement `json:"major_programs"`
	MinorPrograms     []ProgramRequirement `json:"minor_programs,omitempty"`
	GenEdRequirements []GenEdRequirement   `json:"gen_ed_requirements,omitempty"`
	Electives         []CourseRef          `json:"electives,omitempty"`
	CompletedCourses  []CourseRef          `json:"completed_courses,omitempty"`
	TermsRemaining    int                  `json:"terms_remaining"`
	MaxCreditsPerTerm float64              `json:"max_credits_per_term,omitempty"`
	IsGraduateStudent bool                 `json:"is_graduate_student,omitempty"`
}

// PlannedCourse is one course placed on the draft; Source records the phase
// that placed it.
type PlannedCourse struct {
	Code    string  `json:"code"`
	Title   string  `json:"title,omitempty"`
	Credits float64 `json:"credits"`
	Source  string  `json:"source,omitempty"`
}

type PlannedTerm struct {
	Name    string          `json:"name"`
	Courses []PlannedCourse `json:"courses"`
	Credits float64         `json:"credits"`
}

// DraftPlan is the in-progress accumulation of phase outputs; it lives only
// in worker memory until the plan store persists it.
type DraftPlan struct {
	Terms []PlannedTerm `json:"terms"`
}

func (d *DraftPlan) Term(name string) *PlannedTerm {
	for i := range d.Terms {
		if d.Terms[i].Name == name {
			return &d.Terms[i]
		}
	}
	return nil
}

// TotalCredits sums planned credits across all terms.
func (d *DraftPlan) TotalCredits() float64 {
	var total float64
	for _, t := range d.Terms {
		total += t.Credits
	}
	return total
}

// HasCourse reports whether code is already placed anywhere on the draft.
func (d *DraftPlan) HasCourse(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, t := range d.Terms {
		for _, c := range t.Courses {
			if strings.ToUpper(strings.TrimSpace(c.Code)) == code {
				return true
			}
		}
	}
	return false
}

// CoursePlacement is one fill-phase output entry: a course assigned to a
// named term of the skeleton.
type CoursePlacement struct {
	Term   string        `json:"term"`
	Course PlannedCourse `json:"course"`
}

// PhaseOutput is the structured result of a single executor phase. The
// skeleton phase returns Terms; fill phases return Placements.
type PhaseOutput struct {
	Terms      []PlannedTerm     `json:"terms,omitempty"`
	Placements []CoursePlacement `json:"placements,omitempty"`
}

// ValidationIssue is one problem the validator found with a draft, tagged
// with the pipeline phase most likely responsible.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

// ValidationResult is the validator's verdict.
type ValidationResult struct {
	Pass         bool              `json:"pass"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
	RepairPhases []string          `json:"repair_phases,omitempty"`
}

// ValidationError is the non-retriable error kind raised when the repair
// loop is exhausted. It carries the last verdict so the terminal job row can
// store structured issues rather than a flattened string.
type ValidationError struct {
	Issues       []ValidationIssue
	RepairPhases []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan validation failed after repairs: %d issue(s)", len(e.Issues))
}

// AcademicPlan is the persisted final plan; AccessID is the opaque handle
// returned to callers on job completion.
type AcademicPlan struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	AccessID       uuid.UUID      `gorm:"column:access_id;type:uuid;not null;uniqueIndex" json:"access_id"`
	PlanJSON       datatypes.JSON `gorm:"column:plan_json;type:jsonb" json:"plan_json"`
	RequestJSON    datatypes.JSON `gorm:"column:request_json;type:jsonb" json:"request_json"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AcademicPlan) TableName() string { return "academic_plan" }
