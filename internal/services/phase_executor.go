package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/StudentTechUsher/plangen-backend/internal/logger"
	"github.com/StudentTechUsher/plangen-backend/internal/types"
)

// PhaseExecutor produces the course placements for one generation phase.
// It sees the request, the draft assembled so far, and (on repair runs) the
// validation issues attributed to the phase.
type PhaseExecutor interface {
	ExecutePhase(ctx context.Context, phase string, req *types.PlanRequest, draft *types.DraftPlan, issues []types.ValidationIssue) (*types.PhaseOutput, error)
}

type phaseExecutor struct {
	log    *logger.Logger
	client OpenAIClient
}

func NewPhaseExecutor(log *logger.Logger, client OpenAIClient) PhaseExecutor {
	return &phaseExecutor{
		log:    log.With("service", "PhaseExecutor"),
		client: client,
	}
}

var courseSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"code", "title", "credits"},
	"properties": map[string]any{
		"code":    map[string]any{"type": "string"},
		"title":   map[string]any{"type": "string"},
		"credits": map[string]any{"type": "number", "minimum": 0},
	},
}

// skeletonSchema: the first phase lays out the named terms themselves.
var skeletonSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"terms"},
	"properties": map[string]any{
		"terms": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"name", "courses"},
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"courses": map[string]any{"type": "array", "items": courseSchema},
				},
			},
		},
	},
}

// placementsSchema: fill phases assign courses into the existing terms.
var placementsSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"placements"},
	"properties": map[string]any{
		"placements": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"term", "course"},
				"properties": map[string]any{
					"term":   map[string]any{"type": "string"},
					"course": courseSchema,
				},
			},
		},
	},
}

func (e *phaseExecutor) ExecutePhase(ctx context.Context, phase string, req *types.PlanRequest, draft *types.DraftPlan, issues []types.ValidationIssue) (*types.PhaseOutput, error) {
	system := systemPromptFor(phase)
	if system == "" {
		return nil, fmt.Errorf("unknown generation phase %q", phase)
	}

	user, err := userPromptFor(phase, req, draft, issues)
	if err != nil {
		return nil, err
	}

	schemaName := "phase_placements"
	schema := placementsSchema
	if phase == types.PhaseMajorSkeleton {
		schemaName = "plan_skeleton"
		schema = skeletonSchema
	}

	obj, err := e.client.GenerateJSON(ctx, system, user, schemaName, schema)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var out types.PhaseOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("phase %s: decode output: %w", phase, err)
	}
	if phase == types.PhaseMajorSkeleton && len(out.Terms) == 0 {
		return nil, fmt.Errorf("phase %s: model returned no terms", phase)
	}

	e.log.Debug("phase executed",
		"phase", phase,
		"terms", len(out.Terms),
		"placements", len(out.Placements),
	)
	return &out, nil
}

func systemPromptFor(phase string) string {
	switch phase {
	case types.PhaseMajorSkeleton:
		return "You are an academic advisor. Lay out the remaining terms by name and place the core required major courses across them in prerequisite order, staying under the per-term credit limit."
	case types.PhaseMajorFill:
		return "You are an academic advisor. Place the remaining major requirement courses into the existing terms without exceeding the per-term credit limit."
	case types.PhaseMinorFill:
		return "You are an academic advisor. Place the minor requirement courses into open capacity of the existing draft plan."
	case types.PhaseGenEdFill:
		return "You are an academic advisor. Place general-education requirement courses into open capacity of the existing draft plan, preferring earlier terms."
	case types.PhaseElectiveFill:
		return "You are an academic advisor. Fill remaining credit capacity with the listed elective courses, keeping each term at or under the credit limit."
	}
	return ""
}

func userPromptFor(phase string, req *types.PlanRequest, draft *types.DraftPlan, issues []types.ValidationIssue) (string, error) {
	var b strings.Builder

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	b.WriteString("Student request:\n")
	b.Write(reqJSON)
	b.WriteString("\n\n")

	if draft != nil && len(draft.Terms) > 0 {
		draftJSON, err := json.Marshal(draft)
		if err != nil {
			return "", err
		}
		b.WriteString("Draft plan so far. Do not move, remove or duplicate these courses; use the term names exactly as given:\n")
		b.Write(draftJSON)
		b.WriteString("\n\n")
	}

	if len(issues) > 0 {
		issuesJSON, err := json.Marshal(issues)
		if err != nil {
			return "", err
		}
		b.WriteString("A previous attempt failed validation. Fix these issues:\n")
		b.Write(issuesJSON)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Handle the %s phase only. The student has %d terms remaining and a maximum of %.1f credits per term.\n",
		phase, req.TermsRemaining, req.MaxCreditsPerTerm)
	return b.String(), nil
}
