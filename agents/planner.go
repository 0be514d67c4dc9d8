// ABOUTME: Model-backed planner: turns a question plus schema into an ordered step plan or a clarification request.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sifthq/sift/orchestrator"
)

// Planner asks the model for a plan and decodes it at a strict boundary.
type Planner struct {
	cfg Config
}

// NewPlanner builds a model-backed planner.
func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

type planResponse struct {
	Status                 string             `json:"status"`
	OverallGoal            string             `json:"overall_goal"`
	Steps                  []planStepResponse `json:"steps"`
	ClarificationQuestions []string           `json:"clarification_questions"`
	ClarificationContext   string             `json:"clarification_context"`
}

type planStepResponse struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning"`
}

// GeneratePlan implements orchestrator.Planner.
func (p *Planner) GeneratePlan(ctx context.Context, req orchestrator.PlanRequest) (*orchestrator.Plan, error) {
	user := joinSections(
		"Question: "+req.Question,
		schemaContext(req.Tables),
		semanticsContext(req.Semantics),
		priorWork(req),
	)

	text, err := complete(ctx, p.cfg, plannerSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	var resp planResponse
	if err := decodeJSON(text, &resp); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return resp.toPlan()
}

func (r *planResponse) toPlan() (*orchestrator.Plan, error) {
	switch r.Status {
	case string(orchestrator.PlanClarificationNeeded):
		if len(r.ClarificationQuestions) == 0 {
			return nil, fmt.Errorf("planner: clarification requested without questions")
		}
		return &orchestrator.Plan{
			Status:                 orchestrator.PlanClarificationNeeded,
			OverallGoal:            r.OverallGoal,
			ClarificationQuestions: r.ClarificationQuestions,
			ClarificationContext:   r.ClarificationContext,
		}, nil

	case string(orchestrator.PlanReady):
		if len(r.Steps) == 0 {
			return nil, fmt.Errorf("planner: READY plan has no steps")
		}
		steps := make([]orchestrator.Step, len(r.Steps))
		for i, s := range r.Steps {
			if strings.TrimSpace(s.Description) == "" {
				return nil, fmt.Errorf("planner: step %d has no description", i+1)
			}
			steps[i] = orchestrator.Step{
				StepNumber:  i + 1,
				Description: s.Description,
				Reasoning:   s.Reasoning,
			}
		}
		return &orchestrator.Plan{
			Status:      orchestrator.PlanReady,
			OverallGoal: r.OverallGoal,
			Steps:       steps,
		}, nil

	default:
		return nil, fmt.Errorf("planner: unknown plan status %q", r.Status)
	}
}

func priorWork(req orchestrator.PlanRequest) string {
	var sections []string
	if len(req.PriorSteps) > 0 {
		var b strings.Builder
		b.WriteString("Already executed:\n")
		for _, s := range req.PriorSteps {
			fmt.Fprintf(&b, "- step %d: %s\n", s.StepNumber, s.Description)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}
	if req.PriorAnswer != "" {
		sections = append(sections, "Previous interpretation: "+req.PriorAnswer)
	}
	if req.RefinementHint != "" {
		sections = append(sections, "Refinement requested: "+req.RefinementHint)
	}
	return joinSections(sections...)
}

var _ orchestrator.Planner = (*Planner)(nil)
