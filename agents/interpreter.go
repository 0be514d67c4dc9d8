// ABOUTME: Model-backed interpreter: turns result sets into a plain-language answer plus a self-reported need.
package agents

import (
	"context"
	"fmt"

	"github.com/sifthq/sift/orchestrator"
)

// Interpreter asks the model to read the results gathered so far.
type Interpreter struct {
	cfg Config
}

// NewInterpreter builds a model-backed interpreter.
func NewInterpreter(cfg Config) *Interpreter {
	return &Interpreter{cfg: cfg}
}

type interpretResponse struct {
	Summary         string `json:"summary"`
	NeedsRefinement bool   `json:"needs_refinement"`
	NeedsNextStep   bool   `json:"needs_next_step"`
	RefinementHint  string `json:"refinement_hint"`
}

// Interpret implements orchestrator.Interpreter.
func (i *Interpreter) Interpret(ctx context.Context, req orchestrator.InterpretRequest) (*orchestrator.Interpretation, error) {
	user := joinSections(
		"Question: "+req.Question,
		planSection(req.Plan),
		resultsContext(req.Steps, req.Results),
	)

	text, err := complete(ctx, i.cfg, interpreterSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("interpreter: %w", err)
	}

	var resp interpretResponse
	if err := decodeJSON(text, &resp); err != nil {
		return nil, fmt.Errorf("interpreter: %w", err)
	}
	if resp.Summary == "" {
		return nil, fmt.Errorf("interpreter: response carried no summary")
	}

	return &orchestrator.Interpretation{
		Summary:         resp.Summary,
		NeedsRefinement: resp.NeedsRefinement,
		NeedsNextStep:   resp.NeedsNextStep,
		RefinementHint:  resp.RefinementHint,
	}, nil
}

func planSection(plan *orchestrator.Plan) string {
	if plan == nil {
		return ""
	}
	return "Plan goal: " + plan.OverallGoal
}

var _ orchestrator.Interpreter = (*Interpreter)(nil)
