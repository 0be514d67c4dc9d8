// ABOUTME: Model-backed decision function proposing the next (mode, sub-state) pair each iteration.
// ABOUTME: Proposals are advisory; the run loop validates them against its transition whitelist.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sifthq/sift/orchestrator"
)

// Decider asks the model which state the run should enter next.
type Decider struct {
	cfg Config
}

// NewDecider builds a model-backed decision function.
func NewDecider(cfg Config) *Decider {
	return &Decider{cfg: cfg}
}

type decisionResponse struct {
	NextMode     string  `json:"next_mode"`
	NextSubState string  `json:"next_substate"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
}

// Decide implements orchestrator.Decider.
func (d *Decider) Decide(ctx context.Context, req orchestrator.DecisionRequest) (*orchestrator.Decision, error) {
	user := joinSections(
		fmt.Sprintf("Current state: %s/%s (iteration %d)", req.Current.Mode, req.Current.SubState, req.Iteration),
		"Question: "+req.Question,
		needsSection(req.AgentNeeds),
	)

	text, err := complete(ctx, d.cfg, deciderSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("decider: %w", err)
	}

	var resp decisionResponse
	if err := decodeJSON(text, &resp); err != nil {
		return nil, fmt.Errorf("decider: %w", err)
	}

	return &orchestrator.Decision{
		NextMode:     orchestrator.Mode(strings.ToUpper(strings.TrimSpace(resp.NextMode))),
		NextSubState: orchestrator.SubState(strings.ToUpper(strings.TrimSpace(resp.NextSubState))),
		Reasoning:    resp.Reasoning,
		Confidence:   resp.Confidence,
	}, nil
}

func needsSection(needs map[string]string) string {
	if len(needs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Tool-reported needs:\n")
	for state, need := range needs {
		fmt.Fprintf(&b, "- %s: %s\n", state, need)
	}
	return strings.TrimRight(b.String(), "\n")
}

var _ orchestrator.Decider = (*Decider)(nil)
