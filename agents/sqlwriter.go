// ABOUTME: Model-backed SQL writer: drafts one SELECT statement for one plan step.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sifthq/sift/orchestrator"
)

// SQLWriter asks the model for a single SELECT per plan step.
type SQLWriter struct {
	cfg Config
}

// NewSQLWriter builds a model-backed SQL writer.
func NewSQLWriter(cfg Config) *SQLWriter {
	return &SQLWriter{cfg: cfg}
}

type sqlResponse struct {
	SQL string `json:"sql"`
}

// WriteSQL implements orchestrator.SQLWriter.
func (w *SQLWriter) WriteSQL(ctx context.Context, req orchestrator.SQLRequest) (string, error) {
	user := joinSections(
		"Question: "+req.Question,
		fmt.Sprintf("Step %d: %s", req.Step.StepNumber, req.Step.Description),
		reasoningSection(req.Step.Reasoning),
		schemaContext(req.Tables),
		semanticsContext(req.Semantics),
		resultsContext(nil, req.Previous),
	)

	text, err := complete(ctx, w.cfg, sqlWriterSystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("sql writer: %w", err)
	}

	var resp sqlResponse
	if err := decodeJSON(text, &resp); err != nil {
		return "", fmt.Errorf("sql writer: %w", err)
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return "", fmt.Errorf("sql writer: response carried no sql")
	}
	return resp.SQL, nil
}

func reasoningSection(reasoning string) string {
	if reasoning == "" {
		return ""
	}
	return "Step reasoning: " + reasoning
}

var _ orchestrator.SQLWriter = (*SQLWriter)(nil)
