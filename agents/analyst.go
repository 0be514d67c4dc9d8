// ABOUTME: Model-backed discovery analyst: finds candidate business-term patterns in sampled table rows.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sifthq/sift/orchestrator"
)

// Analyst asks the model to find patterns worth turning into semantics.
type Analyst struct {
	cfg Config
}

// NewAnalyst builds a model-backed discovery analyst.
func NewAnalyst(cfg Config) *Analyst {
	return &Analyst{cfg: cfg}
}

type analyzeResponse struct {
	Discoveries []discoveryResponse `json:"discoveries"`
}

type discoveryResponse struct {
	Pattern           string   `json:"pattern"`
	Confidence        float64  `json:"confidence"`
	SuggestedSemantic string   `json:"suggested_semantic"`
	ValidationQuery   string   `json:"validation_query"`
	TableName         string   `json:"table_name"`
	ColumnName        string   `json:"column_name"`
	Evidence          []string `json:"evidence"`
}

// AnalyzeSample implements orchestrator.DiscoveryAnalyst.
func (a *Analyst) AnalyzeSample(ctx context.Context, req orchestrator.AnalyzeRequest) ([]orchestrator.Discovery, error) {
	user := joinSections(
		"Table: "+req.TableName,
		"Columns: "+strings.Join(req.Columns, ", "),
		sampleSection(req.Rows),
	)

	text, err := complete(ctx, a.cfg, analystSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("analyst: %w", err)
	}

	var resp analyzeResponse
	if err := decodeJSON(text, &resp); err != nil {
		return nil, fmt.Errorf("analyst: %w", err)
	}

	discoveries := make([]orchestrator.Discovery, 0, len(resp.Discoveries))
	for _, d := range resp.Discoveries {
		if strings.TrimSpace(d.Pattern) == "" {
			continue
		}
		table := d.TableName
		if table == "" {
			table = req.TableName
		}
		discoveries = append(discoveries, orchestrator.Discovery{
			Pattern:           d.Pattern,
			Confidence:        clampUnit(d.Confidence),
			SuggestedSemantic: d.SuggestedSemantic,
			ValidationQuery:   d.ValidationQuery,
			TableName:         table,
			ColumnName:        d.ColumnName,
			Evidence:          d.Evidence,
		})
	}
	return discoveries, nil
}

func sampleSection(rows [][]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample (%d rows):\n", len(rows))
	for _, row := range rows {
		fmt.Fprintf(&b, "%v\n", row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ orchestrator.DiscoveryAnalyst = (*Analyst)(nil)
