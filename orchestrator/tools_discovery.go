// ABOUTME: The DISCOVERY-mode tools: sample a table, analyze it, validate candidate patterns, then suggest/approve/store a semantic.
// ABOUTME: Every statement issued here goes through the same guard as QUERY mode and counts against the query budget.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// discoverySampleRows is the row cap for the initial table sample.
const discoverySampleRows = 50

// toolGetData samples the target table with an explicit column list so the
// analysis function has real rows to look at.
func (o *Orchestrator) toolGetData(ctx context.Context, r *runner) (*ToolResult, error) {
	target := r.rc.TargetTable
	if target == "" {
		return nil, fmt.Errorf("discovery requires a target table")
	}

	var columns []string
	for _, meta := range r.tables {
		if strings.EqualFold(meta.TableName, target) {
			columns = meta.Columns
			break
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("target table %q is not in the catalog", target)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", strings.Join(columns, ", "), target, discoverySampleRows)
	guarded := o.config.Guard.Validate(sql)
	if !guarded.Valid {
		return nil, &GuardRejectionError{Reason: guarded.Reason}
	}

	result, err := o.runQuery(ctx, r, guarded.SanitizedSQL)
	if err != nil {
		return nil, err
	}

	updates := ContextUpdates{
		PreviousResults: appendCopy(r.rc.PreviousResults, StepResult{Result: result}),
		SQLQueries:      appendCopy(r.rc.SQLQueries, guarded.SanitizedSQL),
		RowsReturned:    appendCopy(r.rc.RowsReturned, result.RowCount),
		Durations:       appendCopy(r.rc.Durations, result.Duration),
	}
	return &ToolResult{Updates: updates, Needs: "sample_ready"}, nil
}

// toolAnalyze hands the sample to the analysis function. No candidate
// patterns means discovery has nothing to offer and the mode terminates.
func (o *Orchestrator) toolAnalyze(ctx context.Context, r *runner) (*ToolResult, error) {
	if o.config.Analyst == nil {
		return nil, fmt.Errorf("no discovery analyst configured")
	}
	sample := r.rc.LastResult()
	if sample == nil {
		return nil, fmt.Errorf("analyze reached with no sample")
	}

	discoveries, err := o.config.Analyst.AnalyzeSample(ctx, AnalyzeRequest{
		TableName: r.rc.TargetTable,
		Columns:   sample.Columns,
		Rows:      sample.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing sample: %w", err)
	}

	if len(discoveries) == 0 {
		r.rc.appendLog("no patterns found in the sample; ending discovery")
		return &ToolResult{
			Needs:      "nothing_found",
			ForcedNext: &StatePair{Mode: ModeDiscovery, SubState: SubStateNone},
		}, nil
	}

	return &ToolResult{
		Updates: ContextUpdates{Discoveries: discoveries},
		Needs:   "patterns_found",
	}, nil
}

// toolValidateDiscoveries runs each candidate's validation query and keeps
// only candidates whose query succeeds and returns at least one row.
// Candidates without a validation query pass through unchecked.
func (o *Orchestrator) toolValidateDiscoveries(ctx context.Context, r *runner) (*ToolResult, error) {
	kept := make([]Discovery, 0, len(r.rc.Discoveries))
	queries := appendCopySlice(r.rc.SQLQueries)
	rows := appendCopySlice(r.rc.RowsReturned)
	durations := appendCopySlice(r.rc.Durations)

	for _, d := range r.rc.Discoveries {
		if d.ValidationQuery == "" {
			kept = append(kept, d)
			continue
		}

		guarded := o.config.Guard.Validate(d.ValidationQuery)
		if !guarded.Valid {
			r.rc.appendLog(fmt.Sprintf("discovery %q dropped: validation query rejected (%s)", d.Pattern, guarded.Reason))
			continue
		}

		result, err := o.runQuery(ctx, r, guarded.SanitizedSQL)
		if err != nil {
			r.rc.appendLog(fmt.Sprintf("discovery %q dropped: validation query failed (%v)", d.Pattern, err))
			continue
		}

		queries = append(queries, guarded.SanitizedSQL)
		rows = append(rows, result.RowCount)
		durations = append(durations, result.Duration)

		if result.RowCount == 0 {
			r.rc.appendLog(fmt.Sprintf("discovery %q dropped: no supporting rows", d.Pattern))
			continue
		}
		kept = append(kept, d)
	}

	updates := ContextUpdates{
		Discoveries:  kept,
		SQLQueries:   queries,
		RowsReturned: rows,
		Durations:    durations,
	}

	if len(kept) == 0 {
		r.rc.appendLog("no discoveries survived validation; ending discovery")
		return &ToolResult{
			Updates:    updates,
			Needs:      "nothing_validated",
			ForcedNext: &StatePair{Mode: ModeDiscovery, SubState: SubStateNone},
		}, nil
	}
	return &ToolResult{Updates: updates, Needs: "validated"}, nil
}

// toolSuggest shapes the highest-confidence surviving discovery into a
// semantic candidate for human approval.
func (o *Orchestrator) toolSuggest(ctx context.Context, r *runner) (*ToolResult, error) {
	if len(r.rc.Discoveries) == 0 {
		return &ToolResult{
			Needs:      "nothing_to_suggest",
			ForcedNext: &StatePair{Mode: ModeDiscovery, SubState: SubStateNone},
		}, nil
	}

	best := make([]Discovery, len(r.rc.Discoveries))
	copy(best, r.rc.Discoveries)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Confidence > best[j].Confidence })
	top := best[0]

	suggestion := &Semantic{
		Term:        top.SuggestedSemantic,
		Definition:  top.Pattern,
		SQLFragment: top.ValidationQuery,
	}
	return &ToolResult{
		Updates: ContextUpdates{Suggestion: suggestion},
		Needs:   "suggestion_ready",
	}, nil
}

// toolApprove asks the host whether the suggested semantic should be stored.
// Without an approval channel nothing is ever stored.
func (o *Orchestrator) toolApprove(ctx context.Context, r *runner) (*ToolResult, error) {
	if r.rc.Suggestion == nil {
		return nil, fmt.Errorf("approve reached with no suggestion")
	}
	if o.config.AskQuestion == nil {
		r.rc.appendLog("no approval channel; discarding the suggested semantic")
		return &ToolResult{
			Needs:      "unapproved",
			ForcedNext: &StatePair{Mode: ModeDiscovery, SubState: SubStateNone},
		}, nil
	}

	reply := o.config.AskQuestion(fmt.Sprintf(
		"Store semantic %q (%s)? (y/n)", r.rc.Suggestion.Term, r.rc.Suggestion.Definition))
	if !isAffirmative(reply) {
		r.rc.appendLog(fmt.Sprintf("semantic %q rejected by the operator", r.rc.Suggestion.Term))
		return &ToolResult{
			Needs:      "rejected",
			ForcedNext: &StatePair{Mode: ModeDiscovery, SubState: SubStateNone},
		}, nil
	}
	return &ToolResult{Needs: "approved"}, nil
}

// toolStore persists the approved semantic and ends the mode.
func (o *Orchestrator) toolStore(ctx context.Context, r *runner) (*ToolResult, error) {
	if o.config.Semantics == nil {
		return nil, fmt.Errorf("no semantic store configured")
	}
	if r.rc.Suggestion == nil {
		return nil, fmt.Errorf("store reached with no suggestion")
	}

	id, err := o.config.Semantics.Store(ctx, *r.rc.Suggestion)
	if err != nil {
		return nil, fmt.Errorf("storing semantic %q: %w", r.rc.Suggestion.Term, err)
	}

	stored := *r.rc.Suggestion
	stored.ID = id
	r.rc.appendLog(fmt.Sprintf("stored semantic %q as %s", stored.Term, id))

	return &ToolResult{
		Updates: ContextUpdates{
			Suggestion:        &stored,
			DetectedSemantics: appendCopy(r.rc.DetectedSemantics, stored),
		},
		Needs: "stored",
	}, nil
}

// appendCopySlice clones a slice so later appends never alias context history.
func appendCopySlice[T any](xs []T) []T {
	out := make([]T, len(xs))
	copy(out, xs)
	return out
}
