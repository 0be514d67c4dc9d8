// ABOUTME: The QUERY-mode tools: plan, clarify, execute, interpret.
// ABOUTME: Execute is the choke point where the guard, the structural parser, and metadata validation gate every statement.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sifthq/sift/schema"
	"github.com/sifthq/sift/sqlparse"
)

// loopRepeatThreshold is how many times an identical plan signature may
// already appear in history before a fresh proposal of it forces an answer.
const loopRepeatThreshold = 2

// toolPlan asks the planning function for a plan, records its signature, and
// short-circuits to clarification or to answering on a detected loop.
func (o *Orchestrator) toolPlan(ctx context.Context, r *runner) (*ToolResult, error) {
	if o.config.Planner == nil {
		return nil, fmt.Errorf("no planner configured")
	}

	plan, err := o.config.Planner.GeneratePlan(ctx, PlanRequest{
		Question:       r.rc.Question,
		Tables:         r.tables,
		Semantics:      r.rc.DetectedSemantics,
		PriorSteps:     r.rc.ExecutedSteps,
		PriorAnswer:    r.rc.Interpretation,
		RefinementHint: r.rc.RefinementHint,
	})
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	if plan.Status == PlanClarificationNeeded {
		return &ToolResult{
			Updates:    ContextUpdates{Plan: plan},
			Needs:      "clarification",
			ForcedNext: &StatePair{Mode: ModeQuery, SubState: QueryClarify},
		}, nil
	}

	sig := plan.Signature()
	plans := append(append([]string{}, r.rc.PreviousPlans...), sig)

	if sig != "" && countString(r.rc.PreviousPlans, sig) >= loopRepeatThreshold {
		o.emit(RunEvent{Type: EventLoopDetected, RunID: r.rc.RunID, Mode: ModeQuery, SubState: QueryPlan,
			Data: map[string]any{"signature": sig}})
		r.rc.appendLog("planning loop detected; answering with existing results")
		return &ToolResult{
			Updates:    ContextUpdates{Plan: plan, PreviousPlans: plans},
			Needs:      "loop_detected",
			ForcedNext: &StatePair{Mode: ModeQuery, SubState: QueryAnswer},
		}, nil
	}

	zero := 0
	return &ToolResult{
		Updates: ContextUpdates{Plan: plan, PreviousPlans: plans, CurrentStepIndex: &zero},
		Needs:   "ready_to_execute",
	}, nil
}

// toolClarify asks the host the plan's clarification questions and folds the
// reply into the question. When the round budget is spent (or no host channel
// exists) it substitutes a best-effort single-step plan instead of stalling.
func (o *Orchestrator) toolClarify(ctx context.Context, r *runner) (*ToolResult, error) {
	limit := o.config.Limits.MaxClarifications

	if r.rc.ClarificationRounds >= limit || o.config.AskQuestion == nil {
		r.rc.appendLog("clarification unavailable or exhausted; proceeding with a best-effort plan")
		zero := 0
		plan := &Plan{
			Status:      PlanReady,
			OverallGoal: "Answer the question as asked, without further clarification",
			Steps: []Step{{
				StepNumber:  1,
				Description: r.rc.Question,
				Reasoning:   "single best-effort query after clarification was unavailable",
			}},
		}
		return &ToolResult{
			Updates:    ContextUpdates{Plan: plan, CurrentStepIndex: &zero},
			Needs:      "ready_to_execute",
			ForcedNext: &StatePair{Mode: ModeQuery, SubState: QueryExecute},
		}, nil
	}

	prompt := r.rc.Question
	if r.rc.Plan != nil && len(r.rc.Plan.ClarificationQuestions) > 0 {
		prompt = strings.Join(r.rc.Plan.ClarificationQuestions, "\n")
	}
	reply := o.config.AskQuestion(prompt)

	rounds := r.rc.ClarificationRounds + 1
	updates := ContextUpdates{ClarificationRounds: &rounds}

	if reply != "" {
		if !r.rc.QuestionRewritten {
			rewritten := fmt.Sprintf("%s (clarified: %s)", r.rc.Question, reply)
			yes := true
			updates.Question = &rewritten
			updates.QuestionRewritten = &yes
		} else {
			r.rc.appendLog("additional clarification: " + reply)
		}
	}

	return &ToolResult{
		Updates:    updates,
		Needs:      "replan",
		ForcedNext: &StatePair{Mode: ModeQuery, SubState: QueryPlan},
	}, nil
}

// toolExecute runs the current plan step: generate SQL if missing, pass it
// through the guard, validate its structure against catalog metadata, obtain
// permission, execute, and record the result. Validation failures block
// execution unconditionally.
func (o *Orchestrator) toolExecute(ctx context.Context, r *runner) (*ToolResult, error) {
	plan := r.rc.Plan
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("execute reached with no plan")
	}
	if r.rc.CurrentStepIndex >= len(plan.Steps) {
		return &ToolResult{
			Needs:      "all_steps_done",
			ForcedNext: &StatePair{Mode: ModeQuery, SubState: QueryInterpret},
		}, nil
	}

	step := plan.Steps[r.rc.CurrentStepIndex]

	sql := step.SQLQuery
	if sql == "" {
		if o.config.Writer == nil {
			return nil, fmt.Errorf("no sql writer configured")
		}
		generated, err := o.config.Writer.WriteSQL(ctx, SQLRequest{
			Question:  r.rc.Question,
			Step:      step,
			Tables:    r.tables,
			Semantics: r.rc.DetectedSemantics,
			Previous:  r.rc.PreviousResults,
		})
		if err != nil {
			return nil, fmt.Errorf("writing sql for step %d: %w", step.StepNumber, err)
		}
		sql = generated
	}

	guarded := o.config.Guard.Validate(sql)
	if !guarded.Valid {
		return nil, &GuardRejectionError{StepNumber: step.StepNumber, Reason: guarded.Reason}
	}
	sql = guarded.SanitizedSQL

	parsed := sqlparse.Parse(sql)
	validation := schema.Validate(parsed, r.tables)
	step.SQLQuery = sql
	step.Validation = &validation

	if !validation.Valid {
		return nil, &MetadataValidationError{StepNumber: step.StepNumber, Issues: validation.Issues}
	}

	_, tier := schema.TierConfidence(validation, len(r.rc.DetectedSemantics) > 0)

	if o.config.RequestPermission != nil {
		granted := o.config.RequestPermission(PermissionRequest{
			SQL:            sql,
			StepNumber:     step.StepNumber,
			TotalSteps:     len(plan.Steps),
			HasSemantics:   len(r.rc.DetectedSemantics) > 0,
			ConfidenceTier: tier,
			Validation:     &validation,
		})
		if !granted {
			return &ToolResult{Cancelled: true}, nil
		}
	}

	result, err := o.runQuery(ctx, r, sql)
	if err != nil {
		return nil, err
	}

	sql, result, uncapped := o.maybeFetchAllRows(ctx, r, sql, result)

	nextIndex := r.rc.CurrentStepIndex + 1
	updates := ContextUpdates{
		ExecutedSteps:    appendCopy(r.rc.ExecutedSteps, step),
		PreviousResults:  appendCopy(r.rc.PreviousResults, StepResult{StepNumber: step.StepNumber, Result: result}),
		SQLQueries:       appendCopy(r.rc.SQLQueries, sql),
		RowsReturned:     appendCopy(r.rc.RowsReturned, result.RowCount),
		Durations:        appendCopy(r.rc.Durations, result.Duration),
		CurrentStepIndex: &nextIndex,
	}

	res := &ToolResult{Updates: updates, Needs: "executed_step"}
	if uncapped {
		// The full result set replaces the capped one; interpretation
		// happens immediately, skipping the decision call.
		res.ForcedNext = &StatePair{Mode: ModeQuery, SubState: QueryInterpret}
	}
	return res, nil
}

// toolInterpret turns the results gathered so far into a narrative and a
// self-reported need: refine the plan, run the next step, or answer.
func (o *Orchestrator) toolInterpret(ctx context.Context, r *runner) (*ToolResult, error) {
	if o.config.Interpreter == nil {
		return nil, fmt.Errorf("no interpreter configured")
	}

	interp, err := o.config.Interpreter.Interpret(ctx, InterpretRequest{
		Question: r.rc.Question,
		Plan:     r.rc.Plan,
		Steps:    r.rc.ExecutedSteps,
		Results:  r.rc.PreviousResults,
	})
	if err != nil {
		return nil, fmt.Errorf("interpreting results: %w", err)
	}

	updates := ContextUpdates{
		Interpretation: &interp.Summary,
		RefinementHint: &interp.RefinementHint,
	}

	stepsRemain := r.rc.Plan != nil && r.rc.CurrentStepIndex < len(r.rc.Plan.Steps)

	needs := "ready_to_answer"
	switch {
	case interp.NeedsRefinement:
		needs = "refine_plan"
	case interp.NeedsNextStep && stepsRemain:
		needs = "execute_next_step"
	}

	return &ToolResult{Updates: updates, Needs: needs}, nil
}

// allRowsRe matches question phrasings that ask for the complete result set.
var allRowsRe = regexp.MustCompile(`(?i)\b(all|every|entire|complete)\b`)

// limitClauseRe strips the trailing row cap the guard appends.
var limitClauseRe = regexp.MustCompile(`(?i)\s+LIMIT\s+\d+`)

// maybeFetchAllRows re-runs a truncated query without its row cap when the
// question asked for everything and the host confirms. The replacement result
// stands in for the capped one; the third return reports whether it did.
func (o *Orchestrator) maybeFetchAllRows(ctx context.Context, r *runner, sql string, result *SQLResult) (string, *SQLResult, bool) {
	if o.config.AskQuestion == nil {
		return sql, result, false
	}
	if !allRowsRe.MatchString(r.rc.Question) {
		return sql, result, false
	}
	if result.RowCount < o.config.Guard.RowLimit || !limitClauseRe.MatchString(sql) {
		return sql, result, false
	}

	reply := o.config.AskQuestion(fmt.Sprintf(
		"The result was capped at %d rows but the question asks for all of them. Re-run without the cap? (y/n)",
		o.config.Guard.RowLimit))
	if !isAffirmative(reply) {
		return sql, result, false
	}

	uncapped := strings.TrimSpace(limitClauseRe.ReplaceAllString(sql, ""))
	full, err := o.runQuery(ctx, r, uncapped)
	if err != nil {
		r.rc.appendLog(fmt.Sprintf("uncapped re-run failed (%v); keeping the capped result", err))
		return sql, result, false
	}
	r.rc.appendLog(fmt.Sprintf("re-ran without row cap: %d rows", full.RowCount))
	return uncapped, full, true
}

// runQuery executes one guarded statement and emits the query event.
func (o *Orchestrator) runQuery(ctx context.Context, r *runner, sql string) (*SQLResult, error) {
	if o.config.Executor == nil {
		return nil, fmt.Errorf("no query executor configured")
	}
	result, err := o.config.Executor.Execute(ctx, sql)
	if err != nil {
		return nil, &ExecutionError{SQL: sql, Err: err}
	}
	o.emit(RunEvent{Type: EventQueryExecuted, RunID: r.rc.RunID, Mode: r.state.ActiveMode,
		Data: map[string]any{"sql": sql, "rows": result.RowCount}})
	return result, nil
}

func isAffirmative(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// appendCopy appends to a fresh slice so context history is never aliased.
func appendCopy[T any](xs []T, x T) []T {
	out := make([]T, len(xs), len(xs)+1)
	copy(out, xs)
	return append(out, x)
}

func countString(xs []string, s string) int {
	n := 0
	for _, x := range xs {
		if x == s {
			n++
		}
	}
	return n
}
