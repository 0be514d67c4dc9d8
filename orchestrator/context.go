// ABOUTME: RunContext and the value types threaded through one question-answering run.
// ABOUTME: Context is updated only through Apply, which replaces slice fields wholesale per tool contract.
package orchestrator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifthq/sift/schema"
)

// PlanStatus marks whether a plan is executable or blocked on clarification.
type PlanStatus string

const (
	PlanReady               PlanStatus = "READY"
	PlanClarificationNeeded PlanStatus = "CLARIFICATION_NEEDED"
)

// Step is one unit of a plan. SQLQuery is set once generated; a step is
// immutable after execution.
type Step struct {
	StepNumber  int
	Description string
	Reasoning   string
	SQLQuery    string
	Validation  *schema.ValidationResult
}

// Plan is the model's ordered breakdown of the question. Steps is empty when
// Status is CLARIFICATION_NEEDED.
type Plan struct {
	Status                 PlanStatus
	OverallGoal            string
	Steps                  []Step
	ClarificationQuestions []string
	ClarificationContext   string
}

// Signature is the loop-detection key: the ordered join of step descriptions.
func (p *Plan) Signature() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = s.Description
	}
	return strings.Join(parts, "|")
}

// SQLResult is one query's result set. Produced once, never mutated.
type SQLResult struct {
	Columns  []string
	Rows     [][]any
	RowCount int
	Duration time.Duration
}

// StepResult pairs a result set with the step that produced it.
type StepResult struct {
	StepNumber int
	Result     *SQLResult
}

// Discovery is a data pattern found while sampling a table in DISCOVERY mode.
type Discovery struct {
	Pattern           string
	Confidence        float64
	SuggestedSemantic string
	ValidationQuery   string
	TableName         string
	ColumnName        string
	Evidence          []string
}

// Decision is the external decision function's proposed next transition.
type Decision struct {
	NextMode     Mode
	NextSubState SubState
	Reasoning    string
	Confidence   float64
}

// Semantic maps a business term to a concrete SQL fragment.
type Semantic struct {
	ID          string
	Term        string
	Definition  string
	SQLFragment string
}

// RunContext is the per-run working state. It is owned by exactly one run,
// never shared, and updated only through Apply.
type RunContext struct {
	RunID    string
	Question string

	Plan            *Plan
	ExecutedSteps   []Step
	PreviousResults []StepResult
	Discoveries     []Discovery

	// Parallel append-only sequences, one entry per executed query.
	SQLQueries   []string
	RowsReturned []int
	Durations    []time.Duration

	IterationCount      int
	RefinementCount     int
	ClarificationRounds int
	QuestionRewritten   bool
	CurrentStepIndex    int

	PreviousPlans   []string
	AgentNeeds      map[string]string
	DecisionHistory []Decision

	DetectedSemantics []Semantic
	Suggestion        *Semantic
	Interpretation    string
	RefinementHint    string
	TargetTable       string

	StartTime time.Time
	Logs      []string
}

// NewRunContext builds the initial context for a question. Every slice field
// defaults to empty so no caller ever needs to nil-check.
func NewRunContext(question string) RunContext {
	return RunContext{
		RunID:             uuid.NewString(),
		Question:          question,
		ExecutedSteps:     []Step{},
		PreviousResults:   []StepResult{},
		Discoveries:       []Discovery{},
		SQLQueries:        []string{},
		RowsReturned:      []int{},
		Durations:         []time.Duration{},
		PreviousPlans:     []string{},
		AgentNeeds:        map[string]string{},
		DecisionHistory:   []Decision{},
		DetectedSemantics: []Semantic{},
		Logs:              []string{},
		StartTime:         time.Now(),
	}
}

// ContextUpdates carries the fields a tool wants changed. Nil pointer fields
// and nil slices are left untouched; non-nil slices replace the context's
// slice wholesale — the tool produces the full next sequence.
type ContextUpdates struct {
	Question            *string
	Plan                *Plan
	ExecutedSteps       []Step
	PreviousResults     []StepResult
	Discoveries         []Discovery
	SQLQueries          []string
	RowsReturned        []int
	Durations           []time.Duration
	RefinementCount     *int
	ClarificationRounds *int
	QuestionRewritten   *bool
	CurrentStepIndex    *int
	PreviousPlans       []string
	DetectedSemantics   []Semantic
	Suggestion          *Semantic
	Interpretation      *string
	RefinementHint      *string
	TargetTable         *string
}

// Apply merges updates into a copy of the context and returns the new value.
func (rc RunContext) Apply(u ContextUpdates) RunContext {
	next := rc

	if u.Question != nil {
		next.Question = *u.Question
	}
	if u.Plan != nil {
		next.Plan = u.Plan
	}
	if u.ExecutedSteps != nil {
		next.ExecutedSteps = u.ExecutedSteps
	}
	if u.PreviousResults != nil {
		next.PreviousResults = u.PreviousResults
	}
	if u.Discoveries != nil {
		next.Discoveries = u.Discoveries
	}
	if u.SQLQueries != nil {
		next.SQLQueries = u.SQLQueries
	}
	if u.RowsReturned != nil {
		next.RowsReturned = u.RowsReturned
	}
	if u.Durations != nil {
		next.Durations = u.Durations
	}
	if u.RefinementCount != nil {
		next.RefinementCount = *u.RefinementCount
	}
	if u.ClarificationRounds != nil {
		next.ClarificationRounds = *u.ClarificationRounds
	}
	if u.QuestionRewritten != nil {
		next.QuestionRewritten = *u.QuestionRewritten
	}
	if u.CurrentStepIndex != nil {
		next.CurrentStepIndex = *u.CurrentStepIndex
	}
	if u.PreviousPlans != nil {
		next.PreviousPlans = u.PreviousPlans
	}
	if u.DetectedSemantics != nil {
		next.DetectedSemantics = u.DetectedSemantics
	}
	if u.Suggestion != nil {
		next.Suggestion = u.Suggestion
	}
	if u.Interpretation != nil {
		next.Interpretation = *u.Interpretation
	}
	if u.RefinementHint != nil {
		next.RefinementHint = *u.RefinementHint
	}
	if u.TargetTable != nil {
		next.TargetTable = *u.TargetTable
	}

	return next
}

// appendLog records a run-log line on the context copy held by the engine.
func (rc *RunContext) appendLog(line string) {
	rc.Logs = append(rc.Logs, line)
}

// LastResult returns the most recent result set, or nil if none exists.
func (rc *RunContext) LastResult() *SQLResult {
	if len(rc.PreviousResults) == 0 {
		return nil
	}
	return rc.PreviousResults[len(rc.PreviousResults)-1].Result
}
