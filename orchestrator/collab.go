// ABOUTME: Contracts for the external collaborators the orchestrator calls: model functions, database, semantics.
// ABOUTME: Everything here is an interface so runs can be driven by fakes in tests and llm-backed agents in production.
package orchestrator

import (
	"context"

	"github.com/sifthq/sift/schema"
)

// PlanRequest is the structured context handed to the planning function.
type PlanRequest struct {
	Question       string
	Tables         []schema.TableMetadata
	Semantics      []Semantic
	PriorSteps     []Step
	PriorAnswer    string
	RefinementHint string
}

// Planner produces a plan (or a clarification request) for a question.
type Planner interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// SQLRequest is the structured context handed to the SQL-writing function.
type SQLRequest struct {
	Question  string
	Step      Step
	Tables    []schema.TableMetadata
	Semantics []Semantic
	Previous  []StepResult
}

// SQLWriter drafts a single SELECT statement for one plan step.
type SQLWriter interface {
	WriteSQL(ctx context.Context, req SQLRequest) (string, error)
}

// InterpretRequest carries everything the interpretation function may use.
type InterpretRequest struct {
	Question string
	Plan     *Plan
	Steps    []Step
	Results  []StepResult
}

// Interpretation is the model's reading of the results so far.
type Interpretation struct {
	Summary         string
	NeedsRefinement bool
	NeedsNextStep   bool
	RefinementHint  string
}

// Interpreter turns result sets into a narrative interpretation and a
// self-reported need (refine, continue, or answer).
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) (*Interpretation, error)
}

// DecisionRequest summarizes run state for the external decision function.
type DecisionRequest struct {
	Current    StatePair
	Question   string
	AgentNeeds map[string]string
	Iteration  int
}

// Decider chooses the next (mode, sub-state) pair each iteration.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}

// AnalyzeRequest hands sampled rows to the discovery analysis function.
type AnalyzeRequest struct {
	TableName string
	Columns   []string
	Rows      [][]any
}

// DiscoveryAnalyst finds candidate data patterns in sampled rows.
type DiscoveryAnalyst interface {
	AnalyzeSample(ctx context.Context, req AnalyzeRequest) ([]Discovery, error)
}

// QueryExecutor runs one read-only statement against the database.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) (*SQLResult, error)
}

// MetadataStore supplies catalog metadata for validation and planning.
type MetadataStore interface {
	AllTableMetadata(ctx context.Context) ([]schema.TableMetadata, error)
}

// SemanticStore detects stored semantics relevant to a question and persists
// newly approved ones.
type SemanticStore interface {
	Detect(ctx context.Context, question string) ([]Semantic, error)
	Store(ctx context.Context, sem Semantic) (string, error)
}

// PermissionFunc asks the host whether a statement may execute.
type PermissionFunc func(req PermissionRequest) bool

// PermissionRequest describes the statement awaiting approval.
type PermissionRequest struct {
	SQL            string
	StepNumber     int
	TotalSteps     int
	HasSemantics   bool
	ConfidenceTier schema.Tier
	Validation     *schema.ValidationResult
}

// QuestionFunc asks the host a free-form question and returns the reply.
type QuestionFunc func(prompt string) string
