// ABOUTME: Run-loop tests driven entirely by in-memory fakes for the model functions and database.
// ABOUTME: Covers the happy path, guard ceilings, loop detection, clarification, cancellation, and validation blocks.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sifthq/sift/guard"
	"github.com/sifthq/sift/schema"
)

type fakePlanner struct {
	calls int
	fn    func(call int, req PlanRequest) (*Plan, error)
}

func (f *fakePlanner) GeneratePlan(_ context.Context, req PlanRequest) (*Plan, error) {
	f.calls++
	return f.fn(f.calls, req)
}

type fakeWriter struct {
	calls int
	fn    func(req SQLRequest) (string, error)
}

func (f *fakeWriter) WriteSQL(_ context.Context, req SQLRequest) (string, error) {
	f.calls++
	return f.fn(req)
}

type fakeInterpreter struct {
	calls int
	fn    func(call int, req InterpretRequest) (*Interpretation, error)
}

func (f *fakeInterpreter) Interpret(_ context.Context, req InterpretRequest) (*Interpretation, error) {
	f.calls++
	return f.fn(f.calls, req)
}

type fakeDecider struct {
	fn func(req DecisionRequest) (*Decision, error)
}

func (f *fakeDecider) Decide(_ context.Context, req DecisionRequest) (*Decision, error) {
	return f.fn(req)
}

type fakeExecutor struct {
	calls int
	fn    func(sql string) (*SQLResult, error)
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) (*SQLResult, error) {
	f.calls++
	return f.fn(sql)
}

type fakeMetadata struct {
	tables []schema.TableMetadata
}

func (f *fakeMetadata) AllTableMetadata(context.Context) ([]schema.TableMetadata, error) {
	return f.tables, nil
}

type fakeSemantics struct {
	detected []Semantic
	stored   []Semantic
}

func (f *fakeSemantics) Detect(context.Context, string) ([]Semantic, error) {
	return f.detected, nil
}

func (f *fakeSemantics) Store(_ context.Context, sem Semantic) (string, error) {
	f.stored = append(f.stored, sem)
	return "sem-1", nil
}

type fakeAnalyst struct {
	fn func(req AnalyzeRequest) ([]Discovery, error)
}

func (f *fakeAnalyst) AnalyzeSample(_ context.Context, req AnalyzeRequest) ([]Discovery, error) {
	return f.fn(req)
}

func testTables() []schema.TableMetadata {
	return []schema.TableMetadata{
		{
			TableName:         "customers",
			EstimatedRowCount: 5000,
			Columns:           []string{"id", "name", "created_at"},
			PrimaryKeyColumns: []string{"id"},
		},
		{
			TableName:         "orders",
			EstimatedRowCount: 80000,
			Columns:           []string{"id", "customer_id", "total", "status"},
			PrimaryKeyColumns: []string{"id"},
			ForeignKeys: []schema.ForeignKey{
				{FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
			},
		},
	}
}

func singleStepPlan(description string) *Plan {
	return &Plan{
		Status:      PlanReady,
		OverallGoal: description,
		Steps:       []Step{{StepNumber: 1, Description: description}},
	}
}

func okResult(rows int) *SQLResult {
	data := make([][]any, rows)
	for i := range data {
		data[i] = []any{i}
	}
	return &SQLResult{Columns: []string{"id"}, Rows: data, RowCount: rows, Duration: 5 * time.Millisecond}
}

func baseConfig(planner *fakePlanner, writer *fakeWriter, interp *fakeInterpreter, exec *fakeExecutor) Config {
	return Config{
		Guard:       guard.New(0),
		Metadata:    &fakeMetadata{tables: testTables()},
		Executor:    exec,
		Planner:     planner,
		Writer:      writer,
		Interpreter: interp,
	}
}

func TestRunSingleStepHappyPath(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("count customers"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) {
		return "SELECT id FROM customers", nil
	}}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "There are 3 customers."}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(3), nil }}

	var events []RunEventType
	cfg := baseConfig(planner, writer, interp, exec)
	cfg.OnEvent = func(evt RunEvent) { events = append(events, evt.Type) }

	out, err := New(cfg).Run(context.Background(), "how many customers are there?", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Answer != "There are 3 customers." {
		t.Errorf("Answer = %q, want interpretation summary", out.Answer)
	}
	if out.Logs.Queries != 1 || out.Logs.TotalRows != 3 {
		t.Errorf("Logs = %+v, want 1 query / 3 rows", out.Logs)
	}
	if got := out.SQLQueries[0]; !strings.Contains(got, "LIMIT 200") {
		t.Errorf("executed SQL = %q, want sanitized row cap", got)
	}

	sawStart, sawDone := false, false
	for _, evt := range events {
		switch evt {
		case EventRunStarted:
			sawStart = true
		case EventRunCompleted:
			sawDone = true
		}
	}
	if !sawStart || !sawDone {
		t.Errorf("events = %v, want run.started and run.completed", events)
	}
}

func TestRunQueryBudgetProducesBestAvailableAnswer(t *testing.T) {
	plan := &Plan{Status: PlanReady, Steps: []Step{
		{StepNumber: 1, Description: "first"},
		{StepNumber: 2, Description: "second"},
	}}
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) { return plan, nil }}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{NeedsNextStep: true}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(2), nil }}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.Limits = Limits{MaxQueries: 1}

	out, err := New(cfg).Run(context.Background(), "list things", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v, want controlled termination", err)
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want 1 (budget exhausted)", exec.calls)
	}
	if !strings.Contains(out.Answer, "2 row(s)") {
		t.Errorf("Answer = %q, want best-available summary of the last result", out.Answer)
	}
}

func TestRunIterationCeilingTerminates(t *testing.T) {
	steps := make([]Step, 40)
	for i := range steps {
		steps[i] = Step{StepNumber: i + 1, Description: "step"}
	}
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return &Plan{Status: PlanReady, Steps: steps}, nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{NeedsNextStep: true}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.Limits = Limits{MaxIterations: 6, MaxQueries: 100}

	out, err := New(cfg).Run(context.Background(), "walk every step", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v, want controlled termination", err)
	}
	if out.Answer == "" {
		t.Error("Answer is empty, want a best-available answer after the ceiling")
	}
	if exec.calls >= 40 {
		t.Errorf("executor calls = %d, ceiling did not stop the run", exec.calls)
	}
}

func TestRunLoopDetectionForcesAnswer(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("the same plan every time"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "partial reading", NeedsRefinement: true}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	sawLoop := false
	cfg := baseConfig(planner, writer, interp, exec)
	cfg.OnEvent = func(evt RunEvent) {
		if evt.Type == EventLoopDetected {
			sawLoop = true
		}
	}

	out, err := New(cfg).Run(context.Background(), "keep refining", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if planner.calls != 3 {
		t.Errorf("planner calls = %d, want 3 (third identical proposal breaks the loop)", planner.calls)
	}
	if !sawLoop {
		t.Error("loop.detected event was never emitted")
	}
	if out.Answer != "partial reading" {
		t.Errorf("Answer = %q, want the interpretation gathered before the loop", out.Answer)
	}
}

func TestRunClarificationRewritesQuestionOnce(t *testing.T) {
	var secondQuestion string
	planner := &fakePlanner{fn: func(call int, req PlanRequest) (*Plan, error) {
		if call == 1 {
			return &Plan{
				Status:                 PlanClarificationNeeded,
				ClarificationQuestions: []string{"Which time range?"},
			}, nil
		}
		secondQuestion = req.Question
		return singleStepPlan("count recent customers"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "done"}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.AskQuestion = func(prompt string) string {
		if !strings.Contains(prompt, "time range") {
			t.Errorf("clarification prompt = %q, want the plan's question", prompt)
		}
		return "last 30 days"
	}

	out, err := New(cfg).Run(context.Background(), "how many new customers?", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Answer != "done" {
		t.Errorf("Answer = %q", out.Answer)
	}
	if !strings.Contains(secondQuestion, "last 30 days") {
		t.Errorf("replanned question = %q, want the clarification folded in", secondQuestion)
	}
}

func TestRunClarificationBudgetFallsBackToBestEffortPlan(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return &Plan{
			Status:                 PlanClarificationNeeded,
			ClarificationQuestions: []string{"Which?"},
		}, nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "best effort"}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.Limits = Limits{MaxClarifications: 2}
	cfg.AskQuestion = func(string) string { return "no idea" }

	out, err := New(cfg).Run(context.Background(), "ambiguous", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Answer != "best effort" {
		t.Errorf("Answer = %q, want run to proceed past exhausted clarifications", out.Answer)
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want the best-effort step executed once", exec.calls)
	}
}

func TestRunPermissionDeniedCancels(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("count"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "never reached"}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.RequestPermission = func(req PermissionRequest) bool {
		if req.Validation == nil || !req.Validation.Valid {
			t.Error("permission request missing a passing validation result")
		}
		return false
	}

	out, err := New(cfg).Run(context.Background(), "count things", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Cancelled {
		t.Error("Cancelled = false, want true after denied permission")
	}
	if exec.calls != 0 {
		t.Errorf("executor calls = %d, want 0 after denial", exec.calls)
	}
}

func TestRunGuardRejectionIsFatal(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("remove data"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "DROP TABLE customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(0), nil }}

	_, err := New(baseConfig(planner, writer, interp, exec)).Run(context.Background(), "drop it", RunOptions{})

	var rejection *GuardRejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("Run() error = %v, want GuardRejectionError", err)
	}
	if exec.calls != 0 {
		t.Errorf("executor calls = %d, rejected SQL must never execute", exec.calls)
	}
}

func TestRunMetadataValidationBlocksExecution(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("query a phantom table"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) {
		return "SELECT id FROM invoices", nil
	}}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(0), nil }}

	_, err := New(baseConfig(planner, writer, interp, exec)).Run(context.Background(), "invoices?", RunOptions{})

	var blocked *MetadataValidationError
	if !errors.As(err, &blocked) {
		t.Fatalf("Run() error = %v, want MetadataValidationError", err)
	}
	if len(blocked.Issues) == 0 {
		t.Error("validation error carries no issues")
	}
	if exec.calls != 0 {
		t.Errorf("executor calls = %d, unvalidated SQL must never execute", exec.calls)
	}
}

func TestRunDeciderProposalsValidatedAgainstWhitelist(t *testing.T) {
	planner := &fakePlanner{fn: func(call int, _ PlanRequest) (*Plan, error) {
		return singleStepPlan("same goal"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "reading"}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	// Always propose PLAN: illegal from PLAN and EXECUTE (fallback applies),
	// legal from INTERPRET (refinement counting applies).
	decider := &fakeDecider{fn: func(req DecisionRequest) (*Decision, error) {
		return &Decision{NextMode: ModeQuery, NextSubState: QueryPlan}, nil
	}}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.Decider = decider
	cfg.Limits = Limits{MaxRefinements: 2}

	out, err := New(cfg).Run(context.Background(), "push replanning", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Initial plan plus two replans; the third identical signature or the
	// refinement bound (whichever fires first) redirects the run to ANSWER.
	if planner.calls != 3 {
		t.Errorf("planner calls = %d, want 1 initial + 2 replans", planner.calls)
	}
	if out.Answer != "reading" {
		t.Errorf("Answer = %q", out.Answer)
	}
}

func TestRunContextCancellationStopsTheLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		cancel()
		return singleStepPlan("count"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(1), nil }}

	out, err := New(baseConfig(planner, writer, interp, exec)).Run(ctx, "count", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.calls != 0 {
		t.Errorf("executor calls = %d, want 0 after cancellation", exec.calls)
	}
	if out.Answer == "" {
		t.Error("Answer is empty, want the no-results fallback text")
	}
}

func TestRunToolPanicBecomesError(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		panic("planner exploded")
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(0), nil }}

	_, err := New(baseConfig(planner, writer, interp, exec)).Run(context.Background(), "boom", RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "planner exploded") {
		t.Fatalf("Run() error = %v, want recovered panic", err)
	}
}

func TestRunSemanticStoringModeIsReserved(t *testing.T) {
	o := New(Config{Guard: guard.New(0)})
	r := &runner{o: o, rc: NewRunContext("q")}

	_, err := o.dispatch(context.Background(), StatePair{Mode: ModeSemanticStoring, SubState: "ANYTHING"}, r)
	if !errors.Is(err, ErrSemanticStoringNotImplemented) {
		t.Fatalf("dispatch error = %v, want ErrSemanticStoringNotImplemented", err)
	}
}

func TestRunDiscoveryStoresApprovedSemantic(t *testing.T) {
	analyst := &fakeAnalyst{fn: func(req AnalyzeRequest) ([]Discovery, error) {
		if req.TableName != "orders" {
			t.Errorf("analyst table = %q, want orders", req.TableName)
		}
		return []Discovery{
			{
				Pattern:           "status 'paid' marks a completed order",
				Confidence:        0.9,
				SuggestedSemantic: "completed order",
				ValidationQuery:   "SELECT id FROM orders WHERE status = 'paid'",
				TableName:         "orders",
				ColumnName:        "status",
			},
			{
				Pattern:           "weak hunch",
				Confidence:        0.2,
				SuggestedSemantic: "something",
				ValidationQuery:   "SELECT id FROM orders WHERE total > 0",
			},
		}, nil
	}}
	exec := &fakeExecutor{fn: func(sql string) (*SQLResult, error) { return okResult(5), nil }}
	semantics := &fakeSemantics{}

	cfg := Config{
		Guard:       guard.New(0),
		Metadata:    &fakeMetadata{tables: testTables()},
		Executor:    exec,
		Analyst:     analyst,
		Semantics:   semantics,
		AskQuestion: func(string) string { return "y" },
	}

	out, err := New(cfg).Run(context.Background(), "explore orders", RunOptions{Discovery: true, TargetTable: "orders"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(semantics.stored) != 1 {
		t.Fatalf("stored semantics = %d, want 1", len(semantics.stored))
	}
	if got := semantics.stored[0].Term; got != "completed order" {
		t.Errorf("stored term = %q, want the highest-confidence discovery", got)
	}
	// Sample query plus two validation queries.
	if out.Logs.Queries != 3 {
		t.Errorf("Logs.Queries = %d, want 3", out.Logs.Queries)
	}
}

func TestRunDiscoveryRejectedSemanticIsNotStored(t *testing.T) {
	analyst := &fakeAnalyst{fn: func(AnalyzeRequest) ([]Discovery, error) {
		return []Discovery{{
			Pattern:           "pattern",
			Confidence:        0.8,
			SuggestedSemantic: "term",
			ValidationQuery:   "SELECT id FROM orders WHERE status = 'paid'",
		}}, nil
	}}
	exec := &fakeExecutor{fn: func(string) (*SQLResult, error) { return okResult(5), nil }}
	semantics := &fakeSemantics{}

	cfg := Config{
		Guard:       guard.New(0),
		Metadata:    &fakeMetadata{tables: testTables()},
		Executor:    exec,
		Analyst:     analyst,
		Semantics:   semantics,
		AskQuestion: func(string) string { return "n" },
	}

	_, err := New(cfg).Run(context.Background(), "explore", RunOptions{Discovery: true, TargetTable: "orders"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(semantics.stored) != 0 {
		t.Errorf("stored semantics = %d, want 0 after rejection", len(semantics.stored))
	}
}

func TestRunDiscoveryDropsUnsupportedPatterns(t *testing.T) {
	analyst := &fakeAnalyst{fn: func(AnalyzeRequest) ([]Discovery, error) {
		return []Discovery{{
			Pattern:           "unsupported",
			Confidence:        0.9,
			SuggestedSemantic: "term",
			ValidationQuery:   "SELECT id FROM orders WHERE status = 'void'",
		}}, nil
	}}
	exec := &fakeExecutor{fn: func(sql string) (*SQLResult, error) {
		if strings.Contains(sql, "void") {
			return okResult(0), nil
		}
		return okResult(5), nil
	}}
	semantics := &fakeSemantics{}

	cfg := Config{
		Guard:       guard.New(0),
		Metadata:    &fakeMetadata{tables: testTables()},
		Executor:    exec,
		Analyst:     analyst,
		Semantics:   semantics,
		AskQuestion: func(string) string { return "y" },
	}

	_, err := New(cfg).Run(context.Background(), "explore", RunOptions{Discovery: true, TargetTable: "orders"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(semantics.stored) != 0 {
		t.Errorf("stored semantics = %d, want 0 when no pattern survives validation", len(semantics.stored))
	}
}

func TestRunDiscoveryValidationErrorDropsOnlyThatCandidate(t *testing.T) {
	analyst := &fakeAnalyst{fn: func(AnalyzeRequest) ([]Discovery, error) {
		return []Discovery{
			{
				Pattern:           "status 'void' marks abandoned orders",
				Confidence:        0.9,
				SuggestedSemantic: "abandoned order",
				ValidationQuery:   "SELECT id FROM orders WHERE status = 'void' AND missing_col = 1",
			},
			{
				Pattern:           "status 'paid' marks completed orders",
				Confidence:        0.8,
				SuggestedSemantic: "completed order",
				ValidationQuery:   "SELECT id FROM orders WHERE status = 'paid'",
			},
		}, nil
	}}
	exec := &fakeExecutor{fn: func(sql string) (*SQLResult, error) {
		if strings.Contains(sql, "missing_col") {
			return nil, errors.New(`column "missing_col" does not exist`)
		}
		return okResult(5), nil
	}}
	semantics := &fakeSemantics{}

	cfg := Config{
		Guard:       guard.New(0),
		Metadata:    &fakeMetadata{tables: testTables()},
		Executor:    exec,
		Analyst:     analyst,
		Semantics:   semantics,
		AskQuestion: func(string) string { return "y" },
	}

	_, err := New(cfg).Run(context.Background(), "explore", RunOptions{Discovery: true, TargetTable: "orders"})
	if err != nil {
		t.Fatalf("Run() error = %v, want a failed validation query to drop just its candidate", err)
	}
	if len(semantics.stored) != 1 {
		t.Fatalf("stored semantics = %d, want the surviving candidate only", len(semantics.stored))
	}
	if semantics.stored[0].Term != "completed order" {
		t.Errorf("stored term = %q", semantics.stored[0].Term)
	}
}

func TestRunAllRowsOverrideRefetchesWithoutCap(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("list every customer"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "all of them"}, nil
	}}

	var executed []string
	exec := &fakeExecutor{fn: func(sql string) (*SQLResult, error) {
		executed = append(executed, sql)
		if strings.Contains(sql, "LIMIT") {
			return okResult(200), nil
		}
		return okResult(450), nil
	}}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.AskQuestion = func(prompt string) string {
		if !strings.Contains(prompt, "200") {
			t.Errorf("override prompt = %q, want it to name the row cap", prompt)
		}
		return "y"
	}

	out, err := New(cfg).Run(context.Background(), "show all customers", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(executed) != 2 {
		t.Fatalf("executed %d statements, want capped then uncapped", len(executed))
	}
	if strings.Contains(executed[1], "LIMIT") {
		t.Errorf("second statement = %q, want the cap stripped", executed[1])
	}
	if out.Logs.TotalRows != 450 {
		t.Errorf("TotalRows = %d, want the uncapped count recorded", out.Logs.TotalRows)
	}
}

func TestRunAllRowsOverrideGoesStraightToInterpret(t *testing.T) {
	planner := &fakePlanner{fn: func(int, PlanRequest) (*Plan, error) {
		return singleStepPlan("list every customer"), nil
	}}
	writer := &fakeWriter{fn: func(SQLRequest) (string, error) { return "SELECT id FROM customers", nil }}
	interp := &fakeInterpreter{fn: func(int, InterpretRequest) (*Interpretation, error) {
		return &Interpretation{Summary: "Every customer is listed."}, nil
	}}
	exec := &fakeExecutor{fn: func(sql string) (*SQLResult, error) {
		if strings.Contains(sql, "LIMIT") {
			return okResult(200), nil
		}
		return okResult(450), nil
	}}

	// The decider would end the mode right after execution; the uncapped
	// re-run must reach the interpreter without ever consulting it.
	var deciderSaw []StatePair
	decider := &fakeDecider{fn: func(req DecisionRequest) (*Decision, error) {
		deciderSaw = append(deciderSaw, req.Current)
		switch req.Current.SubState {
		case QueryPlan:
			return &Decision{NextMode: ModeQuery, NextSubState: QueryExecute}, nil
		case QueryExecute:
			return &Decision{NextMode: ModeQuery, NextSubState: SubStateNone}, nil
		default:
			return &Decision{NextMode: ModeQuery, NextSubState: QueryAnswer}, nil
		}
	}}

	cfg := baseConfig(planner, writer, interp, exec)
	cfg.Decider = decider
	cfg.AskQuestion = func(string) string { return "y" }

	out, err := New(cfg).Run(context.Background(), "show all customers", RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if interp.calls != 1 {
		t.Fatalf("interpreter calls = %d, want the uncapped result interpreted", interp.calls)
	}
	if out.Answer != "Every customer is listed." {
		t.Errorf("Answer = %q", out.Answer)
	}
	if out.Logs.TotalRows != 450 {
		t.Errorf("TotalRows = %d, want the uncapped count", out.Logs.TotalRows)
	}
	for _, pair := range deciderSaw {
		if pair.SubState == QueryExecute {
			t.Errorf("decision function consulted after the overridden execution")
		}
	}
}

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	if limits.MaxIterations != 50 || limits.MaxDuration != 60*time.Second ||
		limits.MaxQueries != 20 || limits.MaxRefinements != 3 || limits.MaxClarifications != 3 {
		t.Errorf("DefaultLimits() = %+v", limits)
	}
}
