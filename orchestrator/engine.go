// ABOUTME: The mode/sub-state run loop driving planning, SQL generation, execution, and interpretation.
// ABOUTME: Enforces iteration/time/query guards, validates external decisions against the whitelist, and detects plan loops.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sifthq/sift/guard"
	"github.com/sifthq/sift/schema"
)

// Limits are the hard resource guards checked every iteration. Tripping one
// is not an error: the run is forced to its best-available answer.
type Limits struct {
	MaxIterations     int
	MaxDuration       time.Duration
	MaxQueries        int
	MaxRefinements    int
	MaxClarifications int
}

// DefaultLimits returns the standard safety ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:     50,
		MaxDuration:       60 * time.Second,
		MaxQueries:        20,
		MaxRefinements:    3,
		MaxClarifications: 3,
	}
}

// Config wires the orchestrator's collaborators. Guard, Metadata, Executor,
// Planner, Writer, Interpreter, and Decider are required for QUERY mode;
// Analyst and Semantics additionally for DISCOVERY mode.
type Config struct {
	Guard       *guard.Guard
	Metadata    MetadataStore
	Executor    QueryExecutor
	Planner     Planner
	Writer      SQLWriter
	Interpreter Interpreter
	Decider     Decider
	Analyst     DiscoveryAnalyst
	Semantics   SemanticStore

	RequestPermission PermissionFunc
	AskQuestion       QuestionFunc
	OnEvent           func(RunEvent)

	Limits Limits
}

// Orchestrator drives exactly one question-answering run at a time.
type Orchestrator struct {
	config Config
}

// New creates an orchestrator. Zero-valued limits are replaced with defaults.
func New(config Config) *Orchestrator {
	def := DefaultLimits()
	if config.Limits.MaxIterations <= 0 {
		config.Limits.MaxIterations = def.MaxIterations
	}
	if config.Limits.MaxDuration <= 0 {
		config.Limits.MaxDuration = def.MaxDuration
	}
	if config.Limits.MaxQueries <= 0 {
		config.Limits.MaxQueries = def.MaxQueries
	}
	if config.Limits.MaxRefinements <= 0 {
		config.Limits.MaxRefinements = def.MaxRefinements
	}
	if config.Limits.MaxClarifications <= 0 {
		config.Limits.MaxClarifications = def.MaxClarifications
	}
	if config.Guard == nil {
		config.Guard = guard.New(0)
	}
	return &Orchestrator{config: config}
}

// RunOptions selects the starting mode for a run.
type RunOptions struct {
	// Discovery starts the run in DISCOVERY mode against TargetTable
	// instead of QUERY mode.
	Discovery   bool
	TargetTable string

	// History carries prior conversational turns for planner context.
	History []string
}

// RunLogs summarizes a completed run.
type RunLogs struct {
	Steps         int
	Queries       int
	TotalRows     int
	TotalDuration time.Duration
	Lines         []string
}

// RunOutput is the final product of a run.
type RunOutput struct {
	Answer     string
	Logs       RunLogs
	Cancelled  bool
	SQLQueries []string
}

// ToolResult is what one dispatched tool hands back to the loop. Slice
// fields inside Updates replace the context's slices wholesale.
type ToolResult struct {
	Updates ContextUpdates

	// Needs is the tool's self-report fed to the decision function.
	Needs string

	// ForcedNext bypasses the decision function for this one transition.
	ForcedNext *StatePair

	// Cancelled stops the run immediately, discarding any partial answer.
	Cancelled bool
}

// runner is the per-run working set: one context value, one machine state,
// and the catalog snapshot fetched at run start.
type runner struct {
	o      *Orchestrator
	rc     RunContext
	state  MachineState
	tables []schema.TableMetadata
}

// Run answers one question. It owns its RunContext exclusively and never
// processes two tool calls concurrently.
func (o *Orchestrator) Run(ctx context.Context, question string, opts RunOptions) (*RunOutput, error) {
	r := &runner{o: o, rc: NewRunContext(question)}

	if opts.Discovery {
		r.state.DiscoveryState = DiscoveryGetData
		r.rc.TargetTable = opts.TargetTable
	} else {
		r.state.QueryState = QueryPlan
	}

	if o.config.Metadata != nil {
		tables, err := o.config.Metadata.AllTableMetadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading table metadata: %w", err)
		}
		r.tables = tables
	}

	if o.config.Semantics != nil {
		if sems, err := o.config.Semantics.Detect(ctx, question); err == nil && len(sems) > 0 {
			r.rc.DetectedSemantics = sems
			r.rc.appendLog(fmt.Sprintf("detected %d stored semantic(s) for this question", len(sems)))
		}
	}

	o.emit(RunEvent{Type: EventRunStarted, RunID: r.rc.RunID})

	answer, cancelled, err := o.loop(ctx, r)
	if err != nil {
		o.emit(RunEvent{Type: EventRunFailed, RunID: r.rc.RunID, Data: map[string]any{"error": err.Error()}})
		return nil, err
	}

	if cancelled {
		o.emit(RunEvent{Type: EventRunCancelled, RunID: r.rc.RunID})
		return &RunOutput{Cancelled: true}, nil
	}

	out := &RunOutput{
		Answer:     answer,
		SQLQueries: r.rc.SQLQueries,
		Logs: RunLogs{
			Steps:         len(r.rc.ExecutedSteps),
			Queries:       len(r.rc.SQLQueries),
			TotalRows:     sumInts(r.rc.RowsReturned),
			TotalDuration: sumDurations(r.rc.Durations),
			Lines:         r.rc.Logs,
		},
	}
	o.emit(RunEvent{Type: EventRunCompleted, RunID: r.rc.RunID, Data: map[string]any{"queries": len(r.rc.SQLQueries)}})
	return out, nil
}

// loop is the per-iteration algorithm. It returns the synthesized answer,
// whether the run was cancelled, and any fatal error.
func (o *Orchestrator) loop(ctx context.Context, r *runner) (string, bool, error) {
	var answer string

	for {
		if ctx.Err() != nil {
			return o.synthesizeAnswer(r), false, nil
		}

		r.rc.IterationCount++

		guardTripped, guardReason := o.guardsExceeded(&r.rc)

		if r.state.ActiveMode == ModeNone {
			r.state.ActiveMode = r.state.nextActiveMode()
			if r.state.ActiveMode == ModeNone {
				return answer, false, nil
			}
		}

		mode := r.state.ActiveMode
		sub := r.state.SubStateOf(mode)
		if sub == SubStateNone {
			r.state.ActiveMode = ModeNone
			continue
		}

		if guardTripped {
			o.emit(RunEvent{Type: EventGuardTripped, RunID: r.rc.RunID, Mode: mode, SubState: sub,
				Data: map[string]any{"reason": guardReason}})
			r.rc.appendLog("guard limit reached: " + guardReason)
			if mode == ModeQuery {
				answer = o.synthesizeAnswer(r)
			}
			r.state.SetSubState(mode, SubStateNone)
			r.state.ActiveMode = ModeNone
			continue
		}

		pair := StatePair{Mode: mode, SubState: sub}
		o.emit(RunEvent{Type: EventStateEntered, RunID: r.rc.RunID, Mode: mode, SubState: sub})

		res, err := o.dispatch(ctx, pair, r)
		if err != nil {
			return "", false, err
		}

		r.rc = r.rc.Apply(res.Updates)
		if res.Needs != "" {
			r.rc.AgentNeeds[string(sub)] = res.Needs
		}
		o.emit(RunEvent{Type: EventToolCompleted, RunID: r.rc.RunID, Mode: mode, SubState: sub,
			Data: map[string]any{"needs": res.Needs}})

		if res.Cancelled {
			return "", true, nil
		}

		var next StatePair
		if res.ForcedNext != nil {
			next = *res.ForcedNext
		} else {
			next = o.decideNext(ctx, pair, r)
		}

		next = o.boundRefinement(pair, next, r)

		r.state.SetSubState(next.Mode, next.SubState)
		if next.SubState == SubStateNone {
			if next.Mode == mode {
				r.state.ActiveMode = ModeNone
			}
		} else {
			r.state.ActiveMode = next.Mode
		}

		if r.state.QueryState == QueryAnswer {
			answer = o.synthesizeAnswer(r)
			r.state.QueryState = SubStateNone
			if r.state.ActiveMode == ModeQuery {
				r.state.ActiveMode = ModeNone
			}
		}
	}
}

// guardsExceeded checks the three hard limits, independent of any mode.
func (o *Orchestrator) guardsExceeded(rc *RunContext) (bool, string) {
	limits := o.config.Limits
	switch {
	case rc.IterationCount >= limits.MaxIterations:
		return true, fmt.Sprintf("iteration ceiling (%d) reached", limits.MaxIterations)
	case time.Since(rc.StartTime) >= limits.MaxDuration:
		return true, fmt.Sprintf("run exceeded %s wall clock", limits.MaxDuration)
	case len(rc.SQLQueries) >= limits.MaxQueries:
		return true, fmt.Sprintf("query budget (%d) exhausted", limits.MaxQueries)
	default:
		return false, ""
	}
}

// dispatch routes one (mode, sub-state) pair to its tool with panic recovery,
// so a misbehaving tool cannot crash the host.
func (o *Orchestrator) dispatch(ctx context.Context, pair StatePair, r *runner) (res *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("tool panic in %s/%s: %v\n%s", pair.Mode, pair.SubState, rec, debug.Stack())
		}
	}()

	switch pair.Mode {
	case ModeQuery:
		switch pair.SubState {
		case QueryPlan:
			return o.toolPlan(ctx, r)
		case QueryClarify:
			return o.toolClarify(ctx, r)
		case QueryExecute:
			return o.toolExecute(ctx, r)
		case QueryInterpret:
			return o.toolInterpret(ctx, r)
		case QueryAnswer:
			// ANSWER is synthesized by the loop itself; reaching the
			// dispatcher here just terminates the mode.
			return &ToolResult{ForcedNext: &StatePair{Mode: ModeQuery, SubState: SubStateNone}}, nil
		}
	case ModeDiscovery:
		switch pair.SubState {
		case DiscoveryGetData:
			return o.toolGetData(ctx, r)
		case DiscoveryAnalyze:
			return o.toolAnalyze(ctx, r)
		case DiscoveryValidate:
			return o.toolValidateDiscoveries(ctx, r)
		case DiscoverySuggest:
			return o.toolSuggest(ctx, r)
		case DiscoveryApprove:
			return o.toolApprove(ctx, r)
		case DiscoveryStore:
			return o.toolStore(ctx, r)
		}
	case ModeSemanticStoring:
		return nil, ErrSemanticStoringNotImplemented
	}

	return nil, fmt.Errorf("no tool for %s/%s", pair.Mode, pair.SubState)
}

// decideNext asks the external decision function for the next pair and
// validates it against the whitelist, falling back to the deterministic
// default when the proposal is invalid or the decider fails.
func (o *Orchestrator) decideNext(ctx context.Context, current StatePair, r *runner) StatePair {
	fallback := o.fallbackFor(current, &r.rc)
	if o.config.Decider == nil {
		return fallback
	}

	decision, err := o.config.Decider.Decide(ctx, DecisionRequest{
		Current:    current,
		Question:   r.rc.Question,
		AgentNeeds: r.rc.AgentNeeds,
		Iteration:  r.rc.IterationCount,
	})
	if err != nil {
		r.rc.appendLog(fmt.Sprintf("decision function failed (%v); using default transition", err))
		return fallback
	}

	r.rc.DecisionHistory = append(r.rc.DecisionHistory, *decision)

	proposed := StatePair{Mode: decision.NextMode, SubState: decision.NextSubState}
	if !validPair(proposed) {
		r.rc.appendLog(fmt.Sprintf("decision proposed unknown state %s/%s; using default", proposed.Mode, proposed.SubState))
		return fallback
	}

	if proposed.Mode == current.Mode {
		if !transitionAllowed(current, proposed.SubState) {
			r.rc.appendLog(fmt.Sprintf("decision proposed disallowed transition %s -> %s; using default", current.SubState, proposed.SubState))
			return fallback
		}
		return proposed
	}

	// Cross-mode switches may only reactivate a mode with pending work; a
	// terminated mode (null sub-state) is never re-entered.
	if r.state.SubStateOf(proposed.Mode) == SubStateNone && proposed.SubState != SubStateNone {
		r.rc.appendLog(fmt.Sprintf("decision proposed re-entering terminated mode %s; using default", proposed.Mode))
		return fallback
	}
	return proposed
}

// fallbackFor computes the deterministic next pair. After interpretation the
// tool's self-reported need steers the fallback; everywhere else the static
// default applies.
func (o *Orchestrator) fallbackFor(current StatePair, rc *RunContext) StatePair {
	if current.Mode == ModeQuery && current.SubState == QueryInterpret {
		switch rc.AgentNeeds[string(QueryInterpret)] {
		case "refine_plan":
			return StatePair{Mode: ModeQuery, SubState: QueryPlan}
		case "execute_next_step":
			return StatePair{Mode: ModeQuery, SubState: QueryExecute}
		}
	}
	return StatePair{Mode: current.Mode, SubState: defaultNext[current]}
}

// boundRefinement applies refinement counting when interpretation sends the
// run back to planning. The plan-signature loop check itself lives in the
// planning tool, where the fresh plan is visible.
func (o *Orchestrator) boundRefinement(current, next StatePair, r *runner) StatePair {
	if current.Mode != ModeQuery || current.SubState != QueryInterpret {
		return next
	}
	if next.Mode != ModeQuery || next.SubState != QueryPlan {
		return next
	}

	if r.rc.RefinementCount >= o.config.Limits.MaxRefinements {
		r.rc.appendLog(fmt.Sprintf("refinement limit (%d) reached; answering with existing results", o.config.Limits.MaxRefinements))
		return StatePair{Mode: ModeQuery, SubState: QueryAnswer}
	}
	r.rc.RefinementCount++
	return next
}

// synthesizeAnswer produces the best-available answer from whatever the run
// has gathered: the latest interpretation, else a summary of the last result.
func (o *Orchestrator) synthesizeAnswer(r *runner) string {
	if r.rc.Interpretation != "" {
		return r.rc.Interpretation
	}
	if last := r.rc.LastResult(); last != nil {
		return fmt.Sprintf("The query returned %d row(s) across %d column(s), but no interpretation was produced.",
			last.RowCount, len(last.Columns))
	}
	return "No results were produced before the run ended."
}

func (o *Orchestrator) emit(evt RunEvent) {
	if o.config.OnEvent == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	o.config.OnEvent(evt)
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func sumDurations(xs []time.Duration) time.Duration {
	var total time.Duration
	for _, x := range xs {
		total += x
	}
	return total
}
