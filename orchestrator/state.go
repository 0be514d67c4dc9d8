// ABOUTME: Mode and sub-state definitions for the question-answering state machine.
// ABOUTME: Encodes the fixed transition whitelist and the per-mode sub-state validity sets.
package orchestrator

// Mode is the top-level coordinate of the state machine.
type Mode string

const (
	ModeQuery           Mode = "QUERY"
	ModeDiscovery       Mode = "DISCOVERY"
	ModeSemanticStoring Mode = "SEMANTIC_STORING"

	// ModeNone means no mode is active.
	ModeNone Mode = ""
)

// modePriority orders mode activation when no mode is active.
var modePriority = []Mode{ModeQuery, ModeDiscovery, ModeSemanticStoring}

// SubState is the second coordinate. SubStateNone marks a terminated mode:
// once a mode's sub-state is null it must not be re-entered within the run.
type SubState string

const (
	SubStateNone SubState = ""

	// QUERY mode.
	QueryPlan      SubState = "PLAN"
	QueryClarify   SubState = "CLARIFY"
	QueryExecute   SubState = "EXECUTE"
	QueryInterpret SubState = "INTERPRET"
	QueryAnswer    SubState = "ANSWER"

	// DISCOVERY mode.
	DiscoveryGetData  SubState = "GET_DATA"
	DiscoveryAnalyze  SubState = "ANALYZE"
	DiscoveryValidate SubState = "VALIDATE"
	DiscoverySuggest  SubState = "SUGGEST"
	DiscoveryApprove  SubState = "APPROVE"
	DiscoveryStore    SubState = "STORE"
)

// StatePair is the dispatch coordinate for one iteration.
type StatePair struct {
	Mode     Mode
	SubState SubState
}

// validSubStates lists every sub-state each mode accepts, including null.
var validSubStates = map[Mode]map[SubState]bool{
	ModeQuery: {
		SubStateNone: true, QueryPlan: true, QueryClarify: true,
		QueryExecute: true, QueryInterpret: true, QueryAnswer: true,
	},
	ModeDiscovery: {
		SubStateNone: true, DiscoveryGetData: true, DiscoveryAnalyze: true,
		DiscoveryValidate: true, DiscoverySuggest: true, DiscoveryApprove: true,
		DiscoveryStore: true,
	},
	ModeSemanticStoring: {
		SubStateNone: true,
	},
}

// allowedTransitions is the fixed whitelist of sub-states reachable from each
// dispatchable pair. External decisions outside this table are rejected.
var allowedTransitions = map[StatePair]map[SubState]bool{
	{ModeQuery, QueryPlan}:      {QueryClarify: true, QueryExecute: true, SubStateNone: true},
	{ModeQuery, QueryClarify}:   {QueryPlan: true, QueryExecute: true, SubStateNone: true},
	{ModeQuery, QueryExecute}:   {QueryInterpret: true, SubStateNone: true},
	{ModeQuery, QueryInterpret}: {QueryAnswer: true, QueryPlan: true, QueryExecute: true, SubStateNone: true},
	{ModeQuery, QueryAnswer}:    {SubStateNone: true},

	{ModeDiscovery, DiscoveryGetData}:  {DiscoveryAnalyze: true, SubStateNone: true},
	{ModeDiscovery, DiscoveryAnalyze}:  {DiscoveryValidate: true, SubStateNone: true},
	{ModeDiscovery, DiscoveryValidate}: {DiscoverySuggest: true, SubStateNone: true},
	{ModeDiscovery, DiscoverySuggest}:  {DiscoveryApprove: true, SubStateNone: true},
	{ModeDiscovery, DiscoveryApprove}:  {DiscoveryStore: true, SubStateNone: true},
	{ModeDiscovery, DiscoveryStore}:    {SubStateNone: true},
}

// defaultNext is the deterministic fallback applied when an external decision
// proposes a transition outside the whitelist.
var defaultNext = map[StatePair]SubState{
	{ModeQuery, QueryPlan}:      QueryExecute,
	{ModeQuery, QueryClarify}:   QueryPlan,
	{ModeQuery, QueryExecute}:   QueryInterpret,
	{ModeQuery, QueryInterpret}: QueryAnswer,
	{ModeQuery, QueryAnswer}:    SubStateNone,

	{ModeDiscovery, DiscoveryGetData}:  DiscoveryAnalyze,
	{ModeDiscovery, DiscoveryAnalyze}:  DiscoveryValidate,
	{ModeDiscovery, DiscoveryValidate}: DiscoverySuggest,
	{ModeDiscovery, DiscoverySuggest}:  DiscoveryApprove,
	{ModeDiscovery, DiscoveryApprove}:  DiscoveryStore,
	{ModeDiscovery, DiscoveryStore}:    SubStateNone,
}

// MachineState tracks the active mode and each mode's independent sub-state.
// A mode with a non-null sub-state that is not active is pending reactivation.
type MachineState struct {
	ActiveMode           Mode
	QueryState           SubState
	DiscoveryState       SubState
	SemanticStoringState SubState
}

// SubStateOf returns the sub-state field for the given mode.
func (s *MachineState) SubStateOf(mode Mode) SubState {
	switch mode {
	case ModeQuery:
		return s.QueryState
	case ModeDiscovery:
		return s.DiscoveryState
	case ModeSemanticStoring:
		return s.SemanticStoringState
	default:
		return SubStateNone
	}
}

// SetSubState updates the sub-state field for the given mode.
func (s *MachineState) SetSubState(mode Mode, sub SubState) {
	switch mode {
	case ModeQuery:
		s.QueryState = sub
	case ModeDiscovery:
		s.DiscoveryState = sub
	case ModeSemanticStoring:
		s.SemanticStoringState = sub
	}
}

// nextActiveMode picks the highest-priority mode with pending work, or
// ModeNone when every mode has terminated.
func (s *MachineState) nextActiveMode() Mode {
	for _, mode := range modePriority {
		if s.SubStateOf(mode) != SubStateNone {
			return mode
		}
	}
	return ModeNone
}

// validPair reports whether the pair names a known mode and a sub-state in
// that mode's validity set (null included).
func validPair(pair StatePair) bool {
	set, ok := validSubStates[pair.Mode]
	return ok && set[pair.SubState]
}

// transitionAllowed reports whether the whitelist permits moving from the
// current dispatch pair to the proposed sub-state within the same mode.
// Cross-mode proposals are allowed only toward a mode with pending work;
// the caller handles that separately.
func transitionAllowed(current StatePair, next SubState) bool {
	set, ok := allowedTransitions[current]
	return ok && set[next]
}
