// ABOUTME: Lifecycle events emitted by the orchestrator during a run.
// ABOUTME: Hosts subscribe via Orchestrator.OnEvent; nothing here blocks the run loop.
package orchestrator

import "time"

// RunEventType identifies the kind of run lifecycle event.
type RunEventType string

const (
	EventRunStarted    RunEventType = "run.started"
	EventRunCompleted  RunEventType = "run.completed"
	EventRunCancelled  RunEventType = "run.cancelled"
	EventRunFailed     RunEventType = "run.failed"
	EventStateEntered  RunEventType = "state.entered"
	EventToolCompleted RunEventType = "tool.completed"
	EventGuardTripped  RunEventType = "guard.tripped"
	EventLoopDetected  RunEventType = "loop.detected"
	EventQueryExecuted RunEventType = "query.executed"
)

// RunEvent is one lifecycle event with its dispatch coordinate and payload.
type RunEvent struct {
	Type      RunEventType
	RunID     string
	Mode      Mode
	SubState  SubState
	Data      map[string]any
	Timestamp time.Time
}
