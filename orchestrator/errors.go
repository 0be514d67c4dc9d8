// ABOUTME: Typed failures raised by the run loop: guard rejections, metadata validation blocks, execution errors.
// ABOUTME: Validation failures always block; guard limit trips are not errors and never appear here.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSemanticStoringNotImplemented is returned when the reserved
// SEMANTIC_STORING mode is dispatched.
var ErrSemanticStoringNotImplemented = errors.New("semantic storing mode is not implemented")

// GuardRejectionError means the SQL guard refused a candidate statement.
// Fatal to the run; the reason is surfaced verbatim.
type GuardRejectionError struct {
	StepNumber int
	Reason     string
}

func (e *GuardRejectionError) Error() string {
	return fmt.Sprintf("sql guard rejected step %d: %s", e.StepNumber, e.Reason)
}

// MetadataValidationError means generated SQL referenced tables or columns
// the catalog cannot verify. Execution is always blocked, never degraded.
type MetadataValidationError struct {
	StepNumber int
	Issues     []string
}

func (e *MetadataValidationError) Error() string {
	return fmt.Sprintf("step %d references unverified schema objects: %s",
		e.StepNumber, strings.Join(e.Issues, "; "))
}

// ExecutionError wraps a database failure with the statement that caused it.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %q: %v", e.SQL, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
