package runtime

import (
	"fmt"

	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/types"
)

// TopLevelExhaustedMessage replaces the diagnostic message of guardrail
// exhaustion on top-level calls.
const TopLevelExhaustedMessage = "This request couldn't be completed after multiple attempts."

// GuardrailError is a terminal guardrail violation. It is never retried.
type GuardrailError struct {
	Violation      *guardrail.Violation
	Classification guardrail.Classification
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s guardrail violation (%s): %s", e.Classification.Class, e.Classification.Subtype, e.Violation.Message)
}

func (e *GuardrailError) Unwrap() error { return e.Violation }

// ErrorType implements the typed-error convention.
func (e *GuardrailError) ErrorType() string { return types.ErrorTypeGuardrailViolation }

// GuardrailExhaustedError is raised when recoverable violations outlast
// the guardrail recovery budget. It carries the last violation.
type GuardrailExhaustedError struct {
	// Attempts is the number of attempts that hit a violation, which is
	// the budget plus one.
	Attempts           int
	Type               string
	Subtype            string
	Message            string
	RequiredCorrection string
}

func (e *GuardrailExhaustedError) Error() string {
	return fmt.Sprintf("guardrail recovery exhausted after %d attempts: %s (%s): %s", e.Attempts, e.Type, e.Subtype, e.Message)
}

// ErrorType implements the typed-error convention.
func (e *GuardrailExhaustedError) ErrorType() string { return types.ErrorTypeGuardrailExhausted }

// ExecutionError is raised when a program raises again after its single
// execution repair.
type ExecutionError struct {
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("program execution failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrorType implements the typed-error convention.
func (e *ExecutionError) ErrorType() string { return types.ErrorTypeExecution }

// OutcomeExhaustedError is raised when retriable error outcomes outlast
// the outcome repair budget.
type OutcomeExhaustedError struct {
	Attempts int
	Last     types.Outcome
}

func (e *OutcomeExhaustedError) Error() string {
	return fmt.Sprintf("outcome repair exhausted after %d attempts: %s: %s", e.Attempts, e.Last.ErrorType, e.Last.ErrorMessage)
}

// ErrorType implements the typed-error convention.
func (e *OutcomeExhaustedError) ErrorType() string { return types.ErrorTypeOutcomeExhausted }

// RemoteError is a runtime exception raised by a program in the worker.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// ErrorType implements the typed-error convention.
func (e *RemoteError) ErrorType() string { return e.Type }
