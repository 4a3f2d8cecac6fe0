package guardrail

import (
	"context"
	"errors"
	"net"
	"regexp"

	"github.com/pithecene-io/kiln/types"
)

// ViolationClass says whether a violation may be retried.
type ViolationClass string

const (
	// Terminal violations propagate immediately.
	Terminal ViolationClass = "terminal"
	// Recoverable violations are retried with feedback up to budget.
	Recoverable ViolationClass = "recoverable"
)

// Classification is the result of classifying a violation message.
type Classification struct {
	Class              ViolationClass
	Subtype            string
	RequiredCorrection string
}

type messagePattern struct {
	re *regexp.Regexp
	Classification
}

var messagePatterns = []messagePattern{
	{regexp.MustCompile(`^` + regexp.QuoteMeta(MsgForbiddenImport)), Classification{
		Class:              Terminal,
		Subtype:            "forbidden_capability",
		RequiredCorrection: "do not use process, unsafe or plugin facilities",
	}},
	{regexp.MustCompile(`(?i)must define func Run`), Classification{
		Class:              Recoverable,
		Subtype:            "missing_entrypoint",
		RequiredCorrection: "define func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) in package main",
	}},
	{regexp.MustCompile(`(?i)reserved host key|cannot be injected`), Classification{
		Class:              Recoverable,
		Subtype:            "dynamic_method_injection",
		RequiredCorrection: "call other methods through host.Call instead of writing reserved env keys",
	}},
	{regexp.MustCompile(`(?i)tool registry is read-only|env\["tools"\]`), Classification{
		Class:              Recoverable,
		Subtype:            "registry_shape_misuse",
		RequiredCorrection: "read env[\"tools\"] without modifying it",
	}},
	{regexp.MustCompile(`(?i)hard-coded success`), Classification{
		Class:              Recoverable,
		Subtype:            "hardcoded_success",
		RequiredCorrection: "return the fetched data, or an error outcome when the fetch fails",
	}},
	{regexp.MustCompile(`(?i)provenance`), Classification{
		Class:              Recoverable,
		Subtype:            "missing_provenance",
		RequiredCorrection: "set metadata.provenance = {source, retrieved_at} on outcomes built from external data",
	}},
}

// ClassifyViolation classifies v. Only the forbidden_import rule is
// terminal; a violation from any other rule is recoverable whatever its
// message says.
func ClassifyViolation(v *Violation) Classification {
	c := Classify(v.Message)
	if c.Class == Terminal && v.Rule != RuleForbiddenImport {
		return unclassified(v.Message)
	}
	return c
}

// Classify maps a violation message to its class, subtype and the
// correction fed back to the generator. Only MsgForbiddenImport is
// terminal. Unrecognized messages are recoverable with subtype
// "unclassified".
func Classify(message string) Classification {
	for _, p := range messagePatterns {
		if p.re.MatchString(message) {
			return p.Classification
		}
	}
	return unclassified(message)
}

func unclassified(message string) Classification {
	return Classification{
		Class:              Recoverable,
		Subtype:            "unclassified",
		RequiredCorrection: "address the violation: " + message,
	}
}

var (
	extrinsicTypes = map[string]bool{
		types.ErrorTypeTimeout:                  true,
		types.ErrorTypeWorkerTimeout:            true,
		types.ErrorTypeWorkerCrash:              true,
		types.ErrorTypeNetwork:                  true,
		types.ErrorTypeRateLimited:              true,
		types.ErrorTypeProvider:                 true,
		types.ErrorTypeDependencyInstallFailed:  true,
		types.ErrorTypeDependencyActivateFailed: true,
	}
	adaptiveTypes = map[string]bool{
		types.ErrorTypeParse:                 true,
		types.ErrorTypeLowUtility:            true,
		types.ErrorTypeWrongToolBoundary:     true,
		types.ErrorTypeMissingInput:          true,
		types.ErrorTypeInvalidFormat:         true,
		types.ErrorTypeSchemaMismatch:        true,
		types.ErrorTypeContractViolation:     true,
		types.ErrorTypeGuardrailExhausted:    true,
		types.ErrorTypeOutcomeExhausted:      true,
		types.ErrorTypeNonSerializableResult: true,
		types.ErrorTypeGuardrailViolation:    true,
	}
)

// ClassifyType buckets an error_type string.
func ClassifyType(errorType string) types.FailureClass {
	switch {
	case extrinsicTypes[errorType]:
		return types.FailureExtrinsic
	case adaptiveTypes[errorType]:
		return types.FailureAdaptive
	default:
		return types.FailureIntrinsic
	}
}

// ClassifyOutcome buckets an error Outcome. Ok outcomes return "".
func ClassifyOutcome(o types.Outcome) types.FailureClass {
	if !o.IsError() {
		return ""
	}
	return ClassifyType(o.ErrorType)
}

// typedError is implemented by errors that know their error_type.
type typedError interface {
	error
	ErrorType() string
}

// ClassifyError buckets a Go error. Errors carrying an error type are
// classified by it; deadline and network timeouts are extrinsic; anything
// else is intrinsic.
func ClassifyError(err error) types.FailureClass {
	if err == nil {
		return ""
	}
	var te typedError
	if errors.As(err, &te) {
		return ClassifyType(te.ErrorType())
	}
	return classifyUntyped(err)
}

func classifyUntyped(err error) types.FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureExtrinsic
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return types.FailureExtrinsic
	}
	return types.FailureIntrinsic
}

// ErrorTypeOf returns the error_type an error maps to at an Outcome
// boundary: its own type if it has one, timeout for deadlines,
// execution_error otherwise.
func ErrorTypeOf(err error) string {
	var te typedError
	if errors.As(err, &te) {
		return te.ErrorType()
	}
	if classifyUntyped(err) == types.FailureExtrinsic {
		return types.ErrorTypeTimeout
	}
	return types.ErrorTypeExecution
}
