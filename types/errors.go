package types

// Error type strings carried by error Outcomes. Failure classification
// (extrinsic/adaptive/intrinsic) keys off these values.
const (
	ErrorTypeTimeout                  = "timeout"
	ErrorTypeWorkerTimeout            = "worker_timeout"
	ErrorTypeWorkerCrash              = "worker_crash"
	ErrorTypeNetwork                  = "network_error"
	ErrorTypeRateLimited              = "rate_limited"
	ErrorTypeProvider                 = "provider_error"
	ErrorTypeDependencyInstallFailed  = "dependency_install_failed"
	ErrorTypeDependencyActivateFailed = "dependency_activation_failed"

	ErrorTypeParse                 = "parse_error"
	ErrorTypeLowUtility            = "low_utility"
	ErrorTypeWrongToolBoundary     = "wrong_tool_boundary"
	ErrorTypeMissingInput          = "missing_input"
	ErrorTypeInvalidFormat         = "invalid_format"
	ErrorTypeSchemaMismatch        = "schema_mismatch"
	ErrorTypeContractViolation     = "contract_violation"
	ErrorTypeGuardrailViolation    = "guardrail_violation"
	ErrorTypeGuardrailExhausted    = "guardrail_retry_exhausted"
	ErrorTypeOutcomeExhausted      = "outcome_retry_exhausted"
	ErrorTypeNonSerializableResult = "non_serializable_result"

	ErrorTypeExecution = "execution_error"
	ErrorTypeInternal  = "internal_error"
)

// FailureClass buckets a failure for repair decisions.
type FailureClass string

const (
	// FailureExtrinsic is environment or provider caused. Never repaired.
	FailureExtrinsic FailureClass = "extrinsic"
	// FailureAdaptive is generation-quality caused. Eligible for repair.
	FailureAdaptive FailureClass = "adaptive"
	// FailureIntrinsic is everything else. Eligible for repair.
	FailureIntrinsic FailureClass = "intrinsic"
)

// Repairable reports whether failures of this class may be repaired.
func (c FailureClass) Repairable() bool {
	return c == FailureAdaptive || c == FailureIntrinsic
}
