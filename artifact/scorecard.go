package artifact

import (
	"slices"
	"strings"
)

// Scorecard bounds.
const (
	MaxScorecardSessions   = 32
	MaxStateKeySignatures  = 16
	otherStateKeySignature = "~other"

	regressMinCalls = 3
)

// Scorecard is the rolling evidence for one code version. It feeds
// promotion decisions only and never gates execution directly.
type Scorecard struct {
	Calls                   int            `json:"calls"`
	Successes               int            `json:"successes"`
	Failures                int            `json:"failures"`
	ContractPass            int            `json:"contract_pass"`
	ContractFail            int            `json:"contract_fail"`
	RoleProfilePass         int            `json:"role_profile_pass"`
	RoleProfileFail         int            `json:"role_profile_fail"`
	GuardrailRetryExhausted int            `json:"guardrail_retry_exhausted"`
	OutcomeRetryExhausted   int            `json:"outcome_retry_exhausted"`
	WrongBoundaryCount      int            `json:"wrong_boundary_count"`
	ProvenanceViolations    int            `json:"provenance_violations"`
	SessionIDs              []string       `json:"session_ids,omitempty"`
	StateKeySignatures      map[string]int `json:"state_key_signatures,omitempty"`
}

// Observation is the evidence one call contributes to a scorecard.
type Observation struct {
	OK bool
	// ContractChecked is set when the outcome reached deliverable validation.
	ContractChecked bool
	ContractPassed  bool
	// RoleProfile is nil when no role-profile check ran.
	RoleProfile             *bool
	GuardrailRetryExhausted bool
	OutcomeRetryExhausted   bool
	WrongBoundary           bool
	ProvenanceViolation     bool
	SessionID               string
	// StateKeys are the working-state keys after the call.
	StateKeys []string
}

// Record adds obs to the scorecard.
func (s *Scorecard) Record(obs Observation) {
	s.Calls++
	if obs.OK {
		s.Successes++
	} else {
		s.Failures++
	}
	if obs.ContractChecked {
		if obs.ContractPassed {
			s.ContractPass++
		} else {
			s.ContractFail++
		}
	}
	if obs.RoleProfile != nil {
		if *obs.RoleProfile {
			s.RoleProfilePass++
		} else {
			s.RoleProfileFail++
		}
	}
	if obs.GuardrailRetryExhausted {
		s.GuardrailRetryExhausted++
	}
	if obs.OutcomeRetryExhausted {
		s.OutcomeRetryExhausted++
	}
	if obs.WrongBoundary {
		s.WrongBoundaryCount++
	}
	if obs.ProvenanceViolation {
		s.ProvenanceViolations++
	}
	if obs.SessionID != "" && len(s.SessionIDs) < MaxScorecardSessions &&
		!slices.Contains(s.SessionIDs, obs.SessionID) {
		s.SessionIDs = append(s.SessionIDs, obs.SessionID)
	}
	if obs.StateKeys != nil {
		s.recordSignature(stateKeySignature(obs.StateKeys))
	}
}

func (s *Scorecard) recordSignature(sig string) {
	if s.StateKeySignatures == nil {
		s.StateKeySignatures = make(map[string]int)
	}
	if _, seen := s.StateKeySignatures[sig]; !seen && len(s.StateKeySignatures) >= MaxStateKeySignatures {
		sig = otherStateKeySignature
	}
	s.StateKeySignatures[sig]++
}

func stateKeySignature(keys []string) string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}

// Sessions is the number of distinct sessions seen (capped).
func (s *Scorecard) Sessions() int { return len(s.SessionIDs) }

// FailureRate is failures over calls, 0 without calls.
func (s *Scorecard) FailureRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Calls)
}

// ContractPassRate is the pass share of contract checks. Without checks
// there is no evidence against the version and the rate is 1.
func (s *Scorecard) ContractPassRate() float64 {
	return passRate(s.ContractPass, s.ContractFail)
}

// RoleProfilePassRate is the pass share of role-profile checks, 1 without
// checks.
func (s *Scorecard) RoleProfilePassRate() float64 {
	return passRate(s.RoleProfilePass, s.RoleProfileFail)
}

// StateKeyConsistencyRatio is the share of calls that left the most common
// working-state key set, 1 without observations.
func (s *Scorecard) StateKeyConsistencyRatio() float64 {
	total, top := 0, 0
	for _, n := range s.StateKeySignatures {
		total += n
		top = max(top, n)
	}
	if total == 0 {
		return 1
	}
	return float64(top) / float64(total)
}

func passRate(pass, fail int) float64 {
	if pass+fail == 0 {
		return 1
	}
	return float64(pass) / float64(pass+fail)
}

// Regressed reports calls >= 3, failure rate above 0.6 and more failures
// than successes.
func (s *Scorecard) Regressed() bool {
	return s.Calls >= regressMinCalls &&
		s.FailureRate() > degradeFailureRate &&
		s.Failures > s.Successes
}

// Metrics renders the scorecard as the rationale snapshot stored in the
// ledger.
func (s *Scorecard) Metrics() map[string]any {
	return map[string]any{
		"calls":                       s.Calls,
		"successes":                   s.Successes,
		"failures":                    s.Failures,
		"failure_rate":                s.FailureRate(),
		"sessions":                    s.Sessions(),
		"contract_pass_rate":          s.ContractPassRate(),
		"role_profile_pass_rate":      s.RoleProfilePassRate(),
		"guardrail_retry_exhausted":   s.GuardrailRetryExhausted,
		"outcome_retry_exhausted":     s.OutcomeRetryExhausted,
		"wrong_boundary_count":        s.WrongBoundaryCount,
		"provenance_violations":       s.ProvenanceViolations,
		"state_key_consistency_ratio": s.StateKeyConsistencyRatio(),
	}
}
