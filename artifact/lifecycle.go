package artifact

import (
	"time"
)

// LifecycleState is the promotion status of one code version.
type LifecycleState string

// Lifecycle states. candidate -> probation -> durable <-> degraded.
const (
	StateCandidate LifecycleState = "candidate"
	StateProbation LifecycleState = "probation"
	StateDurable   LifecycleState = "durable"
	StateDegraded  LifecycleState = "degraded"
)

// Decisions recorded on lifecycle entries and ledger rows.
const (
	DecisionHold      = "hold"
	DecisionBootstrap = "bootstrap_probation"
	DecisionPromote   = "promote_durable"
	DecisionRestore   = "restore_durable"
	DecisionRegress   = "degrade_regressed"
	DecisionEnforced  = "degrade_immediate_error"
)

// MaxLedgerEntries bounds the shadow ledger. Oldest rows are dropped.
const MaxLedgerEntries = 200

// Lifecycle is the promotion root of an artifact.
type Lifecycle struct {
	IncumbentDurableChecksum string                     `json:"incumbent_durable_checksum,omitempty"`
	Entries                  map[string]*LifecycleEntry `json:"entries"`
	Ledger                   []LedgerEntry              `json:"ledger,omitempty"`
}

// LifecycleEntry is the promotion status of one checksum.
type LifecycleEntry struct {
	State          LifecycleState `json:"lifecycle_state"`
	PolicyVersion  string         `json:"policy_version,omitempty"`
	LastDecision   string         `json:"last_decision,omitempty"`
	LastDecisionAt time.Time      `json:"last_decision_at,omitzero"`
}

// LedgerEntry is one recorded transition.
type LedgerEntry struct {
	At            time.Time      `json:"at"`
	Checksum      string         `json:"checksum"`
	From          LifecycleState `json:"from"`
	To            LifecycleState `json:"to"`
	Decision      string         `json:"decision"`
	PolicyVersion string         `json:"policy_version"`
	Enforcement   bool           `json:"enforcement"`
	Rationale     map[string]any `json:"rationale"`
}

func (l *Lifecycle) ensure(checksum string) *LifecycleEntry {
	if l.Entries == nil {
		l.Entries = make(map[string]*LifecycleEntry)
	}
	e, ok := l.Entries[checksum]
	if !ok {
		e = &LifecycleEntry{State: StateCandidate}
		l.Entries[checksum] = e
	}
	return e
}

func (l *Lifecycle) appendLedger(entry LedgerEntry) {
	l.Ledger = append(l.Ledger, entry)
	if n := len(l.Ledger); n > MaxLedgerEntries {
		l.Ledger = append([]LedgerEntry(nil), l.Ledger[n-MaxLedgerEntries:]...)
	}
}

// Policy holds the promotion gate thresholds.
type Policy struct {
	Version                     string  `json:"version" yaml:"version"`
	MinCalls                    int     `json:"min_calls" yaml:"min_calls"`
	MinSessions                 int     `json:"min_sessions" yaml:"min_sessions"`
	MinContractPassRate         float64 `json:"min_contract_pass_rate" yaml:"min_contract_pass_rate"`
	MinRoleProfilePassRate      float64 `json:"min_role_profile_pass_rate" yaml:"min_role_profile_pass_rate"`
	MaxGuardrailRetryExhausted  int     `json:"max_guardrail_retry_exhausted" yaml:"max_guardrail_retry_exhausted"`
	MaxOutcomeRetryExhausted    int     `json:"max_outcome_retry_exhausted" yaml:"max_outcome_retry_exhausted"`
	MaxWrongBoundaryCount       int     `json:"max_wrong_boundary_count" yaml:"max_wrong_boundary_count"`
	MaxProvenanceViolations     int     `json:"max_provenance_violations" yaml:"max_provenance_violations"`
	MinStateKeyConsistencyRatio float64 `json:"min_state_key_consistency_ratio" yaml:"min_state_key_consistency_ratio"`
}

// DefaultPolicy returns the shadow-v1 thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Version:                     "shadow-v1",
		MinCalls:                    10,
		MinSessions:                 2,
		MinContractPassRate:         0.95,
		MinRoleProfilePassRate:      0.99,
		MaxGuardrailRetryExhausted:  0,
		MaxOutcomeRetryExhausted:    0,
		MaxWrongBoundaryCount:       0,
		MaxProvenanceViolations:     0,
		MinStateKeyConsistencyRatio: 0.5,
	}
}

// Meets reports whether sc satisfies every threshold.
func (p Policy) Meets(sc *Scorecard) bool {
	return sc.Calls >= p.MinCalls &&
		sc.Sessions() >= p.MinSessions &&
		sc.ContractPassRate() >= p.MinContractPassRate &&
		sc.RoleProfilePassRate() >= p.MinRoleProfilePassRate &&
		sc.GuardrailRetryExhausted <= p.MaxGuardrailRetryExhausted &&
		sc.OutcomeRetryExhausted <= p.MaxOutcomeRetryExhausted &&
		sc.WrongBoundaryCount <= p.MaxWrongBoundaryCount &&
		sc.ProvenanceViolations <= p.MaxProvenanceViolations &&
		sc.StateKeyConsistencyRatio() >= p.MinStateKeyConsistencyRatio
}

// EvalInput is the context of one evaluation.
type EvalInput struct {
	// OK is the status of the call that triggered the evaluation.
	OK bool
	// Enforcement lets an immediate error degrade a probation version.
	Enforcement bool
	Now         time.Time
}

// Transition is a state change made by Evaluate.
type Transition struct {
	Checksum string
	From     LifecycleState
	To       LifecycleState
	Decision string
}

// Evaluate runs one step of the promotion state machine for checksum and
// returns the transition made, if any. Transitions are appended to the
// ledger whether or not enforcement is on; holds only update the entry.
func Evaluate(a *Artifact, checksum string, in EvalInput, p Policy) *Transition {
	entry := a.Lifecycle.ensure(checksum)
	sc := a.Scorecard(checksum)

	from := entry.State
	to, decision := next(a, entry.State, sc, checksum, in, p)

	entry.PolicyVersion = p.Version
	entry.LastDecision = decision
	entry.LastDecisionAt = in.Now
	if to == from {
		return nil
	}

	entry.State = to
	if to == StateDurable {
		a.Lifecycle.IncumbentDurableChecksum = checksum
	}
	a.Lifecycle.appendLedger(LedgerEntry{
		At:            in.Now,
		Checksum:      checksum,
		From:          from,
		To:            to,
		Decision:      decision,
		PolicyVersion: p.Version,
		Enforcement:   in.Enforcement,
		Rationale:     sc.Metrics(),
	})
	return &Transition{Checksum: checksum, From: from, To: to, Decision: decision}
}

func next(a *Artifact, state LifecycleState, sc *Scorecard, checksum string, in EvalInput, p Policy) (LifecycleState, string) {
	switch state {
	case StateCandidate:
		if in.OK {
			return StateProbation, DecisionBootstrap
		}
	case StateProbation:
		if gatePass(a, sc, checksum, p) {
			return StateDurable, DecisionPromote
		}
		if sc.Regressed() {
			return StateDegraded, DecisionRegress
		}
		if in.Enforcement && !in.OK {
			return StateDegraded, DecisionEnforced
		}
	case StateDurable:
		if sc.Regressed() {
			return StateDegraded, DecisionRegress
		}
	case StateDegraded:
		if gatePass(a, sc, checksum, p) {
			return StateDurable, DecisionRestore
		}
	}
	return state, DecisionHold
}

// gatePass applies the policy and requires the version's contract pass
// rate to match the incumbent durable version's (0 without one).
func gatePass(a *Artifact, sc *Scorecard, checksum string, p Policy) bool {
	if !p.Meets(sc) {
		return false
	}
	incumbentRate := 0.0
	if inc := a.Lifecycle.IncumbentDurableChecksum; inc != "" && inc != checksum {
		if isc, ok := a.Scorecards[inc]; ok {
			incumbentRate = isc.ContractPassRate()
		}
	}
	return sc.ContractPassRate() >= incumbentRate
}
