// Package artifact persists generated programs per (role, method) together
// with the call evidence gathered while running them, and evaluates the
// shadow promotion lifecycle over that evidence.
//
// One JSON document per key lives at <store_dir>/<role>/<method>.json.
// Documents are rewritten atomically after every call; corrupt documents
// are renamed aside, never deleted.
package artifact

import (
	"slices"
	"time"

	"github.com/pithecene-io/kiln/types"
)

// SchemaVersion is the document version this package reads and writes.
// Documents carrying any other version are ignored by selection.
const SchemaVersion = 3

// Bounds on the per-artifact history.
const (
	MaxVersions          = 8
	MaxGenerationHistory = 3
	RecentOutcomeWindow  = 10
	// MaxRepairsBeforeRegen bounds repairs of a persisted program before
	// the caller must fall back to fresh generation.
	MaxRepairsBeforeRegen = 3
)

// Degradation thresholds shared by selection and regression checks.
const (
	degradeMinFailures = 3
	degradeFailureRate = 0.6
)

// Generation triggers.
const (
	TriggerFresh  = "fresh"
	TriggerRepair = "repair"
)

// Artifact is the persisted state of one (role, method).
type Artifact struct {
	SchemaVersion       int    `json:"schema_version"`
	Role                string `json:"role"`
	MethodName          string `json:"method_name"`
	ContractFingerprint string `json:"contract_fingerprint"`
	PromptVersion       string `json:"prompt_version,omitempty"`
	RuntimeVersion      string `json:"runtime_version"`
	Model               string `json:"model,omitempty"`

	// Cacheable is nil on legacy documents written before the flag existed.
	Cacheable       *bool  `json:"cacheable,omitempty"`
	CacheableReason string `json:"cacheable_reason,omitempty"`
	InputSensitive  bool   `json:"input_sensitive"`

	Code         string              `json:"code"`
	CodeChecksum string              `json:"code_checksum"`
	Dependencies []types.Dependency  `json:"dependencies,omitempty"`
	Versions     map[string]*Version `json:"versions"`

	SuccessCount      int           `json:"success_count"`
	FailureCount      int           `json:"failure_count"`
	FailuresByClass   FailureCounts `json:"failures_by_class"`
	RecentFailures    []bool        `json:"recent_failures,omitempty"`
	RecentFailureRate float64       `json:"recent_failure_rate"`

	RepairCountSinceRegen int                `json:"repair_count_since_regen"`
	GenerationHistory     []GenerationRecord `json:"generation_history,omitempty"`

	Lifecycle  Lifecycle             `json:"lifecycle"`
	Scorecards map[string]*Scorecard `json:"scorecards"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FailureCounts splits failures by class.
type FailureCounts struct {
	Extrinsic int `json:"extrinsic"`
	Adaptive  int `json:"adaptive"`
	Intrinsic int `json:"intrinsic"`
}

func (c *FailureCounts) add(class types.FailureClass) {
	switch class {
	case types.FailureExtrinsic:
		c.Extrinsic++
	case types.FailureAdaptive:
		c.Adaptive++
	default:
		c.Intrinsic++
	}
}

// Version is one code version ever held by the artifact.
type Version struct {
	Code         string             `json:"code"`
	CodeChecksum string             `json:"code_checksum"`
	Dependencies []types.Dependency `json:"dependencies,omitempty"`
	Trigger      string             `json:"trigger"`
	CreatedAt    time.Time          `json:"created_at"`
	LastUsedAt   time.Time          `json:"last_used_at"`
}

// GenerationRecord describes why a version was generated.
type GenerationRecord struct {
	At           time.Time `json:"at"`
	Trigger      string    `json:"trigger"`
	CodeChecksum string    `json:"code_checksum"`
	// Failure fields describe the failure that caused a repair.
	FailureClass   types.FailureClass `json:"failure_class,omitempty"`
	FailureType    string             `json:"failure_type,omitempty"`
	FailureMessage string             `json:"failure_message,omitempty"`
}

// ChecksumValid reports whether the stored checksum matches the stored code.
func (a *Artifact) ChecksumValid() bool {
	return a.CodeChecksum != "" && a.CodeChecksum == types.CodeChecksum(a.Code)
}

// Degraded reports whether the counters mark the artifact as too unreliable
// to serve: at least three failures, a recent failure rate above 0.6 and
// more failures than successes.
func (a *Artifact) Degraded() bool {
	return a.FailureCount >= degradeMinFailures &&
		a.RecentFailureRate > degradeFailureRate &&
		a.FailureCount > a.SuccessCount
}

// IsCacheable resolves the cacheable flag. Legacy documents are cacheable
// unless the method was dynamically dispatched.
func (a *Artifact) IsCacheable(dynamic bool) bool {
	if a.Cacheable == nil {
		return !dynamic
	}
	return *a.Cacheable
}

// Program returns the current code and dependencies.
func (a *Artifact) Program() types.Program {
	return types.Program{Code: a.Code, Dependencies: slices.Clone(a.Dependencies)}
}

// Scorecard returns the scorecard for checksum, creating it.
func (a *Artifact) Scorecard(checksum string) *Scorecard {
	if a.Scorecards == nil {
		a.Scorecards = make(map[string]*Scorecard)
	}
	sc, ok := a.Scorecards[checksum]
	if !ok {
		sc = &Scorecard{}
		a.Scorecards[checksum] = sc
	}
	return sc
}

// State returns the lifecycle state of the current code version.
func (a *Artifact) State() LifecycleState {
	if e := a.Lifecycle.Entries[a.CodeChecksum]; e != nil {
		return e.State
	}
	return ""
}

// setCode installs program as the current version.
func (a *Artifact) setCode(p types.Program, trigger string, now time.Time) {
	checksum := p.Checksum()
	a.Code = p.Code
	a.CodeChecksum = checksum
	a.Dependencies = slices.Clone(p.Dependencies)

	if a.Versions == nil {
		a.Versions = make(map[string]*Version)
	}
	if v, ok := a.Versions[checksum]; ok {
		v.LastUsedAt = now
	} else {
		a.Versions[checksum] = &Version{
			Code:         p.Code,
			CodeChecksum: checksum,
			Dependencies: slices.Clone(p.Dependencies),
			Trigger:      trigger,
			CreatedAt:    now,
			LastUsedAt:   now,
		}
	}
	a.evictVersions()
	a.Lifecycle.ensure(checksum)
}

// evictVersions drops least recently used versions beyond MaxVersions.
// The current version is never evicted. Lifecycle entries are kept.
func (a *Artifact) evictVersions() {
	for len(a.Versions) > MaxVersions {
		victim := ""
		var oldest time.Time
		for sum, v := range a.Versions {
			if sum == a.CodeChecksum {
				continue
			}
			if victim == "" || v.LastUsedAt.Before(oldest) ||
				(v.LastUsedAt.Equal(oldest) && sum < victim) {
				victim, oldest = sum, v.LastUsedAt
			}
		}
		if victim == "" {
			return
		}
		delete(a.Versions, victim)
		delete(a.Scorecards, victim)
	}
}

func (a *Artifact) appendGeneration(rec GenerationRecord) {
	a.GenerationHistory = append(a.GenerationHistory, rec)
	if n := len(a.GenerationHistory); n > MaxGenerationHistory {
		a.GenerationHistory = slices.Clone(a.GenerationHistory[n-MaxGenerationHistory:])
	}
}

// recordResult updates the reliability counters.
func (a *Artifact) recordResult(ok bool, class types.FailureClass) {
	if ok {
		a.SuccessCount++
	} else {
		a.FailureCount++
		a.FailuresByClass.add(class)
	}
	a.RecentFailures = append(a.RecentFailures, !ok)
	if n := len(a.RecentFailures); n > RecentOutcomeWindow {
		a.RecentFailures = slices.Clone(a.RecentFailures[n-RecentOutcomeWindow:])
	}
	failed := 0
	for _, f := range a.RecentFailures {
		if f {
			failed++
		}
	}
	a.RecentFailureRate = float64(failed) / float64(len(a.RecentFailures))
}
