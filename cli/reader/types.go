// Package reader provides the read side of the kiln CLI: artifact views
// from the store and call statistics from the telemetry dataset.
//
// Nothing in this package writes. Commands render its responses as json,
// table or yaml, and the TUI consumes the same payloads.
package reader

import "time"

// ArtifactRow is one artifact in a listing.
type ArtifactRow struct {
	Role              string    `json:"role"`
	Method            string    `json:"method"`
	State             string    `json:"state"`
	Checksum          string    `json:"checksum"`
	Successes         int       `json:"successes"`
	Failures          int       `json:"failures"`
	RecentFailureRate float64   `json:"recent_failure_rate"`
	Cacheable         string    `json:"cacheable"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InspectArtifactResponse is the full view of one artifact.
type InspectArtifactResponse struct {
	Role                  string          `json:"role"`
	Method                string          `json:"method"`
	SchemaVersion         int             `json:"schema_version"`
	Checksum              string          `json:"checksum"`
	ChecksumValid         bool            `json:"checksum_valid"`
	State                 string          `json:"state"`
	Incumbent             string          `json:"incumbent_durable_checksum"`
	RuntimeVersion        string          `json:"runtime_version"`
	PromptVersion         string          `json:"prompt_version"`
	Model                 string          `json:"model"`
	Cacheable             string          `json:"cacheable"`
	CacheableReason       string          `json:"cacheable_reason"`
	InputSensitive        bool            `json:"input_sensitive"`
	Successes             int             `json:"successes"`
	Failures              int             `json:"failures"`
	FailuresByClass       map[string]int  `json:"failures_by_class"`
	RecentFailureRate     float64         `json:"recent_failure_rate"`
	RepairCountSinceRegen int             `json:"repair_count_since_regen"`
	Dependencies          []string        `json:"dependencies"`
	Versions              []VersionRow    `json:"versions"`
	Generations           []GenerationRow `json:"generations"`
	Code                  string          `json:"code"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// VersionRow summarizes one retained code version and its scorecard.
type VersionRow struct {
	Checksum         string    `json:"checksum"`
	Current          bool      `json:"current"`
	State            string    `json:"state"`
	Trigger          string    `json:"trigger"`
	Calls            int       `json:"calls"`
	Successes        int       `json:"successes"`
	Sessions         int       `json:"sessions"`
	ContractPassRate float64   `json:"contract_pass_rate"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// GenerationRow is one entry of the generation history.
type GenerationRow struct {
	At           time.Time `json:"at"`
	Trigger      string    `json:"trigger"`
	Checksum     string    `json:"checksum"`
	FailureClass string    `json:"failure_class"`
	FailureType  string    `json:"failure_type"`
}

// LedgerRow is one promotion decision.
type LedgerRow struct {
	At            time.Time `json:"at"`
	Checksum      string    `json:"checksum"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Decision      string    `json:"decision"`
	PolicyVersion string    `json:"policy_version"`
	Enforcement   bool      `json:"enforcement"`
	Calls         int       `json:"calls"`
}

// CallStatsRow aggregates telemetry call records for one capability.
type CallStatsRow struct {
	Role        string  `json:"role"`
	Method      string  `json:"method"`
	Calls       int     `json:"calls"`
	OK          int     `json:"ok"`
	Errors      int     `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	CacheHits   int     `json:"cache_hits"`
	Repairs     int     `json:"repairs"`
	Fresh       int     `json:"fresh"`
	MeanMS      float64 `json:"mean_ms"`
	MaxAttempts int     `json:"max_attempts"`
	TopError    string  `json:"top_error"`
}
