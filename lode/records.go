package lode

import (
	"time"

	"github.com/pithecene-io/kiln/types"
)

// Call paths recorded on call records.
const (
	PathCacheHit = "cache_hit"
	PathRepair   = "repair"
	PathFresh    = "fresh"
)

// CallRecord describes one completed Dispatch.
type CallRecord struct {
	Frame  types.CallFrame
	Role   string
	Method string
	// Path is how the returned outcome was produced.
	Path      string
	Status    string
	ErrorType string
	// Checksum is the checksum of the program that ran, if any.
	Checksum string
	// Attempts is the number of fresh-generation attempts consumed.
	Attempts       int
	WorkerRestarts int
	Duration       time.Duration
	At             time.Time
}

// Record converts the call record into a telemetry envelope.
func (c CallRecord) Record() *types.TelemetryRecord {
	payload := map[string]any{
		"path":            c.Path,
		"status":          c.Status,
		"depth":           c.Frame.Depth,
		"attempts":        c.Attempts,
		"worker_restarts": c.WorkerRestarts,
		"duration_ms":     float64(c.Duration.Microseconds()) / 1000,
	}
	if c.ErrorType != "" {
		payload["error_type"] = c.ErrorType
	}
	if c.Checksum != "" {
		payload["checksum"] = c.Checksum
	}
	if c.Frame.ParentCallID != "" {
		payload["parent_call_id"] = c.Frame.ParentCallID
	}
	return &types.TelemetryRecord{
		Kind:    types.RecordKindCall,
		Role:    c.Role,
		Method:  c.Method,
		TraceID: c.Frame.TraceID,
		CallID:  c.Frame.CallID,
		At:      c.At,
		Payload: payload,
	}
}

// AttemptRecord describes one failed fresh-generation attempt.
type AttemptRecord struct {
	Frame     types.CallFrame
	Role      string
	Method    string
	AttemptID int
	// Lane is guardrail, execution or outcome.
	Lane      string
	ErrorType string
	Class     string
	Message   string
	At        time.Time
}

// Record converts the attempt record into a telemetry envelope.
func (a AttemptRecord) Record() *types.TelemetryRecord {
	return &types.TelemetryRecord{
		Kind:    types.RecordKindAttempt,
		Role:    a.Role,
		Method:  a.Method,
		TraceID: a.Frame.TraceID,
		CallID:  a.Frame.CallID,
		At:      a.At,
		Payload: map[string]any{
			"attempt_id":    a.AttemptID,
			"lane":          a.Lane,
			"error_type":    a.ErrorType,
			"failure_class": a.Class,
			"message":       a.Message,
		},
	}
}

// PromotionRecord describes one lifecycle transition of a code version.
type PromotionRecord struct {
	Frame         types.CallFrame
	Role          string
	Method        string
	Checksum      string
	From          string
	To            string
	Decision      string
	PolicyVersion string
	Enforcement   bool
	At            time.Time
}

// Record converts the promotion record into a telemetry envelope.
func (p PromotionRecord) Record() *types.TelemetryRecord {
	return &types.TelemetryRecord{
		Kind:    types.RecordKindPromotion,
		Role:    p.Role,
		Method:  p.Method,
		TraceID: p.Frame.TraceID,
		CallID:  p.Frame.CallID,
		At:      p.At,
		Payload: map[string]any{
			"checksum":       p.Checksum,
			"from":           p.From,
			"to":             p.To,
			"decision":       p.Decision,
			"policy_version": p.PolicyVersion,
			"enforcement":    p.Enforcement,
		},
	}
}

// toRecordMap flattens an envelope into the stored row. Lode's Hive layout
// reads partition keys from top-level fields.
func toRecordMap(r *types.TelemetryRecord) map[string]any {
	m := map[string]any{
		"record_kind": string(r.Kind),
		"role":        r.Role,
		"method":      r.Method,
		"day":         DeriveDay(r.At),
		"ts":          r.At.UTC().Format(time.RFC3339Nano),
		"payload":     r.Payload,
	}
	if r.TraceID != "" {
		m["trace_id"] = r.TraceID
	}
	if r.CallID != "" {
		m["call_id"] = r.CallID
	}
	return m
}

// DeriveDay computes the day partition, YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
