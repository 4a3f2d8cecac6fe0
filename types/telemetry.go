package types

import "time"

// RecordKind discriminates telemetry records.
type RecordKind string

// Telemetry record kinds.
const (
	// RecordKindCall is written once per completed Dispatch.
	RecordKindCall RecordKind = "call"
	// RecordKindAttempt is written per failed fresh-generation attempt.
	RecordKindAttempt RecordKind = "attempt"
	// RecordKindPromotion is written per lifecycle transition.
	RecordKindPromotion RecordKind = "promotion"
)

// Droppable reports whether an ingestion policy may drop records of this
// kind under buffer pressure. Only attempt diagnostics are droppable.
func (k RecordKind) Droppable() bool {
	return k == RecordKindAttempt
}

// TelemetryRecord is the envelope for one row of the telemetry dataset.
type TelemetryRecord struct {
	// Kind is the record discriminator.
	Kind RecordKind
	// Role and Method identify the capability the record is about.
	Role   string
	Method string
	// TraceID and CallID come from the call frame; empty for promotion
	// records written outside a call.
	TraceID string
	CallID  string
	// At is when the record was produced.
	At time.Time
	// Payload holds the kind-specific fields.
	Payload map[string]any
}

// Validate checks the fields every record needs for partitioning.
func (r *TelemetryRecord) Validate() error {
	switch r.Kind {
	case RecordKindCall, RecordKindAttempt, RecordKindPromotion:
	default:
		return &InvalidRecordError{Field: "kind", Value: string(r.Kind)}
	}
	if r.Role == "" {
		return &InvalidRecordError{Field: "role"}
	}
	if r.Method == "" {
		return &InvalidRecordError{Field: "method"}
	}
	if r.At.IsZero() {
		return &InvalidRecordError{Field: "at"}
	}
	return nil
}

// InvalidRecordError reports a telemetry record missing a required field.
type InvalidRecordError struct {
	Field string
	Value string
}

func (e *InvalidRecordError) Error() string {
	if e.Value != "" {
		return "telemetry record: invalid " + e.Field + " " + `"` + e.Value + `"`
	}
	return "telemetry record: missing " + e.Field
}
