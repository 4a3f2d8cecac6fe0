// Package adapter defines the notification boundary for completed calls.
//
// Adapters publish a call-completed event to downstream systems after each
// top-level Dispatch. The engine owns adapter lifecycle; users provide
// configuration only. Publish failures are logged and never change the
// caller's Outcome.
package adapter

import "context"

// EventTypeCallCompleted is the only event type published.
const EventTypeCallCompleted = "call_completed"

// CallCompletedEvent is the payload published when a call finishes.
// Status is ok or error; Path is cache_hit, repair or fresh; Timestamp is
// RFC 3339.
type CallCompletedEvent struct {
	Version      string `json:"kiln_version"`
	EventType    string `json:"event_type"`
	TraceID      string `json:"trace_id"`
	CallID       string `json:"call_id"`
	ParentCallID string `json:"parent_call_id,omitempty"`
	Depth        int    `json:"depth"`
	Role         string `json:"role"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type,omitempty"`
	Path         string `json:"path"`
	Checksum     string `json:"checksum,omitempty"`
	Timestamp    string `json:"timestamp"`
	Attempts     int    `json:"attempts"`
	DurationMs   int64  `json:"duration_ms"`
}

// Adapter publishes call completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *CallCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
