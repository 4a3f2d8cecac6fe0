// Package types defines core domain types for the kiln runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"maps"
)

// OutcomeStatus is the tag of an Outcome.
type OutcomeStatus string

const (
	// OutcomeOK carries a value.
	OutcomeOK OutcomeStatus = "ok"
	// OutcomeError carries an error type, message and retriable flag.
	OutcomeError OutcomeStatus = "error"
)

// Outcome is the universal result value returned by generated programs and
// by every layer of the engine. Treat it as immutable: constructors copy
// metadata and the With* helpers return modified copies.
type Outcome struct {
	Status       OutcomeStatus  `json:"status" msgpack:"status"`
	Value        any            `json:"value,omitempty" msgpack:"value,omitempty"`
	ErrorType    string         `json:"error_type,omitempty" msgpack:"error_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" msgpack:"error_message,omitempty"`
	Retriable    bool           `json:"retriable,omitempty" msgpack:"retriable,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Ok returns a successful Outcome carrying value.
func Ok(value any) Outcome {
	return Outcome{Status: OutcomeOK, Value: value}
}

// Err returns an error Outcome. metadata is copied.
func Err(errorType, message string, retriable bool, metadata map[string]any) Outcome {
	return Outcome{
		Status:       OutcomeError,
		ErrorType:    errorType,
		ErrorMessage: message,
		Retriable:    retriable,
		Metadata:     maps.Clone(metadata),
	}
}

// IsOK reports whether the outcome is a success.
func (o Outcome) IsOK() bool { return o.Status == OutcomeOK }

// IsError reports whether the outcome is an error.
func (o Outcome) IsError() bool { return o.Status == OutcomeError }

// WithMetadata returns a copy of o with extra merged over its metadata.
func (o Outcome) WithMetadata(extra map[string]any) Outcome {
	merged := make(map[string]any, len(o.Metadata)+len(extra))
	maps.Copy(merged, o.Metadata)
	maps.Copy(merged, extra)
	o.Metadata = merged
	return o
}

// WithMessage returns a copy of o with a different error message.
func (o Outcome) WithMessage(message string) Outcome {
	o.ErrorMessage = message
	o.Metadata = maps.Clone(o.Metadata)
	return o
}

// MetaString returns metadata[key] if it is a string.
func (o Outcome) MetaString(key string) string {
	if s, ok := o.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o.IsOK() {
		return fmt.Sprintf("ok(%v)", o.Value)
	}
	return fmt.Sprintf("error(%s: %s, retriable=%t)", o.ErrorType, o.ErrorMessage, o.Retriable)
}

// ErrInvalidEnvelope is returned when a program result cannot be read as an
// Outcome envelope.
var ErrInvalidEnvelope = errors.New("invalid outcome envelope")

// Envelope renders o as the map shape programs return and the worker
// protocol carries.
func (o Outcome) Envelope() map[string]any {
	env := map[string]any{"status": string(o.Status)}
	if o.IsOK() {
		env["value"] = o.Value
	} else {
		env["error_type"] = o.ErrorType
		env["error_message"] = o.ErrorMessage
		env["retriable"] = o.Retriable
	}
	if len(o.Metadata) > 0 {
		env["metadata"] = maps.Clone(o.Metadata)
	}
	return env
}

// OutcomeFromEnvelope reads an Outcome from a program result map.
// A missing or unknown status, or an error envelope without error_type,
// is rejected with ErrInvalidEnvelope.
func OutcomeFromEnvelope(env map[string]any) (Outcome, error) {
	if env == nil {
		return Outcome{}, fmt.Errorf("%w: nil result", ErrInvalidEnvelope)
	}
	status, _ := env["status"].(string)
	var meta map[string]any
	if raw, present := env["metadata"]; present && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: metadata must be a map, got %T", ErrInvalidEnvelope, raw)
		}
		meta = m
	}

	switch OutcomeStatus(status) {
	case OutcomeOK:
		if _, present := env["value"]; !present {
			return Outcome{}, fmt.Errorf("%w: ok envelope without value", ErrInvalidEnvelope)
		}
		o := Ok(env["value"])
		o.Metadata = maps.Clone(meta)
		return o, nil
	case OutcomeError:
		errType, _ := env["error_type"].(string)
		if errType == "" {
			return Outcome{}, fmt.Errorf("%w: error envelope without error_type", ErrInvalidEnvelope)
		}
		msg, _ := env["error_message"].(string)
		retriable, _ := env["retriable"].(bool)
		return Err(errType, msg, retriable, meta), nil
	case "":
		return Outcome{}, fmt.Errorf("%w: missing status", ErrInvalidEnvelope)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEnvelope, status)
	}
}
