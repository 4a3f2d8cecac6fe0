package ipc

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/kiln/types"
)

// Request asks the worker to run one program.
type Request struct {
	IPCVersion      string
	CallID          string
	Role            string
	MethodName      string
	Code            string
	Dependencies    []types.Dependency
	Args            []any
	Kwargs          map[string]any
	ContextSnapshot map[string]any
}

// Response is the worker's answer to one Request.
type Response struct {
	IPCVersion      string
	CallID          string
	Outcome         types.Outcome
	ContextSnapshot map[string]any
}

// DecodeError is a message that decoded but is missing required fields.
type DecodeError struct {
	Field string
	Msg   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid ipc message: %s: %s", e.Field, e.Msg)
}

// ErrorType implements the typed-error convention.
func (e *DecodeError) ErrorType() string { return types.ErrorTypeInvalidFormat }

// ProtocolError is a well-formed message that violates the exchange:
// wrong ipc_version or a call_id that does not match the request.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string { return "ipc protocol error: " + e.Msg }

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrorType implements the typed-error convention. A confused worker is
// treated like a crashed one.
func (e *ProtocolError) ErrorType() string { return types.ErrorTypeWorkerCrash }

// ErrVersionMismatch is wrapped by ProtocolErrors about ipc_version.
var ErrVersionMismatch = errors.New("ipc version mismatch")

// Map renders the request for the wire. It fails with a
// *SerializationError if args, kwargs or the context snapshot cannot cross
// the boundary unchanged.
func (r *Request) Map() (map[string]any, error) {
	for _, part := range []struct {
		name string
		v    any
	}{{"args", r.Args}, {"kwargs", r.Kwargs}, {"context_snapshot", r.ContextSnapshot}} {
		if err := CheckSerializable(part.v); err != nil {
			var se *SerializationError
			if errors.As(err, &se) {
				se.Path = part.name + se.Path[1:]
			}
			return nil, err
		}
	}

	deps := make([]any, len(r.Dependencies))
	for i, d := range r.Dependencies {
		dep := map[string]any{"name": d.Name}
		if d.Version != "" {
			dep["version"] = d.Version
		}
		deps[i] = dep
	}
	args := r.Args
	if args == nil {
		args = []any{}
	}
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	snapshot := r.ContextSnapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}

	return map[string]any{
		"ipc_version":      r.IPCVersion,
		"call_id":          r.CallID,
		"role":             r.Role,
		"method_name":      r.MethodName,
		"code":             r.Code,
		"dependencies":     deps,
		"args":             args,
		"kwargs":           kwargs,
		"context_snapshot": snapshot,
	}, nil
}

// RequestFromMap reads a request. call_id and code are required; other
// fields default to empty and unknown fields are ignored.
func RequestFromMap(m map[string]any) (*Request, error) {
	r := &Request{}
	r.IPCVersion, _ = m["ipc_version"].(string)
	r.CallID, _ = m["call_id"].(string)
	r.Role, _ = m["role"].(string)
	r.MethodName, _ = m["method_name"].(string)
	r.Code, _ = m["code"].(string)

	if r.CallID == "" {
		return nil, &DecodeError{Field: "call_id", Msg: "missing"}
	}
	if r.Code == "" {
		return nil, &DecodeError{Field: "code", Msg: "missing"}
	}

	if raw, ok := m["args"]; ok && raw != nil {
		args, ok := raw.([]any)
		if !ok {
			return nil, &DecodeError{Field: "args", Msg: fmt.Sprintf("want array, got %T", raw)}
		}
		r.Args = args
	}
	if raw, ok := m["kwargs"]; ok && raw != nil {
		kwargs, ok := raw.(map[string]any)
		if !ok {
			return nil, &DecodeError{Field: "kwargs", Msg: fmt.Sprintf("want object, got %T", raw)}
		}
		r.Kwargs = kwargs
	}
	if raw, ok := m["context_snapshot"]; ok && raw != nil {
		snap, ok := raw.(map[string]any)
		if !ok {
			return nil, &DecodeError{Field: "context_snapshot", Msg: fmt.Sprintf("want object, got %T", raw)}
		}
		r.ContextSnapshot = snap
	}
	if raw, ok := m["dependencies"].([]any); ok {
		for i, entry := range raw {
			dep, ok := entry.(map[string]any)
			if !ok {
				return nil, &DecodeError{Field: fmt.Sprintf("dependencies[%d]", i), Msg: "want object"}
			}
			name, _ := dep["name"].(string)
			version, _ := dep["version"].(string)
			if name == "" {
				return nil, &DecodeError{Field: fmt.Sprintf("dependencies[%d].name", i), Msg: "missing"}
			}
			r.Dependencies = append(r.Dependencies, types.Dependency{Name: name, Version: version})
		}
	}
	return r, nil
}

// Map renders the response for the wire. A response whose value,
// metadata or context snapshot cannot cross the boundary is replaced by a
// non_serializable_result error response.
func (r *Response) Map() map[string]any {
	o := r.Outcome
	snapshot := r.ContextSnapshot
	if o.IsOK() {
		if err := CheckSerializable(o.Value); err != nil {
			o = types.Err(types.ErrorTypeNonSerializableResult, err.Error(), true, nil)
		}
	}
	if err := CheckSerializable(o.Metadata); err != nil {
		o = types.Err(types.ErrorTypeNonSerializableResult, "metadata: "+err.Error(), true, nil)
	}
	if err := CheckSerializable(snapshot); err != nil {
		o = types.Err(types.ErrorTypeNonSerializableResult, "context_snapshot: "+err.Error(), true, nil)
		snapshot = nil
	}

	msg := o.Envelope()
	msg["ipc_version"] = r.IPCVersion
	msg["call_id"] = r.CallID
	if snapshot != nil {
		msg["context_snapshot"] = snapshot
	}
	return msg
}

// ResponseFromMap reads a response. Unknown fields are tolerated; a
// missing status, or an ok status without value, is a *DecodeError.
func ResponseFromMap(m map[string]any) (*Response, error) {
	r := &Response{}
	r.IPCVersion, _ = m["ipc_version"].(string)
	r.CallID, _ = m["call_id"].(string)

	status, _ := m["status"].(string)
	if status == "" {
		return nil, &DecodeError{Field: "status", Msg: "missing"}
	}
	if status == string(types.OutcomeOK) {
		if _, ok := m["value"]; !ok {
			return nil, &DecodeError{Field: "value", Msg: "missing on ok response"}
		}
	}
	o, err := types.OutcomeFromEnvelope(m)
	if err != nil {
		return nil, &DecodeError{Field: "status", Msg: err.Error()}
	}
	r.Outcome = o

	if raw, ok := m["context_snapshot"].(map[string]any); ok {
		r.ContextSnapshot = raw
	}
	return r, nil
}

// Validate checks the response belongs to req and speaks version.
func (r *Response) Validate(version, callID string) error {
	if r.IPCVersion != version {
		return &ProtocolError{
			Msg: fmt.Sprintf("ipc_version %q, want %q", r.IPCVersion, version),
			Err: ErrVersionMismatch,
		}
	}
	if r.CallID != callID {
		return &ProtocolError{Msg: fmt.Sprintf("call_id mismatch: got %q, want %q", r.CallID, callID)}
	}
	return nil
}
