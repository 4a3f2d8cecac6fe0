package types

import (
	"errors"
	"fmt"
)

// CallFrame is the identity and lineage of one dispatched call.
// Frames are read-only after creation except HadChildCalls, which nested
// calls set on their parent.
type CallFrame struct {
	// TraceID is shared by every frame of one top-level call tree.
	TraceID string
	// CallID is unique per dispatched call.
	CallID string
	// ParentCallID is empty for top-level calls.
	ParentCallID string
	// Depth is 0 for top-level calls.
	Depth int
	// HadChildCalls is set once a nested call is dispatched under this frame.
	HadChildCalls bool
}

// Validate checks lineage rules:
//   - trace_id and call_id are non-empty
//   - depth >= 0
//   - depth == 0 => parent_call_id must be empty
//   - depth > 0 => parent_call_id must be present
func (f *CallFrame) Validate() error {
	if f.TraceID == "" {
		return errors.New("trace_id must be non-empty")
	}
	if f.CallID == "" {
		return errors.New("call_id must be non-empty")
	}
	if f.Depth < 0 {
		return fmt.Errorf("depth must be >= 0, got %d", f.Depth)
	}
	if f.Depth == 0 && f.ParentCallID != "" {
		return errors.New("top-level call (depth=0) must not have parent_call_id")
	}
	if f.Depth > 0 && f.ParentCallID == "" {
		return fmt.Errorf("nested call (depth=%d) must have parent_call_id", f.Depth)
	}
	return nil
}

// TopLevel reports whether this frame is a depth-0 call.
func (f *CallFrame) TopLevel() bool { return f.Depth == 0 }
