package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/kiln/snapshot"
	"github.com/pithecene-io/kiln/types"
)

// Session is the execution context of a call tree: the working state
// generated programs read and mutate, and the stack of active call frames.
// Concurrent calls use distinct sessions; nested calls share their
// parent's.
type Session struct {
	ID    string
	State *snapshot.WorkingState

	mu     sync.Mutex
	frames []*types.CallFrame
}

// NewSession creates a session whose working state starts as a copy of
// initial.
func NewSession(initial map[string]any) *Session {
	return &Session{
		ID:    uuid.NewString(),
		State: snapshot.NewWorkingState(initial),
	}
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// push opens a frame under the current one, marking the parent as having
// a child call. A push on an empty stack starts a new trace.
func (s *Session) push() *types.CallFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := &types.CallFrame{CallID: uuid.NewString()}
	if n := len(s.frames); n > 0 {
		parent := s.frames[n-1]
		parent.HadChildCalls = true
		frame.TraceID = parent.TraceID
		frame.ParentCallID = parent.CallID
		frame.Depth = parent.Depth + 1
	} else {
		frame.TraceID = uuid.NewString()
	}
	s.frames = append(s.frames, frame)
	return frame
}

// pop closes frame and anything opened above it.
func (s *Session) pop(frame *types.CallFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == frame {
			clear(s.frames[i:])
			s.frames = s.frames[:i]
			return
		}
	}
}

// Current returns the innermost active frame, or nil.
func (s *Session) Current() *types.CallFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of active frames.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
