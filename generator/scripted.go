package generator

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/kiln/types"
)

// Step is one scripted generator answer.
type Step struct {
	Program types.Program
	Err     error
}

// Code returns a step answering with code and no dependencies.
func Code(code string) Step {
	return Step{Program: types.Program{Code: code}}
}

// Scripted answers requests from a fixed sequence of steps. The last step
// repeats once the sequence is used up. Requests are recorded.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	requests []Request
}

// NewScripted creates a scripted generator.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Generate returns the next step.
func (s *Scripted) Generate(_ context.Context, req Request) (types.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return types.Program{}, errors.New("scripted generator has no steps")
	}
	i := min(s.next, len(s.steps)-1)
	s.next++
	step := s.steps[i]
	return step.Program, step.Err
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns the number of Generate calls.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
