package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/kiln/types"
)

// Sink abstracts persistence for policies.
// Writes are batch-oriented so strict (batch of 1) and buffered policies
// share one interface.
type Sink interface {
	// Write persists a batch of records, preserving order.
	Write(ctx context.Context, records []*types.TelemetryRecord) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink records writes in memory for tests.
type StubSink struct {
	mu sync.Mutex

	// Records holds every record written, in order.
	Records []*types.TelemetryRecord
	// Batches is the number of Write calls that succeeded.
	Batches int
	// Closed reports whether Close was called.
	Closed bool
	// Err, if non-nil, is returned by Write.
	Err error
}

// NewStubSink creates an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Write records the batch unless Err is set.
func (s *StubSink) Write(_ context.Context, records []*types.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Batches++
	s.Records = append(s.Records, records...)
	return nil
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SetErr sets the error returned by subsequent writes.
func (s *StubSink) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Written returns a copy of the written records.
func (s *StubSink) Written() []*types.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.TelemetryRecord(nil), s.Records...)
}

// Kinds returns the kinds of the written records, in order.
func (s *StubSink) Kinds() []types.RecordKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]types.RecordKind, len(s.Records))
	for i, r := range s.Records {
		kinds[i] = r.Kind
	}
	return kinds
}
