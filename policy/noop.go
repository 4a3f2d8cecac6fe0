package policy

import (
	"context"

	"github.com/pithecene-io/kiln/types"
)

// NoopPolicy accepts records without persisting them.
//
// Droppable records count as dropped; the rest count as persisted so stats
// keep the same shape as a real policy.
type NoopPolicy struct {
	lockedStats
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{lockedStats: lockedStats{stats: newStatsRecorder()}}
}

// Ingest counts the record.
func (p *NoopPolicy) Ingest(_ context.Context, record *types.TelemetryRecord) error {
	p.update(func(s *statsRecorder) {
		s.incTotal()
		if record.Kind.Droppable() {
			s.incDropped(record.Kind)
		} else {
			s.incPersisted(1)
		}
	})
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.update(func(s *statsRecorder) { s.incFlush() })
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error { return nil }

var _ Policy = (*NoopPolicy)(nil)
