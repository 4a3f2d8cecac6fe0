package policy

import (
	"context"

	"github.com/pithecene-io/kiln/types"
)

// StrictPolicy writes every record synchronously.
//
// Nothing is buffered or dropped; the caller blocks on sink latency and
// sees every sink error.
type StrictPolicy struct {
	lockedStats
	sink Sink
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{lockedStats: lockedStats{stats: newStatsRecorder()}, sink: sink}
}

// Ingest writes the record immediately.
func (p *StrictPolicy) Ingest(ctx context.Context, record *types.TelemetryRecord) error {
	p.update(func(s *statsRecorder) { s.incTotal() })

	if err := p.sink.Write(ctx, []*types.TelemetryRecord{record}); err != nil {
		p.update(func(s *statsRecorder) { s.incErrors() })
		return err
	}
	p.update(func(s *statsRecorder) { s.incPersisted(1) })
	return nil
}

// Flush is a no-op beyond counting.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.update(func(s *statsRecorder) { s.incFlush() })
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

var _ Policy = (*StrictPolicy)(nil)
