package lode

import (
	"context"

	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/policy"
	"github.com/pithecene-io/kiln/types"
)

// InstrumentedSink wraps a policy.Sink and counts each Write as a
// telemetry write success or failure.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// Write delegates to the inner sink and records the result.
func (s *InstrumentedSink) Write(ctx context.Context, records []*types.TelemetryRecord) error {
	err := s.inner.Write(ctx, records)
	if err != nil {
		s.collector.IncTelemetryWriteFailure()
	} else {
		s.collector.IncTelemetryWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ policy.Sink = (*InstrumentedSink)(nil)
