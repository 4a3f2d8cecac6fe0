package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of buffered records.
	// Zero means no count limit.
	MaxBufferRecords int

	// MaxBufferBytes is the maximum estimated buffer size.
	// Zero means no byte limit. At least one limit must be set.
	MaxBufferBytes int64

	// Logger is optional.
	Logger *log.Logger
}

// DefaultBufferedConfig returns the default buffered limits.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferRecords: 1000,
		MaxBufferBytes:   4 << 20,
	}
}

// ErrBufferFull is returned when a non-droppable record does not fit.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable record")

// ErrInvalidConfig is returned when neither buffer limit is set.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferRecords or MaxBufferBytes must be set")

// BufferedPolicy batches records in a bounded buffer and writes them on
// Flush.
//
// When the buffer is full an incoming attempt record is dropped. An
// incoming call or promotion record evicts the oldest attempt record; if
// none is buffered, Ingest fails with ErrBufferFull. A failed flush keeps
// the buffer, so a retry may write a record twice but never loses one.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex
	buffer      []*types.TelemetryRecord
	bufferBytes int64
	stats       *statsRecorder

	// flushMu serializes flushes.
	flushMu sync.Mutex
}

// NewBufferedPolicy creates a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make([]*types.TelemetryRecord, 0, min(max(config.MaxBufferRecords, 16), 1024)),
		stats:  newStatsRecorder(),
	}, nil
}

// Ingest buffers the record, applying drop rules when the buffer is full.
func (p *BufferedPolicy) Ingest(_ context.Context, record *types.TelemetryRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotal()
	size := estimateSize(record)

	if p.hasRoom(size) {
		p.append(record, size)
		return nil
	}

	if record.Kind.Droppable() {
		p.stats.incDropped(record.Kind)
		p.logDrop(record, "buffer_full")
		return nil
	}

	for p.evictOldestDroppable() {
		if p.hasRoom(size) {
			p.append(record, size)
			return nil
		}
	}

	p.stats.incErrors()
	p.logOverflow(record)
	return ErrBufferFull
}

// Flush writes the buffer to the sink. On failure the records stay
// buffered ahead of anything ingested meanwhile.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.incFlush()
	batch := p.buffer
	if len(batch) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.buffer = make([]*types.TelemetryRecord, 0, cap(batch))
	p.recalculate()
	p.mu.Unlock()

	if err := p.sink.Write(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrors()
		p.buffer = append(batch, p.buffer...)
		p.recalculate()
		p.mu.Unlock()
		p.logFlushFailure(len(batch), err)
		return err
	}

	p.mu.Lock()
	p.stats.incPersisted(len(batch))
	p.mu.Unlock()
	return nil
}

// Close flushes what it can and closes the sink.
func (p *BufferedPolicy) Close() error {
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot of policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshot()
}

func (p *BufferedPolicy) hasRoom(size int64) bool {
	if p.config.MaxBufferRecords > 0 && len(p.buffer) >= p.config.MaxBufferRecords {
		return false
	}
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+size > p.config.MaxBufferBytes {
		return false
	}
	return true
}

func (p *BufferedPolicy) append(record *types.TelemetryRecord, size int64) {
	p.buffer = append(p.buffer, record)
	p.bufferBytes += size
	p.stats.setBufferSize(p.bufferBytes)
}

// evictOldestDroppable removes the oldest droppable record. Caller must
// hold mu.
func (p *BufferedPolicy) evictOldestDroppable() bool {
	for i, r := range p.buffer {
		if !r.Kind.Droppable() {
			continue
		}
		p.buffer = append(p.buffer[:i], p.buffer[i+1:]...)
		p.bufferBytes -= estimateSize(r)
		p.stats.setBufferSize(p.bufferBytes)
		p.stats.incDropped(r.Kind)
		p.logDrop(r, "evicted_for_non_droppable")
		return true
	}
	return false
}

func (p *BufferedPolicy) recalculate() {
	var total int64
	for _, r := range p.buffer {
		total += estimateSize(r)
	}
	p.bufferBytes = total
	p.stats.setBufferSize(total)
}

func (p *BufferedPolicy) logDrop(record *types.TelemetryRecord, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("telemetry record dropped", map[string]any{
		"record_kind": string(record.Kind),
		"role":        record.Role,
		"method":      record.Method,
		"reason":      reason,
		"policy":      NameBuffered,
	})
}

func (p *BufferedPolicy) logOverflow(record *types.TelemetryRecord) {
	if p.logger == nil {
		return
	}
	p.logger.Error("telemetry buffer overflow", map[string]any{
		"record_kind": string(record.Kind),
		"policy":      NameBuffered,
	})
}

func (p *BufferedPolicy) logFlushFailure(n int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("telemetry flush failed", map[string]any{
		"records": n,
		"error":   err.Error(),
		"policy":  NameBuffered,
	})
}

var _ Policy = (*BufferedPolicy)(nil)
