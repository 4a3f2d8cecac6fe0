package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/types"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount triggers a flush once N records are buffered.
	// Zero disables the count trigger.
	FlushCount int

	// FlushInterval triggers a flush every interval.
	// Zero disables the interval trigger.
	FlushInterval time.Duration

	// Logger is optional.
	Logger *log.Logger
}

// FlushTrigger identifies what caused a streaming flush.
type FlushTrigger string

// Flush triggers.
const (
	FlushTriggerCount       FlushTrigger = "count"
	FlushTriggerInterval    FlushTrigger = "interval"
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when no flush trigger is set.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy persists continuously in small batches.
//
// Nothing is dropped. Records accumulate until the count or interval
// trigger fires; the buffer is swapped out under mu and written outside
// it, so ingestion continues during a write. A failed write puts the batch
// back in front of newer records.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu          sync.Mutex
	buffer      []*types.TelemetryRecord
	bufferBytes int64
	stats       *statsRecorder
	byTrigger   map[FlushTrigger]int64
	stopped     bool

	flushMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
}

// NewStreamingPolicy creates a streaming policy. An interval trigger starts
// a background goroutine that Close stops.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}
	p := &StreamingPolicy{
		sink:      sink,
		config:    config,
		logger:    config.Logger,
		stats:     newStatsRecorder(),
		byTrigger: make(map[FlushTrigger]int64),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.intervalLoop()
	} else {
		close(p.done)
	}
	return p, nil
}

// Ingest buffers the record and flushes when the count trigger fires.
func (p *StreamingPolicy) Ingest(ctx context.Context, record *types.TelemetryRecord) error {
	p.mu.Lock()
	p.stats.incTotal()
	p.buffer = append(p.buffer, record)
	p.bufferBytes += estimateSize(record)
	p.stats.setBufferSize(p.bufferBytes)
	full := p.config.FlushCount > 0 && len(p.buffer) >= p.config.FlushCount
	p.mu.Unlock()

	if full {
		return p.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything buffered.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.byTrigger[trigger]++
	p.stats.incFlush()
	batch := p.buffer
	if len(batch) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.buffer = nil
	p.bufferBytes = 0
	p.stats.setBufferSize(0)
	p.mu.Unlock()

	if err := p.sink.Write(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrors()
		p.buffer = append(batch, p.buffer...)
		var total int64
		for _, r := range p.buffer {
			total += estimateSize(r)
		}
		p.bufferBytes = total
		p.stats.setBufferSize(total)
		p.mu.Unlock()
		p.logFlushFailure(trigger, len(batch), err)
		return err
	}

	p.mu.Lock()
	p.stats.incPersisted(len(batch))
	p.mu.Unlock()
	p.logFlush(trigger, len(batch))
	return nil
}

// Close stops the interval goroutine, flushes and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	<-p.done

	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot of policy statistics.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshot()
}

// FlushTriggerStats returns flush counts per trigger.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.byTrigger[FlushTriggerCount],
		FlushTriggerInterval:    p.byTrigger[FlushTriggerInterval],
		FlushTriggerTermination: p.byTrigger[FlushTriggerTermination],
	}
}

func (p *StreamingPolicy) intervalLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			pending := len(p.buffer) > 0
			p.mu.Unlock()
			if pending {
				// Failures are logged and retried on the next tick.
				_ = p.flush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *StreamingPolicy) logFlush(trigger FlushTrigger, n int) {
	if p.logger == nil {
		return
	}
	p.logger.Debug("telemetry flush", map[string]any{
		"trigger": string(trigger),
		"records": n,
		"policy":  NameStreaming,
	})
}

func (p *StreamingPolicy) logFlushFailure(trigger FlushTrigger, n int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("telemetry flush failed", map[string]any{
		"trigger": string(trigger),
		"records": n,
		"error":   err.Error(),
		"policy":  NameStreaming,
	})
}

var _ Policy = (*StreamingPolicy)(nil)
