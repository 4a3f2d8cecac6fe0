// Package policy defines how telemetry records reach their sink.
//
// Call and promotion records are never dropped. Attempt records are
// diagnostics and may be dropped by the buffered policy under pressure.
package policy

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/kiln/types"
)

// Policy controls buffering, dropping and persistence of telemetry records.
type Policy interface {
	// Ingest handles one record. Returning an error means a
	// non-droppable record could not be accepted.
	Ingest(ctx context.Context, record *types.TelemetryRecord) error

	// Flush writes any buffered records.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// TotalRecords is the number of records received.
	TotalRecords int64
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64
	// RecordsDropped is the number of records dropped.
	RecordsDropped int64
	// DroppedByKind maps record kinds to drop counts.
	DroppedByKind map[types.RecordKind]int64
	// BufferSize is the estimated buffer size in bytes.
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the number of failed sink writes or rejected records.
	Errors int64
}

// Names accepted by New.
const (
	NameStrict    = "strict"
	NameBuffered  = "buffered"
	NameStreaming = "streaming"
	NameNoop      = "noop"
)

// statsRecorder holds counters behind the owning policy's mutex.
// Every method requires the caller to hold that mutex.
type statsRecorder struct {
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: Stats{DroppedByKind: make(map[types.RecordKind]int64)}}
}

func (r *statsRecorder) incTotal()                { r.stats.TotalRecords++ }
func (r *statsRecorder) incPersisted(n int)       { r.stats.RecordsPersisted += int64(n) }
func (r *statsRecorder) incErrors()               { r.stats.Errors++ }
func (r *statsRecorder) incFlush()                { r.stats.FlushCount++ }
func (r *statsRecorder) setBufferSize(size int64) { r.stats.BufferSize = size }

func (r *statsRecorder) incDropped(kind types.RecordKind) {
	r.stats.RecordsDropped++
	r.stats.DroppedByKind[kind]++
}

func (r *statsRecorder) snapshot() Stats {
	s := r.stats
	s.DroppedByKind = maps.Clone(r.stats.DroppedByKind)
	return s
}

// estimateSize is a rough byte estimate used for buffer limits.
func estimateSize(record *types.TelemetryRecord) int64 {
	return 200 + int64(len(record.Payload)*50)
}

// lockedStats is embedded by the unbuffered policies.
type lockedStats struct {
	mu    sync.Mutex
	stats *statsRecorder
}

func (l *lockedStats) update(fn func(*statsRecorder)) {
	l.mu.Lock()
	fn(l.stats)
	l.mu.Unlock()
}

// Stats returns policy statistics.
func (l *lockedStats) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.snapshot()
}
