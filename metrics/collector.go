// Package metrics provides per-process metrics collection for the engine.
//
// The Collector accumulates counters across calls. It is a leaf package
// with no internal dependencies. All increment methods are nil-receiver
// safe so components can be constructed without a collector.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Calls
	CallsStarted int64
	CallsOK      int64
	CallsFailed  int64

	// Persisted artifact path
	CacheHits        int64
	CacheMisses      int64
	MissesByReason   map[string]int64
	RepairsAttempted int64
	RepairsSucceeded int64

	// Fresh generation loop
	FreshGenerations   int64
	GuardrailRetries   int64
	ExecutionRetries   int64
	OutcomeRetries     int64
	GuardrailExhausted int64
	OutcomeExhausted   int64
	TerminalViolations int64

	// Worker sandbox
	WorkerStarts    int64
	WorkerRestarts  int64
	WorkerCrashes   int64
	WorkerTimeouts  int64
	IPCDecodeErrors int64

	// Promotion lifecycle
	Transitions   int64
	TransitionsTo map[string]int64

	// Telemetry
	TelemetryWriteSuccess int64
	TelemetryWriteFailure int64

	// Dimensions (informational, set at construction)
	Role           string
	WorkerCodec    string
	StorageBackend string
}

// Collector accumulates metrics. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(role, workerCodec, storageBackend string) *Collector {
	return &Collector{s: Snapshot{
		MissesByReason: make(map[string]int64),
		TransitionsTo:  make(map[string]int64),
		Role:           role,
		WorkerCodec:    workerCodec,
		StorageBackend: storageBackend,
	}}
}

func (c *Collector) add(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Calls ---

// IncCallStarted records a dispatched call.
func (c *Collector) IncCallStarted() {
	if c == nil {
		return
	}
	c.add(&c.s.CallsStarted)
}

// IncCallOK records a call that produced an ok Outcome.
func (c *Collector) IncCallOK() {
	if c == nil {
		return
	}
	c.add(&c.s.CallsOK)
}

// IncCallFailed records a call that produced an error Outcome.
func (c *Collector) IncCallFailed() {
	if c == nil {
		return
	}
	c.add(&c.s.CallsFailed)
}

// --- Persisted artifact path ---

// IncCacheHit records a persisted artifact selected for execution.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.add(&c.s.CacheHits)
}

// IncCacheMiss records a selection miss with its reason.
func (c *Collector) IncCacheMiss(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.CacheMisses++
	c.s.MissesByReason[reason]++
	c.mu.Unlock()
}

// IncRepairAttempted records a persisted-artifact repair attempt.
func (c *Collector) IncRepairAttempted() {
	if c == nil {
		return
	}
	c.add(&c.s.RepairsAttempted)
}

// IncRepairSucceeded records a repair whose code then succeeded.
func (c *Collector) IncRepairSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.s.RepairsSucceeded)
}

// --- Fresh generation loop ---

// IncFreshGeneration records one generator request in the fresh loop.
func (c *Collector) IncFreshGeneration() {
	if c == nil {
		return
	}
	c.add(&c.s.FreshGenerations)
}

// IncGuardrailRetry records a retry after a recoverable violation.
func (c *Collector) IncGuardrailRetry() {
	if c == nil {
		return
	}
	c.add(&c.s.GuardrailRetries)
}

// IncExecutionRetry records a retry after a runtime exception.
func (c *Collector) IncExecutionRetry() {
	if c == nil {
		return
	}
	c.add(&c.s.ExecutionRetries)
}

// IncOutcomeRetry records a retry after a retriable error Outcome.
func (c *Collector) IncOutcomeRetry() {
	if c == nil {
		return
	}
	c.add(&c.s.OutcomeRetries)
}

// IncGuardrailExhausted records an exhausted guardrail lane.
func (c *Collector) IncGuardrailExhausted() {
	if c == nil {
		return
	}
	c.add(&c.s.GuardrailExhausted)
}

// IncOutcomeExhausted records an exhausted outcome-repair lane.
func (c *Collector) IncOutcomeExhausted() {
	if c == nil {
		return
	}
	c.add(&c.s.OutcomeExhausted)
}

// IncTerminalViolation records a terminal guardrail violation.
func (c *Collector) IncTerminalViolation() {
	if c == nil {
		return
	}
	c.add(&c.s.TerminalViolations)
}

// --- Worker sandbox ---

// IncWorkerStart records a worker subprocess start (including restarts).
func (c *Collector) IncWorkerStart() {
	if c == nil {
		return
	}
	c.add(&c.s.WorkerStarts)
}

// IncWorkerRestart records a restart after a crash or timeout.
func (c *Collector) IncWorkerRestart() {
	if c == nil {
		return
	}
	c.add(&c.s.WorkerRestarts)
}

// IncWorkerCrash records a worker exit observed mid-request.
func (c *Collector) IncWorkerCrash() {
	if c == nil {
		return
	}
	c.add(&c.s.WorkerCrashes)
}

// IncWorkerTimeout records a request that exceeded the worker timeout.
func (c *Collector) IncWorkerTimeout() {
	if c == nil {
		return
	}
	c.add(&c.s.WorkerTimeouts)
}

// IncIPCDecodeError records an undecodable worker response line.
func (c *Collector) IncIPCDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.s.IPCDecodeErrors)
}

// --- Promotion lifecycle ---

// IncTransition records a lifecycle transition into state.
func (c *Collector) IncTransition(state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.Transitions++
	c.s.TransitionsTo[state]++
	c.mu.Unlock()
}

// --- Telemetry ---
// Telemetry counters are per write call, not per record.

// IncTelemetryWriteSuccess records a successful telemetry write.
func (c *Collector) IncTelemetryWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.s.TelemetryWriteSuccess)
}

// IncTelemetryWriteFailure records a failed telemetry write.
func (c *Collector) IncTelemetryWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.s.TelemetryWriteFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.s
	s.MissesByReason = maps.Clone(c.s.MissesByReason)
	s.TransitionsTo = maps.Clone(c.s.TransitionsTo)
	return s
}
