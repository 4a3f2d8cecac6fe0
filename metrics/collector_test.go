package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("calculator", "json", "fs")

	c.IncCallStarted()
	c.IncCallStarted()
	c.IncCallOK()
	c.IncCallFailed()
	c.IncCacheHit()
	c.IncRepairAttempted()
	c.IncRepairAttempted()
	c.IncRepairSucceeded()
	c.IncFreshGeneration()
	c.IncGuardrailRetry()
	c.IncExecutionRetry()
	c.IncOutcomeRetry()
	c.IncOutcomeRetry()
	c.IncGuardrailExhausted()
	c.IncOutcomeExhausted()
	c.IncTerminalViolation()
	c.IncWorkerStart()
	c.IncWorkerRestart()
	c.IncWorkerCrash()
	c.IncWorkerTimeout()
	c.IncIPCDecodeError()
	c.IncTelemetryWriteSuccess()
	c.IncTelemetryWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"CallsStarted", s.CallsStarted, 2},
		{"CallsOK", s.CallsOK, 1},
		{"CallsFailed", s.CallsFailed, 1},
		{"CacheHits", s.CacheHits, 1},
		{"RepairsAttempted", s.RepairsAttempted, 2},
		{"RepairsSucceeded", s.RepairsSucceeded, 1},
		{"FreshGenerations", s.FreshGenerations, 1},
		{"GuardrailRetries", s.GuardrailRetries, 1},
		{"ExecutionRetries", s.ExecutionRetries, 1},
		{"OutcomeRetries", s.OutcomeRetries, 2},
		{"GuardrailExhausted", s.GuardrailExhausted, 1},
		{"OutcomeExhausted", s.OutcomeExhausted, 1},
		{"TerminalViolations", s.TerminalViolations, 1},
		{"WorkerStarts", s.WorkerStarts, 1},
		{"WorkerRestarts", s.WorkerRestarts, 1},
		{"WorkerCrashes", s.WorkerCrashes, 1},
		{"WorkerTimeouts", s.WorkerTimeouts, 1},
		{"IPCDecodeErrors", s.IPCDecodeErrors, 1},
		{"TelemetryWriteSuccess", s.TelemetryWriteSuccess, 1},
		{"TelemetryWriteFailure", s.TelemetryWriteFailure, 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("calculator", "msgpack", "s3")
	s := c.Snapshot()

	if s.Role != "calculator" {
		t.Errorf("Role = %q, want %q", s.Role, "calculator")
	}
	if s.WorkerCodec != "msgpack" {
		t.Errorf("WorkerCodec = %q, want %q", s.WorkerCodec, "msgpack")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
}

func TestCollector_CacheMissReasons(t *testing.T) {
	c := NewCollector("calculator", "json", "fs")

	c.IncCacheMiss("no_artifact")
	c.IncCacheMiss("checksum_mismatch")
	c.IncCacheMiss("no_artifact")

	s := c.Snapshot()
	if s.CacheMisses != 3 {
		t.Errorf("CacheMisses = %d, want 3", s.CacheMisses)
	}
	if s.MissesByReason["no_artifact"] != 2 {
		t.Errorf("MissesByReason[no_artifact] = %d, want 2", s.MissesByReason["no_artifact"])
	}
	if s.MissesByReason["checksum_mismatch"] != 1 {
		t.Errorf("MissesByReason[checksum_mismatch] = %d, want 1", s.MissesByReason["checksum_mismatch"])
	}
}

func TestCollector_Transitions(t *testing.T) {
	c := NewCollector("calculator", "json", "fs")

	c.IncTransition("probation")
	c.IncTransition("promoted")
	c.IncTransition("promoted")

	s := c.Snapshot()
	if s.Transitions != 3 {
		t.Errorf("Transitions = %d, want 3", s.Transitions)
	}
	if s.TransitionsTo["promoted"] != 2 {
		t.Errorf("TransitionsTo[promoted] = %d, want 2", s.TransitionsTo["promoted"])
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("calculator", "json", "fs")
	c.IncCallStarted()
	c.IncCacheMiss("no_artifact")

	s1 := c.Snapshot()

	c.IncCallStarted()
	c.IncCacheMiss("no_artifact")

	if s1.CallsStarted != 1 {
		t.Errorf("snapshot mutated: CallsStarted = %d, want 1", s1.CallsStarted)
	}
	if s1.MissesByReason["no_artifact"] != 1 {
		t.Errorf("snapshot map mutated: no_artifact = %d, want 1", s1.MissesByReason["no_artifact"])
	}

	s1.TransitionsTo["promoted"] = 99
	if got := c.Snapshot().TransitionsTo["promoted"]; got != 0 {
		t.Errorf("collector map shared with snapshot: promoted = %d, want 0", got)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncCallStarted()
	c.IncCallOK()
	c.IncCallFailed()
	c.IncCacheHit()
	c.IncCacheMiss("no_artifact")
	c.IncRepairAttempted()
	c.IncFreshGeneration()
	c.IncGuardrailRetry()
	c.IncWorkerCrash()
	c.IncIPCDecodeError()
	c.IncTransition("promoted")
	c.IncTelemetryWriteFailure()

	s := c.Snapshot()
	if s.CallsStarted != 0 {
		t.Errorf("nil collector snapshot CallsStarted = %d, want 0", s.CallsStarted)
	}
	if s.MissesByReason != nil {
		t.Errorf("nil collector snapshot MissesByReason should be nil, got %v", s.MissesByReason)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("calculator", "json", "fs")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncCallStarted()
				c.IncCacheMiss("no_artifact")
				c.IncTransition("probation")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.CallsStarted != want {
		t.Errorf("CallsStarted = %d, want %d", s.CallsStarted, want)
	}
	if s.MissesByReason["no_artifact"] != want {
		t.Errorf("MissesByReason[no_artifact] = %d, want %d", s.MissesByReason["no_artifact"], want)
	}
	if s.TransitionsTo["probation"] != want {
		t.Errorf("TransitionsTo[probation] = %d, want %d", s.TransitionsTo["probation"], want)
	}
}
