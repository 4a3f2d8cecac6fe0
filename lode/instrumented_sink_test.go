package lode

import (
	"errors"
	"testing"

	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/policy"
	"github.com/pithecene-io/kiln/types"
)

func TestInstrumentedSink(t *testing.T) {
	inner := policy.NewStubSink()
	collector := metrics.NewCollector("math", "json", "fs")
	sink := NewInstrumentedSink(inner, collector)
	batch := []*types.TelemetryRecord{callRecord("c1", "add", "ok", PathFresh, day1)}

	if err := sink.Write(t.Context(), batch); err != nil {
		t.Fatal(err)
	}
	inner.SetErr(errors.New("disk full"))
	if err := sink.Write(t.Context(), batch); err == nil {
		t.Fatal("expected error")
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	snap := collector.Snapshot()
	if snap.TelemetryWriteSuccess != 1 || snap.TelemetryWriteFailure != 1 {
		t.Errorf("success = %d, failure = %d", snap.TelemetryWriteSuccess, snap.TelemetryWriteFailure)
	}
	if !inner.Closed {
		t.Error("inner sink not closed")
	}
}
