package lode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSummarize(t *testing.T) {
	rows := []CallRow{
		{Role: "math", Method: "divide", Status: "error", ErrorType: "execution_error", Path: PathFresh, Attempts: 3, DurationMS: 30},
		{Role: "math", Method: "add", Status: "ok", Path: PathFresh, Attempts: 2, DurationMS: 10},
		{Role: "math", Method: "add", Status: "ok", Path: PathCacheHit, DurationMS: 2},
		{Role: "math", Method: "add", Status: "error", ErrorType: "timeout", Path: PathRepair, DurationMS: 6},
	}

	want := []CallSummary{
		{
			Role: "math", Method: "add", Calls: 3, OK: 2, Errors: 1,
			CacheHits: 1, Repairs: 1, Fresh: 1,
			ErrorTypes:     map[string]int{"timeout": 1},
			MeanDurationMS: 6,
			MaxAttempts:    2,
		},
		{
			Role: "math", Method: "divide", Calls: 1, Errors: 1, Fresh: 1,
			ErrorTypes:     map[string]int{"execution_error": 1},
			MeanDurationMS: 30,
			MaxAttempts:    3,
		},
	}
	got := Summarize(rows)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize (-want +got):\n%s", diff)
	}
	if r := got[0].SuccessRate(); r < 0.66 || r > 0.67 {
		t.Errorf("SuccessRate = %v", r)
	}
	if len(Summarize(nil)) != 0 {
		t.Error("summary of no rows")
	}
}
