package policy_test

import (
	"time"

	"github.com/pithecene-io/kiln/types"
)

func record(kind types.RecordKind, call string) *types.TelemetryRecord {
	return &types.TelemetryRecord{
		Kind:    kind,
		Role:    "math",
		Method:  "add",
		CallID:  call,
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{"status": "ok"},
	}
}

func callIDs(records []*types.TelemetryRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.CallID
	}
	return ids
}
