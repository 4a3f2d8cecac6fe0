package lode

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/kiln/types"
)

// CallFilter narrows QueryCalls. Empty fields match everything.
type CallFilter struct {
	Role   string
	Method string
	// Day is YYYY-MM-DD.
	Day string
}

// CallRow is a call record read back from the dataset.
type CallRow struct {
	Role       string
	Method     string
	TraceID    string
	CallID     string
	At         time.Time
	Path       string
	Status     string
	ErrorType  string
	Checksum   string
	Attempts   int
	DurationMS float64
}

// QueryCalls reads call records matching f, oldest first. Rows repeated
// across snapshots are returned once.
func QueryCalls(ctx context.Context, ds lode.Dataset, f CallFilter) ([]CallRow, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, ds.ID()+"/snapshots")
	}

	seen := make(map[string]struct{})
	var rows []CallRow
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "record_kind", string(types.RecordKindCall)) ||
			!snapshotMatches(snap, "role", f.Role) ||
			!snapshotMatches(snap, "method", f.Method) ||
			!snapshotMatches(snap, "day", f.Day) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		// Manifest paths are a coarse filter; record fields decide.
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || toString(m["record_kind"]) != string(types.RecordKindCall) {
				continue
			}
			row := toCallRow(m)
			if (f.Role != "" && row.Role != f.Role) ||
				(f.Method != "" && row.Method != f.Method) ||
				(f.Day != "" && toString(m["day"]) != f.Day) {
				continue
			}
			if row.CallID != "" {
				if _, dup := seen[row.CallID]; dup {
					continue
				}
				seen[row.CallID] = struct{}{}
			}
			rows = append(rows, row)
		}
	}
	slices.SortStableFunc(rows, func(a, b CallRow) int { return a.At.Compare(b.At) })
	return rows, nil
}

func toCallRow(m map[string]any) CallRow {
	payload, _ := m["payload"].(map[string]any)
	at, _ := time.Parse(time.RFC3339Nano, toString(m["ts"]))
	return CallRow{
		Role:       toString(m["role"]),
		Method:     toString(m["method"]),
		TraceID:    toString(m["trace_id"]),
		CallID:     toString(m["call_id"]),
		At:         at,
		Path:       toString(payload["path"]),
		Status:     toString(payload["status"]),
		ErrorType:  toString(payload["error_type"]),
		Checksum:   toString(payload["checksum"]),
		Attempts:   int(toFloat(payload["attempts"])),
		DurationMS: toFloat(payload["duration_ms"]),
	}
}

// CallSummary aggregates call rows for one capability.
type CallSummary struct {
	Role       string
	Method     string
	Calls      int
	OK         int
	Errors     int
	CacheHits  int
	Repairs    int
	Fresh      int
	ErrorTypes map[string]int
	// MeanDurationMS is the mean call latency.
	MeanDurationMS float64
	MaxAttempts    int
}

// SuccessRate is OK/Calls, or 0 with no calls.
func (s CallSummary) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.OK) / float64(s.Calls)
}

// Summarize groups rows by role and method, sorted by role then method.
func Summarize(rows []CallRow) []CallSummary {
	index := make(map[[2]string]*CallSummary)
	totalMS := make(map[[2]string]float64)
	for _, r := range rows {
		key := [2]string{r.Role, r.Method}
		s, ok := index[key]
		if !ok {
			s = &CallSummary{Role: r.Role, Method: r.Method, ErrorTypes: make(map[string]int)}
			index[key] = s
		}
		s.Calls++
		if r.Status == string(types.OutcomeOK) {
			s.OK++
		} else {
			s.Errors++
			if r.ErrorType != "" {
				s.ErrorTypes[r.ErrorType]++
			}
		}
		switch r.Path {
		case PathCacheHit:
			s.CacheHits++
		case PathRepair:
			s.Repairs++
		case PathFresh:
			s.Fresh++
		}
		s.MaxAttempts = max(s.MaxAttempts, r.Attempts)
		totalMS[key] += r.DurationMS
	}

	out := make([]CallSummary, 0, len(index))
	for key, s := range index {
		s.MeanDurationMS = totalMS[key] / float64(s.Calls)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b CallSummary) int {
		return cmp.Or(cmp.Compare(a.Role, b.Role), cmp.Compare(a.Method, b.Method))
	})
	return out
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// toFloat reads a JSON number, which decodes as float64.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
