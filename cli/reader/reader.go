package reader

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/lode"
)

// shortChecksum is the checksum prefix shown in listings.
const shortChecksum = 12

// Reader reads artifact documents for the CLI.
type Reader struct {
	store *artifact.Store
}

// New creates a reader over store.
func New(store *artifact.Store) *Reader {
	return &Reader{store: store}
}

// List returns one row per artifact, sorted by role and method.
// Documents that fail to load are skipped.
func (r *Reader) List(role string) ([]ArtifactRow, error) {
	keys, err := r.store.List()
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	rows := make([]ArtifactRow, 0, len(keys))
	for _, k := range keys {
		if role != "" && k.Role != role {
			continue
		}
		a, err := r.store.Load(k.Role, k.Method)
		if err != nil {
			continue
		}
		rows = append(rows, ArtifactRow{
			Role:              a.Role,
			Method:            a.MethodName,
			State:             string(a.State()),
			Checksum:          short(a.CodeChecksum),
			Successes:         a.SuccessCount,
			Failures:          a.FailureCount,
			RecentFailureRate: a.RecentFailureRate,
			Cacheable:         cacheable(a.Cacheable),
			UpdatedAt:         a.UpdatedAt,
		})
	}
	return rows, nil
}

// Inspect returns the full view of one artifact.
func (r *Reader) Inspect(role, method string) (*InspectArtifactResponse, error) {
	a, err := r.store.Load(role, method)
	if err != nil {
		return nil, err
	}

	resp := &InspectArtifactResponse{
		Role:            a.Role,
		Method:          a.MethodName,
		SchemaVersion:   a.SchemaVersion,
		Checksum:        a.CodeChecksum,
		ChecksumValid:   a.ChecksumValid(),
		State:           string(a.State()),
		Incumbent:       a.Lifecycle.IncumbentDurableChecksum,
		RuntimeVersion:  a.RuntimeVersion,
		PromptVersion:   a.PromptVersion,
		Model:           a.Model,
		Cacheable:       cacheable(a.Cacheable),
		CacheableReason: a.CacheableReason,
		InputSensitive:  a.InputSensitive,
		Successes:       a.SuccessCount,
		Failures:        a.FailureCount,
		FailuresByClass: map[string]int{
			"extrinsic": a.FailuresByClass.Extrinsic,
			"adaptive":  a.FailuresByClass.Adaptive,
			"intrinsic": a.FailuresByClass.Intrinsic,
		},
		RecentFailureRate:     a.RecentFailureRate,
		RepairCountSinceRegen: a.RepairCountSinceRegen,
		Versions:              []VersionRow{},
		Generations:           []GenerationRow{},
		Code:                  a.Code,
		UpdatedAt:             a.UpdatedAt,
	}
	for _, d := range a.Dependencies {
		resp.Dependencies = append(resp.Dependencies, d.String())
	}

	for sum, v := range a.Versions {
		row := VersionRow{
			Checksum:   short(sum),
			Current:    sum == a.CodeChecksum,
			Trigger:    v.Trigger,
			LastUsedAt: v.LastUsedAt,
		}
		if e := a.Lifecycle.Entries[sum]; e != nil {
			row.State = string(e.State)
		}
		if sc := a.Scorecards[sum]; sc != nil {
			row.Calls = sc.Calls
			row.Successes = sc.Successes
			row.Sessions = sc.Sessions()
			row.ContractPassRate = sc.ContractPassRate()
		}
		resp.Versions = append(resp.Versions, row)
	}
	slices.SortFunc(resp.Versions, func(x, y VersionRow) int {
		return y.LastUsedAt.Compare(x.LastUsedAt)
	})

	for _, g := range a.GenerationHistory {
		resp.Generations = append(resp.Generations, GenerationRow{
			At:           g.At,
			Trigger:      g.Trigger,
			Checksum:     short(g.CodeChecksum),
			FailureClass: string(g.FailureClass),
			FailureType:  g.FailureType,
		})
	}
	return resp, nil
}

// Ledger returns the promotion decisions of one artifact, oldest first.
func (r *Reader) Ledger(role, method string) ([]LedgerRow, error) {
	a, err := r.store.Load(role, method)
	if err != nil {
		return nil, err
	}
	rows := make([]LedgerRow, 0, len(a.Lifecycle.Ledger))
	for _, e := range a.Lifecycle.Ledger {
		rows = append(rows, LedgerRow{
			At:            e.At,
			Checksum:      short(e.Checksum),
			From:          string(e.From),
			To:            string(e.To),
			Decision:      e.Decision,
			PolicyVersion: e.PolicyVersion,
			Enforcement:   e.Enforcement,
			Calls:         asInt(e.Rationale["calls"]),
		})
	}
	return rows, nil
}

// CallStats summarizes the call records in ds matching f.
func CallStats(ctx context.Context, ds lodelib.Dataset, f lode.CallFilter) ([]CallStatsRow, error) {
	calls, err := lode.QueryCalls(ctx, ds, f)
	if err != nil {
		return nil, err
	}
	summaries := lode.Summarize(calls)
	rows := make([]CallStatsRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, CallStatsRow{
			Role:        s.Role,
			Method:      s.Method,
			Calls:       s.Calls,
			OK:          s.OK,
			Errors:      s.Errors,
			SuccessRate: s.SuccessRate(),
			CacheHits:   s.CacheHits,
			Repairs:     s.Repairs,
			Fresh:       s.Fresh,
			MeanMS:      s.MeanDurationMS,
			MaxAttempts: s.MaxAttempts,
			TopError:    topError(s.ErrorTypes),
		})
	}
	return rows, nil
}

// topError returns the most frequent error type, ties broken by name.
func topError(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names[0]
}

func short(checksum string) string {
	if len(checksum) <= shortChecksum {
		return checksum
	}
	return checksum[:shortChecksum]
}

func cacheable(b *bool) string {
	if b == nil {
		return "unknown"
	}
	return strconv.FormatBool(*b)
}

// asInt reads a rationale number, which is float64 after a JSON round trip.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
