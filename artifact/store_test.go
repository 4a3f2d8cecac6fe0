package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/kiln/types"
)

const addCode = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok", "value": args[0].(int) + args[1].(int)}, nil
}
`

// clock is a manual test clock advancing one second per reading.
type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewStore(StoreConfig{Dir: t.TempDir(), Now: c.now})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func generation(code string) Generation {
	return Generation{
		Program:             types.Program{Code: code},
		ContractFingerprint: "fp",
		RuntimeVersion:      types.RuntimeVersion,
		Cacheable:           true,
		CacheableReason:     "declared",
	}
}

func selectOpts() SelectOptions {
	return SelectOptions{ContractFingerprint: "fp", RuntimeVersion: types.RuntimeVersion}
}

func TestNewStore_RequiresDir(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestStore_GenerationThenSelect(t *testing.T) {
	s := newTestStore(t)

	if _, reason := s.Select("math", "add", selectOpts()); reason != MissAbsent {
		t.Fatalf("reason before generation = %q, want absent", reason)
	}

	a, err := s.RecordGeneration("math", "add", generation(addCode))
	if err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}
	if a.CodeChecksum != types.CodeChecksum(addCode) {
		t.Errorf("checksum = %q", a.CodeChecksum)
	}
	if got := a.State(); got != StateCandidate {
		t.Errorf("state = %q, want candidate", got)
	}

	if _, err := s.RecordOutcome("math", "add", Result{Observation: Observation{OK: true, SessionID: "s1"}}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, reason := s.Select("math", "add", selectOpts())
	if reason != MissNone {
		t.Fatalf("reason = %q, want hit", reason)
	}
	if got.SuccessCount != 1 || got.FailureCount != 0 {
		t.Errorf("counts = %d/%d, want 1/0", got.SuccessCount, got.FailureCount)
	}
	if got.SchemaVersion != SchemaVersion {
		t.Errorf("schema_version = %d", got.SchemaVersion)
	}
	if got.State() != StateProbation {
		t.Errorf("state after first success = %q, want probation", got.State())
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "math", "add.json")); err != nil {
		t.Errorf("document not at expected path: %v", err)
	}
}

func TestStore_SelectMisses(t *testing.T) {
	legacy := func(a *Artifact) { a.Cacheable = nil }
	tests := []struct {
		name   string
		mutate func(*Artifact)
		opts   func(*SelectOptions)
		want   MissReason
	}{
		{name: "hit", want: MissNone},
		{name: "not cacheable", mutate: func(a *Artifact) { f := false; a.Cacheable = &f }, want: MissNotCacheable},
		{name: "legacy declared", mutate: legacy, want: MissNone},
		{name: "legacy dynamic", mutate: legacy, opts: func(o *SelectOptions) { o.Dynamic = true }, want: MissNotCacheable},
		{name: "runtime version", opts: func(o *SelectOptions) { o.RuntimeVersion = "other" }, want: MissRuntime},
		{name: "contract fingerprint", opts: func(o *SelectOptions) { o.ContractFingerprint = "changed" }, want: MissContract},
		{name: "code edited without checksum", mutate: func(a *Artifact) { a.Code += "// edited\n" }, want: MissChecksum},
		{name: "empty checksum", mutate: func(a *Artifact) { a.CodeChecksum = "" }, want: MissChecksum},
		{
			name: "degraded counters",
			mutate: func(a *Artifact) {
				a.FailureCount, a.SuccessCount, a.RecentFailureRate = 4, 1, 0.8
			},
			want: MissDegraded,
		},
		{
			name: "failing but under threshold",
			mutate: func(a *Artifact) {
				a.FailureCount, a.SuccessCount, a.RecentFailureRate = 2, 0, 1.0
			},
			want: MissNone,
		},
		{
			name:   "degraded lifecycle without enforcement",
			mutate: func(a *Artifact) { a.Lifecycle.Entries[a.CodeChecksum].State = StateDegraded },
			want:   MissNone,
		},
		{
			name:   "degraded lifecycle with enforcement",
			mutate: func(a *Artifact) { a.Lifecycle.Entries[a.CodeChecksum].State = StateDegraded },
			opts:   func(o *SelectOptions) { o.Enforcement = true },
			want:   MissLifecycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			a, err := s.RecordGeneration("math", "add", generation(addCode))
			if err != nil {
				t.Fatalf("RecordGeneration: %v", err)
			}
			if tt.mutate != nil {
				tt.mutate(a)
				if err := s.Put(a); err != nil {
					t.Fatalf("Put: %v", err)
				}
			}
			opts := selectOpts()
			if tt.opts != nil {
				tt.opts(&opts)
			}

			got, reason := s.Select("math", "add", opts)
			if reason != tt.want {
				t.Fatalf("reason = %q, want %q", reason, tt.want)
			}
			if (got != nil) != (tt.want == MissNone) {
				t.Errorf("artifact returned = %v with reason %q", got != nil, reason)
			}
		})
	}
}

func TestStore_ChecksumInvariant(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatalf("RecordGeneration: %v", err)
	}

	// Edit the code on disk, leaving the checksum alone.
	path := s.Path("math", "add")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(data), "args[0].(int) + args[1].(int)", "args[0].(int) * args[1].(int)", 1)
	if edited == string(data) {
		t.Fatal("edit did not apply")
	}
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	if a, reason := s.Select("math", "add", selectOpts()); a != nil || reason != MissChecksum {
		t.Fatalf("Select = %v, %q; want nil, checksum", a != nil, reason)
	}
}

func TestStore_QuarantinesCorruptDocument(t *testing.T) {
	s := newTestStore(t)
	path := s.Path("math", "add")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, reason := s.Select("math", "add", selectOpts()); reason != MissCorrupt {
		t.Fatalf("reason = %q, want corrupt", reason)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("corrupt document still in place: %v", err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("quarantined files = %v, want 1", matches)
	}
	kept, _ := os.ReadFile(matches[0])
	if string(kept) != "{not json" {
		t.Errorf("quarantined content = %q", kept)
	}

	// A fresh generation starts over.
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatalf("RecordGeneration after quarantine: %v", err)
	}
	if _, reason := s.Select("math", "add", selectOpts()); reason != MissNone {
		t.Errorf("reason after regeneration = %q", reason)
	}
}

func TestStore_IgnoresOtherSchemaVersions(t *testing.T) {
	s := newTestStore(t)
	path := s.Path("math", "add")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `{"schema_version": 2, "code": "x"}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, reason := s.Select("math", "add", selectOpts()); reason != MissSchema {
		t.Fatalf("reason = %q, want schema_version", reason)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != doc {
		t.Errorf("document changed or removed: %q, %v", data, err)
	}
	if _, err := s.Load("math", "add"); !errors.Is(err, ErrUnsupportedSchema) {
		t.Errorf("Load err = %v, want ErrUnsupportedSchema", err)
	}
}

func TestStore_RepairBudget(t *testing.T) {
	s := newTestStore(t)
	if allowed, err := s.RecordRepair("math", "add"); err != nil || allowed {
		t.Fatalf("repair without artifact = %v, %v; want false, nil", allowed, err)
	}
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatal(err)
	}

	for i := range MaxRepairsBeforeRegen {
		allowed, err := s.RecordRepair("math", "add")
		if err != nil || !allowed {
			t.Fatalf("repair %d = %v, %v; want allowed", i+1, allowed, err)
		}
	}
	if allowed, _ := s.RecordRepair("math", "add"); allowed {
		t.Fatal("repair beyond budget allowed")
	}
	a, _ := s.Load("math", "add")
	if a.RepairCountSinceRegen != MaxRepairsBeforeRegen {
		t.Errorf("repair_count_since_regen = %d", a.RepairCountSinceRegen)
	}

	g := generation(addCode + "// repaired\n")
	g.Trigger = TriggerRepair
	g.FailureClass = types.FailureIntrinsic
	g.FailureType = "execution_error"
	g.FailureMessage = strings.Repeat("x", 1000)
	a, err := s.RecordGeneration("math", "add", g)
	if err != nil {
		t.Fatal(err)
	}
	if a.RepairCountSinceRegen != 0 {
		t.Errorf("repair count after repair success = %d, want 0", a.RepairCountSinceRegen)
	}
	last := a.GenerationHistory[len(a.GenerationHistory)-1]
	if last.Trigger != TriggerRepair || last.FailureClass != types.FailureIntrinsic {
		t.Errorf("last generation = %+v", last)
	}
	if len(last.FailureMessage) != 400 {
		t.Errorf("failure message length = %d, want 400", len(last.FailureMessage))
	}
}

func TestStore_BoundedHistory(t *testing.T) {
	s := newTestStore(t)
	var a *Artifact
	var err error
	for i := range MaxVersions + 3 {
		a, err = s.RecordGeneration("math", "add", generation(fmt.Sprintf("%s// v%d\n", addCode, i)))
		if err != nil {
			t.Fatal(err)
		}
	}

	if len(a.Versions) != MaxVersions {
		t.Errorf("versions = %d, want %d", len(a.Versions), MaxVersions)
	}
	if _, ok := a.Versions[a.CodeChecksum]; !ok {
		t.Error("current version evicted")
	}
	first := types.CodeChecksum(addCode + "// v0\n")
	if _, ok := a.Versions[first]; ok {
		t.Error("least recently used version kept")
	}
	if _, ok := a.Lifecycle.Entries[first]; !ok {
		t.Error("lifecycle entry of evicted version dropped")
	}
	if len(a.GenerationHistory) != MaxGenerationHistory {
		t.Errorf("generation history = %d, want %d", len(a.GenerationHistory), MaxGenerationHistory)
	}
}

func TestStore_RecordOutcomeCounters(t *testing.T) {
	s := newTestStore(t)
	if tr, err := s.RecordOutcome("math", "add", Result{}); tr != nil || err != nil {
		t.Fatalf("outcome without artifact = %v, %v", tr, err)
	}
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatal(err)
	}

	results := []Result{
		{Observation: Observation{OK: false}, FailureClass: types.FailureExtrinsic},
		{Observation: Observation{OK: false}, FailureClass: types.FailureAdaptive},
		{Observation: Observation{OK: true}},
		{Observation: Observation{OK: false}, FailureClass: types.FailureIntrinsic},
	}
	for _, r := range results {
		if _, err := s.RecordOutcome("math", "add", r); err != nil {
			t.Fatal(err)
		}
	}

	a, err := s.Load("math", "add")
	if err != nil {
		t.Fatal(err)
	}
	want := FailureCounts{Extrinsic: 1, Adaptive: 1, Intrinsic: 1}
	if diff := cmp.Diff(want, a.FailuresByClass); diff != "" {
		t.Errorf("failures by class (-want +got):\n%s", diff)
	}
	if a.SuccessCount != 1 || a.FailureCount != 3 {
		t.Errorf("counts = %d/%d", a.SuccessCount, a.FailureCount)
	}
	if a.RecentFailureRate != 0.75 {
		t.Errorf("recent_failure_rate = %v, want 0.75", a.RecentFailureRate)
	}
	if sc := a.Scorecards[a.CodeChecksum]; sc == nil || sc.Calls != 4 {
		t.Errorf("scorecard = %+v", sc)
	}
}

func TestStore_ScorecardOnlyThenCountCall(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatal(err)
	}

	r := Result{Observation: Observation{OK: false}, FailureClass: types.FailureAdaptive, ScorecardOnly: true}
	if _, err := s.RecordOutcome("math", "add", r); err != nil {
		t.Fatal(err)
	}
	a, err := s.Load("math", "add")
	if err != nil {
		t.Fatal(err)
	}
	if a.SuccessCount != 0 || a.FailureCount != 0 || len(a.RecentFailures) != 0 {
		t.Errorf("counters moved: %d/%d %v", a.SuccessCount, a.FailureCount, a.RecentFailures)
	}
	if sc := a.Scorecards[a.CodeChecksum]; sc == nil || sc.Calls != 1 || sc.Failures != 1 {
		t.Errorf("scorecard = %+v", sc)
	}

	if err := s.CountCall("math", "add", false, types.FailureAdaptive); err != nil {
		t.Fatal(err)
	}
	if err := s.CountCall("math", "missing", true, ""); err != nil {
		t.Fatalf("CountCall without artifact: %v", err)
	}
	a, _ = s.Load("math", "add")
	if a.FailureCount != 1 || a.FailuresByClass.Adaptive != 1 || a.RecentFailureRate != 1 {
		t.Errorf("counters = %d failed %+v rate %v", a.FailureCount, a.FailuresByClass, a.RecentFailureRate)
	}
	if sc := a.Scorecards[a.CodeChecksum]; sc.Calls != 1 {
		t.Errorf("CountCall touched the scorecard: %+v", sc)
	}
}

func TestStore_RecentFailureWindow(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecordGeneration("math", "add", generation(addCode)); err != nil {
		t.Fatal(err)
	}
	for range 10 {
		_, _ = s.RecordOutcome("math", "add", Result{Observation: Observation{OK: false}})
	}
	for range 5 {
		_, _ = s.RecordOutcome("math", "add", Result{Observation: Observation{OK: true}})
	}
	a, _ := s.Load("math", "add")
	if len(a.RecentFailures) != RecentOutcomeWindow {
		t.Errorf("window = %d", len(a.RecentFailures))
	}
	if a.RecentFailureRate != 0.5 {
		t.Errorf("recent_failure_rate = %v, want 0.5", a.RecentFailureRate)
	}
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	if keys, err := s.List(); err != nil || len(keys) != 0 {
		t.Fatalf("List on empty store = %v, %v", keys, err)
	}
	for _, k := range []Key{{"math", "sub"}, {"io", "read"}, {"math", "add"}} {
		if _, err := s.RecordGeneration(k.Role, k.Method, generation(addCode)); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []Key{{"io", "read"}, {"math", "add"}, {"math", "sub"}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
}

func TestSafeName(t *testing.T) {
	s := newTestStore(t)
	path := s.Path("../etc", "pass/wd")
	rel, err := filepath.Rel(s.Dir(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("path %q escapes store dir", path)
	}
}
