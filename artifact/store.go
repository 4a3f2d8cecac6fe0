package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/kiln/iox"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/types"
)

// MissReason explains why Select returned no artifact.
type MissReason string

// Miss reasons. MissNone accompanies a hit.
const (
	MissNone         MissReason = ""
	MissAbsent       MissReason = "absent"
	MissUnreadable   MissReason = "unreadable"
	MissCorrupt      MissReason = "corrupt"
	MissSchema       MissReason = "schema_version"
	MissNotCacheable MissReason = "not_cacheable"
	MissRuntime      MissReason = "runtime_version"
	MissContract     MissReason = "contract_fingerprint"
	MissChecksum     MissReason = "checksum"
	MissDegraded     MissReason = "degraded"
	MissLifecycle    MissReason = "lifecycle_degraded"
)

var (
	// ErrNotFound is returned by Load when no document exists.
	ErrNotFound = errors.New("artifact not found")
	// ErrUnsupportedSchema is returned for documents of another schema
	// version.
	ErrUnsupportedSchema = errors.New("unsupported artifact schema version")
)

// CorruptError is a document that exists but cannot be parsed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Key identifies an artifact.
type Key struct {
	Role   string
	Method string
}

func (k Key) String() string { return k.Role + "." + k.Method }

// StoreConfig configures a Store.
type StoreConfig struct {
	// Dir is the store root.
	Dir string
	// Logger receives quarantine and write diagnostics. Nil discards.
	Logger *log.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store reads and writes artifact documents. Writers of one key are
// serialized in-process; writers in different processes race with
// last-writer-wins semantics.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// NewStore creates a store rooted at cfg.Dir.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("artifact store dir is required")
	}
	s := &Store{
		dir:    cfg.Dir,
		logger: cfg.Logger,
		now:    cfg.Now,
		locks:  make(map[Key]*sync.Mutex),
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// Path returns the document path for role and method.
func (s *Store) Path(role, method string) string {
	return filepath.Join(s.dir, safeName(role), safeName(method)+".json")
}

// safeName keeps a role or method name inside its directory.
func safeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	name = r.Replace(strings.TrimSpace(name))
	if name == "" {
		return "_"
	}
	return name
}

func (s *Store) lock(k Key) func() {
	s.mu.Lock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load reads the document for role and method without judging it.
// Errors: ErrNotFound, ErrUnsupportedSchema, *CorruptError.
func (s *Store) Load(role, method string) (*Artifact, error) {
	path := s.Path(role, method)
	data, ok, err := iox.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*Artifact, error) {
	var probe struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if probe.SchemaVersion == nil {
		return nil, &CorruptError{Path: path, Err: errors.New("missing schema_version")}
	}
	if *probe.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, *probe.SchemaVersion)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &a, nil
}

// SelectOptions is the execution context a cached artifact must match.
type SelectOptions struct {
	ContractFingerprint string
	RuntimeVersion      string
	// Dynamic is set when the method is not declared in the role's
	// capability map.
	Dynamic bool
	// Enforcement makes a degraded lifecycle state a miss.
	Enforcement bool
}

// Select returns the artifact for role and method if it may execute.
// Otherwise it returns nil and the reason. Corrupt documents are
// quarantined; documents of another schema version are left alone.
func (s *Store) Select(role, method string, opts SelectOptions) (*Artifact, MissReason) {
	unlock := s.lock(Key{role, method})
	defer unlock()

	a, err := s.Load(role, method)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, MissAbsent
	case errors.Is(err, ErrUnsupportedSchema):
		return nil, MissSchema
	case err != nil:
		var ce *CorruptError
		if errors.As(err, &ce) {
			s.quarantine(ce)
			return nil, MissCorrupt
		}
		s.logger.Warn("artifact unreadable", map[string]any{"role": role, "method": method, "error": err.Error()})
		return nil, MissUnreadable
	}

	switch {
	case !a.IsCacheable(opts.Dynamic):
		return nil, MissNotCacheable
	case a.RuntimeVersion != opts.RuntimeVersion:
		return nil, MissRuntime
	case a.ContractFingerprint != opts.ContractFingerprint:
		return nil, MissContract
	case !a.ChecksumValid():
		return nil, MissChecksum
	case a.Degraded():
		return nil, MissDegraded
	case opts.Enforcement && a.State() == StateDegraded:
		return nil, MissLifecycle
	}
	return a, MissNone
}

func (s *Store) quarantine(ce *CorruptError) {
	target, err := iox.Quarantine(ce.Path, s.now())
	if err != nil {
		s.logger.Error("artifact quarantine failed", map[string]any{"path": ce.Path, "error": err.Error()})
		return
	}
	s.logger.Warn("artifact quarantined", map[string]any{
		"path":        ce.Path,
		"quarantined": target,
		"error":       ce.Err.Error(),
	})
}

// Put writes a atomically, stamping the schema version.
func (s *Store) Put(a *Artifact) error {
	unlock := s.lock(Key{a.Role, a.MethodName})
	defer unlock()
	return s.write(a)
}

func (s *Store) write(a *Artifact) error {
	a.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s.%s: %w", a.Role, a.MethodName, err)
	}
	return iox.WriteFileAtomic(s.Path(a.Role, a.MethodName), append(data, '\n'), 0o644)
}

// Update loads the document for role and method, applies fn and writes the
// result. fn receives nil when there is no usable document; returning nil
// skips the write. A corrupt document is quarantined first.
func (s *Store) Update(role, method string, fn func(*Artifact) (*Artifact, error)) (*Artifact, error) {
	unlock := s.lock(Key{role, method})
	defer unlock()

	current, err := s.Load(role, method)
	if err != nil {
		var ce *CorruptError
		switch {
		case errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrUnsupportedSchema):
			s.logger.Info("replacing artifact of another schema version", map[string]any{
				"role": role, "method": method, "error": err.Error(),
			})
		case errors.As(err, &ce):
			s.quarantine(ce)
		default:
			return nil, err
		}
		current = nil
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return next, err
	}
	next.Role, next.MethodName = role, method
	next.UpdatedAt = s.now()
	if err := s.write(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Generation describes a program that just succeeded and should become
// the current version.
type Generation struct {
	Program             types.Program
	Trigger             string
	ContractFingerprint string
	PromptVersion       string
	RuntimeVersion      string
	Model               string
	Cacheable           bool
	CacheableReason     string
	InputSensitive      bool
	// Failure describes what a repair fixed.
	FailureClass   types.FailureClass
	FailureType    string
	FailureMessage string
}

// RecordGeneration installs g as the current version, creating the
// artifact on first success. Any generation resets the repair counter.
func (s *Store) RecordGeneration(role, method string, g Generation) (*Artifact, error) {
	now := s.now()
	return s.Update(role, method, func(a *Artifact) (*Artifact, error) {
		if a == nil {
			a = &Artifact{CreatedAt: now}
		}
		a.ContractFingerprint = g.ContractFingerprint
		a.PromptVersion = g.PromptVersion
		a.RuntimeVersion = g.RuntimeVersion
		a.Model = g.Model
		cacheable := g.Cacheable
		a.Cacheable = &cacheable
		a.CacheableReason = g.CacheableReason
		a.InputSensitive = g.InputSensitive

		trigger := g.Trigger
		if trigger == "" {
			trigger = TriggerFresh
		}
		a.setCode(g.Program, trigger, now)
		a.RepairCountSinceRegen = 0
		a.appendGeneration(GenerationRecord{
			At:             now,
			Trigger:        trigger,
			CodeChecksum:   a.CodeChecksum,
			FailureClass:   g.FailureClass,
			FailureType:    g.FailureType,
			FailureMessage: truncate(g.FailureMessage, 400),
		})
		return a, nil
	})
}

// RecordRepair counts a repair attempt against the current version and
// reports whether the attempt is within MaxRepairsBeforeRegen.
func (s *Store) RecordRepair(role, method string) (bool, error) {
	allowed := false
	_, err := s.Update(role, method, func(a *Artifact) (*Artifact, error) {
		if a == nil || a.RepairCountSinceRegen >= MaxRepairsBeforeRegen {
			return nil, nil
		}
		a.RepairCountSinceRegen++
		allowed = true
		return a, nil
	})
	return allowed, err
}

// Result is the evidence of one call against the current version.
type Result struct {
	Observation
	// Checksum is the version that ran. Empty means the current version.
	Checksum     string
	FailureClass types.FailureClass
	Enforcement  bool
	Policy       Policy
	// ScorecardOnly leaves the call counters alone. It is set for a
	// persisted version that failed before the call fell back, so the
	// call is counted once, by its final outcome.
	ScorecardOnly bool
}

// RecordOutcome updates counters and the scorecard of the version that ran
// and evaluates its promotion. It returns the transition made, if any.
// Calls for keys without a document are ignored.
func (s *Store) RecordOutcome(role, method string, r Result) (*Transition, error) {
	now := s.now()
	var tr *Transition
	_, err := s.Update(role, method, func(a *Artifact) (*Artifact, error) {
		if a == nil {
			return nil, nil
		}
		checksum := r.Checksum
		if checksum == "" {
			checksum = a.CodeChecksum
		}
		if !r.ScorecardOnly {
			a.recordResult(r.OK, r.FailureClass)
		}
		if v, ok := a.Versions[checksum]; ok {
			v.LastUsedAt = now
		}
		a.Scorecard(checksum).Record(r.Observation)

		policy := r.Policy
		if policy.Version == "" {
			policy = DefaultPolicy()
		}
		tr = Evaluate(a, checksum, EvalInput{OK: r.OK, Enforcement: r.Enforcement, Now: now}, policy)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// CountCall updates the call counters alone, for a call whose evidence
// went to a version scorecard with ScorecardOnly set.
func (s *Store) CountCall(role, method string, ok bool, class types.FailureClass) error {
	_, err := s.Update(role, method, func(a *Artifact) (*Artifact, error) {
		if a == nil {
			return nil, nil
		}
		a.recordResult(ok, class)
		return a, nil
	})
	return err
}

// List returns the keys of every document in the store, sorted.
func (s *Store) List() ([]Key, error) {
	roles, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []Key
	for _, r := range roles {
		if !r.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, r.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			keys = append(keys, Key{Role: r.Name(), Method: strings.TrimSuffix(name, ".json")})
		}
	}
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	return keys, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
