// Package runtime dispatches method calls of a role to generated programs.
//
// A call first tries the persisted artifact for (role, method), repairing
// it once when it fails, and otherwise falls back to the fresh-generation
// loop: generate, check, execute, validate and decide, with three
// independent retry lanes (guardrail recovery, execution repair, outcome
// repair). Every failed attempt is rolled back from an AttemptSnapshot
// before the next one.
//
// Dispatch never returns an error. Provider, execution and budget
// exhaustion errors become error Outcomes at that boundary, and the call
// is always accounted for (artifact evidence, metrics, log line,
// telemetry, adapter notification) whichever path produced the result.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/lode"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/types"
)

// Executor dispatches calls for one role.
type Executor struct {
	cfg             Config
	guard           *guardrail.Policy
	guardrailBudget int
	outcomeBudget   int
	promotion       artifact.Policy
	logger          *log.Logger
	collector       *metrics.Collector
	now             func() time.Time
}

// New validates cfg and returns an Executor.
func New(cfg Config) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:             cfg,
		guard:           cfg.Guardrail,
		guardrailBudget: DefaultGuardrailBudget,
		outcomeBudget:   DefaultOutcomeBudget,
		promotion:       cfg.PromotionPolicy,
		logger:          cfg.Logger,
		collector:       cfg.Collector,
		now:             cfg.Now,
	}
	if cfg.GuardrailBudget != nil {
		e.guardrailBudget = *cfg.GuardrailBudget
	}
	if cfg.OutcomeBudget != nil {
		e.outcomeBudget = *cfg.OutcomeBudget
	}
	if e.guard == nil {
		e.guard = guardrail.DefaultPolicy()
	}
	if e.promotion.Version == "" {
		e.promotion = artifact.DefaultPolicy()
	}
	if e.logger == nil {
		e.logger = log.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cfg.AdapterTimeout == 0 {
		e.cfg.AdapterTimeout = 5 * time.Second
	}
	return e, nil
}

// Role returns the role this executor dispatches for.
func (e *Executor) Role() string { return e.cfg.Role }

// call is the mutable state of one dispatched call.
type call struct {
	role     string
	method   string
	frame    *types.CallFrame
	session  *Session
	contract *types.Contract
	dynamic  bool
	args     []any
	kwargs   map[string]any
	logger   *log.Logger

	// path is how the returned outcome was produced.
	path string
	// checksum is the persisted version that produced the outcome.
	checksum string
	// generated is set when this call installed a new version.
	generated      bool
	attempts       int
	workerRestarts int

	contractChecked     bool
	contractPassed      bool
	provenanceViolation bool
	// persistedFailed is set once the persisted version's failure is in its
	// scorecard; the call counters still wait for the final outcome.
	persistedFailed bool
	failures        []lode.AttemptRecord
	transitions         []*artifact.Transition
}

// Dispatch runs method with args and kwargs and returns its Outcome. The
// session carried by ctx is used when present; otherwise the call starts
// a new one.
func (e *Executor) Dispatch(ctx context.Context, method string, args []any, kwargs map[string]any) (out types.Outcome) {
	start := e.now()
	session, ok := SessionFrom(ctx)
	if !ok {
		session = NewSession(nil)
		ctx = WithSession(ctx, session)
	}
	frame := session.push()

	capability, declared := e.cfg.Capabilities[method]
	c := &call{
		role:    e.cfg.Role,
		method:  method,
		frame:   frame,
		session: session,
		dynamic: !declared,
		args:    args,
		kwargs:  kwargs,
		logger:  e.logger.WithFrame(frame, e.cfg.Role, method),
	}
	if capability != nil {
		c.contract = capability.Contract
	}
	e.collector.IncCallStarted()

	var callErr error
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("dispatch panicked", map[string]any{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			callErr = fmt.Errorf("dispatch panicked: %v", r)
			out = types.Err(types.ErrorTypeInternal, callErr.Error(), false, nil)
		}
		session.pop(frame)
		e.record(ctx, c, out, callErr, e.now().Sub(start))
	}()

	if method == "" {
		return types.Err(types.ErrorTypeMissingInput, "method name is required", false, nil)
	}
	e.ensureTools(session)

	o, err := e.dispatch(ctx, c)
	if err != nil {
		callErr = err
		return errorOutcome(c, err)
	}
	return o
}

func (e *Executor) dispatch(ctx context.Context, c *call) (types.Outcome, error) {
	if o, ok := e.persisted(ctx, c); ok {
		return o, nil
	}
	c.path = lode.PathFresh
	return e.freshLoop(ctx, c)
}

// ensureTools installs the read-only tool registry shape into the working
// state. Programs must not mutate it.
func (e *Executor) ensureTools(s *Session) {
	if _, ok := s.State.Get("tools"); ok {
		return
	}
	tools := make(map[string]any, len(e.cfg.Capabilities))
	for name, capability := range e.cfg.Capabilities {
		entry := map[string]any{"role": e.cfg.Role}
		if capability != nil && capability.Purpose != "" {
			entry["purpose"] = capability.Purpose
		}
		tools[name] = entry
	}
	s.State.Set("tools", tools)
}

// errorOutcome converts an error escaping the call into its Outcome.
// Guardrail exhaustion on a top-level call gets a flat message; the
// diagnostic stays in metadata.
func errorOutcome(c *call, err error) types.Outcome {
	switch e := err.(type) {
	case *GuardrailExhaustedError:
		meta := map[string]any{
			"diagnostic_message":          e.Error(),
			"guardrail_violation_type":    e.Type,
			"guardrail_violation_subtype": e.Subtype,
			"guardrail_recovery_attempts": e.Attempts,
			"attempts":                    c.attempts,
		}
		if e.RequiredCorrection != "" {
			meta["required_correction"] = e.RequiredCorrection
		}
		msg := e.Error()
		if c.frame.TopLevel() {
			msg = TopLevelExhaustedMessage
		}
		return types.Err(types.ErrorTypeGuardrailExhausted, msg, false, meta)
	case *GuardrailError:
		return types.Err(types.ErrorTypeGuardrailViolation, e.Error(), false, map[string]any{
			"guardrail_class":             string(e.Classification.Class),
			"guardrail_violation_type":    e.Violation.Rule,
			"guardrail_violation_subtype": e.Classification.Subtype,
		})
	case *ExecutionError:
		return types.Err(types.ErrorTypeExecution, e.Error(), false, map[string]any{
			"execution_attempts": e.Attempts,
			"cause_type":         guardrail.ErrorTypeOf(e.Err),
		})
	case *OutcomeExhaustedError:
		return types.Err(types.ErrorTypeOutcomeExhausted, e.Error(), false, map[string]any{
			"outcome_repair_attempts": e.Attempts,
			"last_error_type":         e.Last.ErrorType,
			"last_error_message":      e.Last.ErrorMessage,
		})
	}
	retriable := guardrail.ClassifyError(err) == types.FailureExtrinsic
	return types.Err(guardrail.ErrorTypeOf(err), err.Error(), retriable, nil)
}
