package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/generator"
	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/lode"
	"github.com/pithecene-io/kiln/snapshot"
	"github.com/pithecene-io/kiln/types"
)

// freshLoop generates programs until one produces a final Outcome or a
// retry lane runs out of budget.
//
// Lanes:
//   - guardrail: recoverable violations, up to guardrailBudget retries;
//     terminal violations propagate immediately
//   - execution: runtime exceptions, up to ExecutionRepairBudget retries
//   - outcome: retriable adaptive or intrinsic error outcomes, up to
//     outcomeBudget retries
//
// Every failed attempt restores its snapshot before the next attempt or
// before escalating.
func (e *Executor) freshLoop(ctx context.Context, c *call) (types.Outcome, error) {
	var (
		guardrailUsed int
		executionUsed int
		outcomeUsed   int
		fb            *feedback
	)
	for {
		attemptID := guardrailUsed + executionUsed + outcomeUsed + 1
		c.attempts = attemptID

		snap, err := snapshot.Take(c.session.State, e.cfg.RegistryPath)
		if err != nil {
			return types.Outcome{}, fmt.Errorf("snapshot attempt %d: %w", attemptID, err)
		}

		e.collector.IncFreshGeneration()
		prog, err := e.cfg.Generator.Generate(ctx, generator.Request{
			Role:         c.role,
			Method:       c.method,
			SystemPrompt: e.systemPrompt(c),
			UserPrompt:   userPrompt(c, fb),
			Attempt:      attemptID,
		})
		if err != nil {
			return types.Outcome{}, fmt.Errorf("generate %s.%s: %w", c.role, c.method, err)
		}

		o, err := e.attempt(ctx, c, prog)

		var v *guardrail.Violation
		switch {
		case errors.As(err, &v):
			e.rollback(c, snap)
			cls := guardrail.ClassifyViolation(v)
			c.noteFailure(e, attemptID, laneGuardrail, types.ErrorTypeGuardrailViolation, types.FailureAdaptive, v.Message)
			if cls.Class == guardrail.Terminal {
				e.collector.IncTerminalViolation()
				return types.Outcome{}, &GuardrailError{Violation: v, Classification: cls}
			}
			if guardrailUsed >= e.guardrailBudget {
				e.collector.IncGuardrailExhausted()
				return types.Outcome{}, &GuardrailExhaustedError{
					Attempts:           guardrailUsed + 1,
					Type:               v.Rule,
					Subtype:            cls.Subtype,
					Message:            v.Message,
					RequiredCorrection: cls.RequiredCorrection,
				}
			}
			guardrailUsed++
			e.collector.IncGuardrailRetry()
			c.logger.Info("retrying after guardrail violation", map[string]any{
				"attempt_id": attemptID,
				"rule":       v.Rule,
				"subtype":    cls.Subtype,
			})
			fb = &feedback{
				lane:       laneGuardrail,
				attemptID:  attemptID,
				errorType:  types.ErrorTypeGuardrailViolation,
				message:    v.Message,
				correction: cls.RequiredCorrection,
			}
			continue

		case err != nil:
			e.rollback(c, snap)
			class := guardrail.ClassifyError(err)
			errorType := guardrail.ErrorTypeOf(err)
			c.noteFailure(e, attemptID, laneExecution, errorType, class, err.Error())
			if class == types.FailureExtrinsic {
				return types.Outcome{}, err
			}
			if executionUsed >= ExecutionRepairBudget {
				return types.Outcome{}, &ExecutionError{Attempts: executionUsed + 1, Err: err}
			}
			executionUsed++
			e.collector.IncExecutionRetry()
			c.logger.Info("retrying after execution failure", map[string]any{
				"attempt_id": attemptID,
				"error_type": errorType,
				"error":      err.Error(),
			})
			fb = &feedback{lane: laneExecution, attemptID: attemptID, errorType: errorType, message: err.Error()}
			continue

		case o.IsOK():
			e.persistGeneration(ctx, c, prog, o, artifact.Generation{Trigger: artifact.TriggerFresh})
			return o, nil

		case !o.Retriable:
			return o, nil
		}

		class := guardrail.ClassifyOutcome(o)
		if class == types.FailureExtrinsic {
			return o, nil
		}
		e.rollback(c, snap)
		c.noteFailure(e, attemptID, laneOutcome, o.ErrorType, class, o.ErrorMessage)
		if outcomeUsed >= e.outcomeBudget {
			e.collector.IncOutcomeExhausted()
			return types.Outcome{}, &OutcomeExhaustedError{Attempts: outcomeUsed + 1, Last: o}
		}
		outcomeUsed++
		e.collector.IncOutcomeRetry()
		c.logger.Info("retrying after error outcome", map[string]any{
			"attempt_id": attemptID,
			"error_type": o.ErrorType,
			"class":      string(class),
		})
		fb = &feedback{lane: laneOutcome, attemptID: attemptID, errorType: o.ErrorType, message: o.ErrorMessage}
	}
}

// attempt runs the static checks, then executes prog with the
// post-execution checks.
func (e *Executor) attempt(ctx context.Context, c *call, prog types.Program) (types.Outcome, error) {
	if err := e.guard.CheckCode(prog.Code); err != nil {
		return types.Outcome{}, err
	}
	return e.runChecked(ctx, c, prog)
}

func (e *Executor) rollback(c *call, snap *snapshot.AttemptSnapshot) {
	if err := snap.Restore(); err != nil {
		c.logger.Error("attempt rollback failed", map[string]any{"error": err.Error()})
	}
}

// noteFailure keeps attempt-failure telemetry, bounded per call.
func (c *call) noteFailure(e *Executor, attemptID int, lane, errorType string, class types.FailureClass, message string) {
	if len(c.failures) >= maxAttemptFailures {
		return
	}
	c.failures = append(c.failures, lode.AttemptRecord{
		Frame:     *c.frame,
		Role:      c.role,
		Method:    c.method,
		AttemptID: attemptID,
		Lane:      lane,
		ErrorType: errorType,
		Class:     string(class),
		Message:   truncate(message, maxFailureMessage),
		At:        e.now(),
	})
}

var inputPattern = regexp.MustCompile(`\b(args|kwargs)\s*\[|range\s+(args|kwargs)\b|len\((args|kwargs)\)`)

// persistGeneration installs prog as the current version of the key.
// Trigger and failure fields come from g. Write failures are logged; the
// call result stands.
func (e *Executor) persistGeneration(ctx context.Context, c *call, prog types.Program, o types.Outcome, g artifact.Generation) {
	g.Program = prog
	g.ContractFingerprint = c.contract.Fingerprint()
	g.PromptVersion = PromptVersion
	g.RuntimeVersion = types.RuntimeVersion
	g.Model = generator.ModelOf(e.cfg.Generator)
	g.Cacheable, g.CacheableReason = cacheability(o)
	g.InputSensitive = inputPattern.MatchString(prog.Code)

	a, err := e.cfg.Store.RecordGeneration(c.role, c.method, g)
	if err != nil {
		c.logger.Error("artifact write failed", map[string]any{"error": err.Error()})
		return
	}
	c.checksum = a.CodeChecksum
	c.generated = true

	if err := e.registerTool(c, a.CodeChecksum); err != nil {
		c.logger.Warn("tool registry write failed", map[string]any{"error": err.Error()})
	}
	if e.cfg.Sources != nil {
		if err := e.cfg.Sources.PutSource(ctx, c.role, c.method, a.CodeChecksum, []byte(prog.Code)); err != nil {
			c.logger.Warn("source archive failed", map[string]any{
				"checksum": a.CodeChecksum,
				"error":    err.Error(),
			})
		}
	}
}

// cacheability decides whether a program may be reused. Programs opt out
// with metadata cacheable=false.
func cacheability(o types.Outcome) (bool, string) {
	if v, ok := o.Metadata["cacheable"].(bool); ok && !v {
		if reason := o.MetaString("cacheable_reason"); reason != "" {
			return false, reason
		}
		return false, "declined by program"
	}
	return true, "program succeeded"
}
