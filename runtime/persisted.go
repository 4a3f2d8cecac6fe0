package runtime

import (
	"context"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/generator"
	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/lode"
	"github.com/pithecene-io/kiln/snapshot"
	"github.com/pithecene-io/kiln/types"
)

// persisted runs the persisted artifact for the call's key. It reports
// false when the caller must fall back to fresh generation: no usable
// artifact, or a failure the single repair could not fix. Extrinsic
// failures are surfaced as the call result.
func (e *Executor) persisted(ctx context.Context, c *call) (types.Outcome, bool) {
	a, miss := e.cfg.Store.Select(c.role, c.method, artifact.SelectOptions{
		ContractFingerprint: c.contract.Fingerprint(),
		RuntimeVersion:      types.RuntimeVersion,
		Dynamic:             c.dynamic,
		Enforcement:         e.cfg.Enforcement,
	})
	if a == nil {
		e.collector.IncCacheMiss(string(miss))
		c.logger.Debug("artifact miss", map[string]any{"reason": string(miss)})
		return types.Outcome{}, false
	}
	e.collector.IncCacheHit()

	snap, err := snapshot.Take(c.session.State, e.cfg.RegistryPath)
	if err != nil {
		c.logger.Warn("snapshot failed, skipping persisted artifact", map[string]any{"error": err.Error()})
		return types.Outcome{}, false
	}

	o, err := e.runChecked(ctx, c, a.Program())
	if err == nil && (o.IsOK() || !o.Retriable) {
		c.path = lode.PathCacheHit
		c.checksum = a.CodeChecksum
		return o, true
	}

	class := guardrail.ClassifyOutcome(o)
	if err != nil {
		class = guardrail.ClassifyError(err)
	}
	if class == types.FailureExtrinsic {
		c.path = lode.PathCacheHit
		c.checksum = a.CodeChecksum
		if err != nil {
			return errorOutcome(c, err), true
		}
		return o, true
	}

	e.rollback(c, snap)
	failed := o
	if err != nil {
		failed = types.Err(guardrail.ErrorTypeOf(err), err.Error(), true, nil)
	}
	c.logger.Info("persisted artifact failed", map[string]any{
		"checksum":   a.CodeChecksum,
		"class":      string(class),
		"error_type": failed.ErrorType,
	})
	e.recordEvidence(c, a.CodeChecksum, failed, class, nil, true)
	c.persistedFailed = true
	return e.repair(ctx, c, a, class, failed)
}

// repair regenerates the persisted program once from a repair prompt. It
// reports false when the repair budget is spent or the repaired program
// does not succeed.
func (e *Executor) repair(ctx context.Context, c *call, a *artifact.Artifact, class types.FailureClass, failed types.Outcome) (types.Outcome, bool) {
	allowed, err := e.cfg.Store.RecordRepair(c.role, c.method)
	if err != nil {
		c.logger.Warn("repair accounting failed", map[string]any{"error": err.Error()})
		return types.Outcome{}, false
	}
	if !allowed {
		c.logger.Info("repair budget spent, regenerating", map[string]any{
			"max_repairs": artifact.MaxRepairsBeforeRegen,
		})
		return types.Outcome{}, false
	}
	e.collector.IncRepairAttempted()

	snap, err := snapshot.Take(c.session.State, e.cfg.RegistryPath)
	if err != nil {
		c.logger.Warn("snapshot failed, skipping repair", map[string]any{"error": err.Error()})
		return types.Outcome{}, false
	}

	prog, err := e.cfg.Generator.Generate(ctx, generator.Request{
		Role:         c.role,
		Method:       c.method,
		SystemPrompt: e.systemPrompt(c),
		UserPrompt:   repairPrompt(c, a.Code, class, failed),
		Attempt:      1,
		Repair:       true,
	})
	if err != nil {
		c.logger.Warn("repair generation failed", map[string]any{"error": err.Error()})
		return types.Outcome{}, false
	}

	o, err := e.attempt(ctx, c, prog)
	if err != nil || !o.IsOK() {
		e.rollback(c, snap)
		fields := map[string]any{"error_type": o.ErrorType}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.logger.Info("repair failed, regenerating", fields)
		return types.Outcome{}, false
	}

	e.collector.IncRepairSucceeded()
	c.path = lode.PathRepair
	e.persistGeneration(ctx, c, prog, o, artifact.Generation{
		Trigger:        artifact.TriggerRepair,
		FailureClass:   class,
		FailureType:    failed.ErrorType,
		FailureMessage: failed.ErrorMessage,
	})
	return o, true
}
