package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/kiln/adapter"
	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/lode"
	"github.com/pithecene-io/kiln/types"
)

// record accounts for a finished call. It runs for every call, whichever
// path produced o, and never changes o.
func (e *Executor) record(ctx context.Context, c *call, o types.Outcome, callErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)

	if o.IsOK() {
		e.collector.IncCallOK()
	} else {
		e.collector.IncCallFailed()
	}

	var gx *GuardrailExhaustedError
	var ox *OutcomeExhaustedError
	exhausted := errors.As(callErr, &gx) || errors.As(callErr, &ox)
	switch {
	case c.checksum != "" || exhausted:
		e.recordEvidence(c, c.checksum, o, guardrail.ClassifyOutcome(o), callErr, false)
	case c.persistedFailed:
		if err := e.cfg.Store.CountCall(c.role, c.method, o.IsOK(), guardrail.ClassifyOutcome(o)); err != nil {
			c.logger.Error("artifact counter write failed", map[string]any{"error": err.Error()})
		}
	}

	fields := map[string]any{
		"status":      string(o.Status),
		"path":        c.path,
		"attempts":    c.attempts,
		"duration_ms": elapsed.Milliseconds(),
	}
	if c.checksum != "" {
		fields["checksum"] = c.checksum
	}
	if c.workerRestarts > 0 {
		fields["worker_restarts"] = c.workerRestarts
	}
	if o.IsOK() {
		c.logger.Info("call completed", fields)
	} else {
		fields["error_type"] = o.ErrorType
		fields["error_message"] = o.ErrorMessage
		if diag := o.MetaString("diagnostic_message"); diag != "" {
			fields["diagnostic_message"] = diag
		}
		c.logger.Warn("call failed", fields)
	}

	e.emitTelemetry(ctx, c, o, elapsed)
	e.notify(ctx, c, o, elapsed)
}

// recordEvidence adds the call's observation to the scorecard of checksum
// (the current version when empty) and keeps any lifecycle transition.
// With scorecardOnly the artifact's call counters are left alone.
func (e *Executor) recordEvidence(c *call, checksum string, o types.Outcome, class types.FailureClass, callErr error, scorecardOnly bool) {
	var gx *GuardrailExhaustedError
	var ox *OutcomeExhaustedError
	obs := artifact.Observation{
		OK:                      o.IsOK(),
		ContractChecked:         c.contractChecked,
		ContractPassed:          c.contractPassed,
		GuardrailRetryExhausted: errors.As(callErr, &gx),
		OutcomeRetryExhausted:   errors.As(callErr, &ox),
		WrongBoundary:           o.ErrorType == types.ErrorTypeWrongToolBoundary,
		ProvenanceViolation:     c.provenanceViolation,
		SessionID:               c.session.ID,
		StateKeys:               c.session.State.Keys(),
	}
	tr, err := e.cfg.Store.RecordOutcome(c.role, c.method, artifact.Result{
		Observation:   obs,
		Checksum:      checksum,
		FailureClass:  class,
		Enforcement:   e.cfg.Enforcement,
		Policy:        e.promotion,
		ScorecardOnly: scorecardOnly,
	})
	if err != nil {
		c.logger.Error("artifact evidence write failed", map[string]any{"error": err.Error()})
		return
	}
	if tr == nil {
		return
	}
	c.transitions = append(c.transitions, tr)
	e.collector.IncTransition(string(tr.To))
	c.logger.Info("lifecycle transition", map[string]any{
		"checksum":    tr.Checksum,
		"from":        string(tr.From),
		"to":          string(tr.To),
		"decision":    tr.Decision,
		"enforcement": e.cfg.Enforcement,
	})
}

// emitTelemetry hands the call record, its attempt failures and its
// lifecycle transitions to the telemetry policy.
func (e *Executor) emitTelemetry(ctx context.Context, c *call, o types.Outcome, elapsed time.Duration) {
	if e.cfg.Telemetry == nil {
		return
	}
	now := e.now()

	records := make([]*types.TelemetryRecord, 0, 1+len(c.failures)+len(c.transitions))
	for _, f := range c.failures {
		records = append(records, f.Record())
	}
	for _, tr := range c.transitions {
		records = append(records, lode.PromotionRecord{
			Frame:         *c.frame,
			Role:          c.role,
			Method:        c.method,
			Checksum:      tr.Checksum,
			From:          string(tr.From),
			To:            string(tr.To),
			Decision:      tr.Decision,
			PolicyVersion: e.promotion.Version,
			Enforcement:   e.cfg.Enforcement,
			At:            now,
		}.Record())
	}
	records = append(records, lode.CallRecord{
		Frame:          *c.frame,
		Role:           c.role,
		Method:         c.method,
		Path:           c.path,
		Status:         string(o.Status),
		ErrorType:      o.ErrorType,
		Checksum:       c.checksum,
		Attempts:       c.attempts,
		WorkerRestarts: c.workerRestarts,
		Duration:       elapsed,
		At:             now,
	}.Record())

	for _, r := range records {
		if err := e.cfg.Telemetry.Ingest(ctx, r); err != nil {
			c.logger.Warn("telemetry ingest failed", map[string]any{
				"record_kind": string(r.Kind),
				"error":       err.Error(),
			})
		}
	}
}

// notify publishes the call-completed event. Failures are logged only.
func (e *Executor) notify(ctx context.Context, c *call, o types.Outcome, elapsed time.Duration) {
	if e.cfg.Adapter == nil {
		return
	}
	event := &adapter.CallCompletedEvent{
		Version:      types.Version,
		EventType:    adapter.EventTypeCallCompleted,
		TraceID:      c.frame.TraceID,
		CallID:       c.frame.CallID,
		ParentCallID: c.frame.ParentCallID,
		Depth:        c.frame.Depth,
		Role:         c.role,
		Method:       c.method,
		Status:       string(o.Status),
		ErrorType:    o.ErrorType,
		Path:         c.path,
		Checksum:     c.checksum,
		Timestamp:    e.now().UTC().Format(time.RFC3339Nano),
		Attempts:     c.attempts,
		DurationMs:   elapsed.Milliseconds(),
	}

	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.AdapterTimeout)
	defer cancel()
	if err := e.cfg.Adapter.Publish(pubCtx, event); err != nil {
		c.logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
	}
}
