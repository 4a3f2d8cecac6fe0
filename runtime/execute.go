package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/pithecene-io/kiln/contract"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/program"
	"github.com/pithecene-io/kiln/types"
	"github.com/pithecene-io/kiln/worker"
)

// runChecked executes prog and applies the post-execution checks: the
// provenance check and the deliverable contract. A returned error is
// either a runtime exception or a *guardrail.Violation.
func (e *Executor) runChecked(ctx context.Context, c *call, prog types.Program) (types.Outcome, error) {
	c.contractChecked, c.contractPassed = false, false

	o, err := e.execute(ctx, c, prog)
	if err != nil {
		return types.Outcome{}, err
	}
	if err := e.guard.CheckOutcome(prog.Code, o); err != nil {
		c.provenanceViolation = true
		return types.Outcome{}, err
	}
	if o.IsOK() && c.contract != nil && c.contract.Deliverable != nil {
		c.contractChecked = true
		o = contract.Apply(c.contract, o)
		c.contractPassed = o.IsOK()
	}
	return o, nil
}

// execute runs prog in process, or in the worker when it declares
// dependencies. In-process outcomes are normalized to wire shape.
func (e *Executor) execute(ctx context.Context, c *call, prog types.Program) (types.Outcome, error) {
	if prog.HasDependencies() {
		return e.executeInWorker(ctx, c, prog)
	}

	out := e.cfg.ProgramOutput
	if out == nil {
		out = io.Discard
	}
	host := func(method string, args []any, kwargs map[string]any) map[string]any {
		return e.Dispatch(ctx, method, args, kwargs).Envelope()
	}
	o, err := program.Run(ctx, prog.Code, c.session.State.Map(), c.args, c.kwargs, program.Options{
		GoPath: e.cfg.GoPath,
		Host:   host,
		Stdout: out,
		Stderr: out,
	})
	if err != nil {
		return types.Outcome{}, err
	}
	return ipc.NormalizeOutcome(o), nil
}

func (e *Executor) executeInWorker(ctx context.Context, c *call, prog types.Program) (types.Outcome, error) {
	if e.cfg.Workers == nil {
		return types.Err(
			types.ErrorTypeDependencyActivateFailed,
			fmt.Sprintf("program declares %d dependencies but no worker is configured", len(prog.Dependencies)),
			false,
			map[string]any{"env_id": prog.EnvironmentID()},
		), nil
	}

	res := e.cfg.Workers.Execute(ctx, &ipc.Request{
		CallID:          c.frame.CallID,
		Role:            c.role,
		MethodName:      c.method,
		Code:            prog.Code,
		Dependencies:    prog.Dependencies,
		Args:            c.args,
		Kwargs:          c.kwargs,
		ContextSnapshot: c.session.State.Copy(),
	})
	if res.ContextSnapshot != nil {
		c.session.State.Replace(res.ContextSnapshot)
	}
	o := res.Outcome
	if n, ok := o.Metadata["worker_restarts"].(int); ok {
		c.workerRestarts += n
	}
	if o.IsError() && o.Metadata[worker.MetaException] == true {
		return types.Outcome{}, &RemoteError{Type: o.ErrorType, Message: o.ErrorMessage}
	}
	return o, nil
}
