// Package program runs generated Go programs with the yaegi interpreter.
//
// A program is a package main source file defining
//
//	func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error)
//
// The returned map is an Outcome envelope. A returned error, a panic or a
// compile failure is a runtime exception and is reported as an error, not
// as an Outcome.
package program

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/pithecene-io/kiln/types"
)

// EntryPoint is the function every program defines.
const EntryPoint = "Run"

// Options configures one program run.
type Options struct {
	// GoPath is where non-stdlib imports are resolved (<GoPath>/src/<path>).
	// Empty disables third-party imports.
	GoPath string
	// Host, when set, is exported to the program as package kiln/host.
	Host HostFunc
	// Stdout and Stderr receive the program's output. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// Run compiles code and calls its entry point with env (by reference),
// args and kwargs.
func Run(ctx context.Context, code string, env map[string]any, args []any, kwargs map[string]any, opts Options) (types.Outcome, error) {
	fn, err := compile(ctx, code, opts)
	if err != nil {
		return types.Outcome{}, err
	}
	if env == nil {
		env = make(map[string]any)
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = make(map[string]any)
	}

	result, err := invoke(fn, env, args, kwargs)
	if err != nil {
		return types.Outcome{}, err
	}
	o, err := types.OutcomeFromEnvelope(result)
	if err != nil {
		return types.Err(types.ErrorTypeInvalidFormat, err.Error(), true, nil), nil
	}
	return o, nil
}

// Compile checks that code compiles and defines the entry point without
// running it.
func Compile(ctx context.Context, code string, opts Options) error {
	_, err := compile(ctx, code, opts)
	return err
}

func compile(ctx context.Context, code string, opts Options) (reflect.Value, error) {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	i := interp.New(interp.Options{
		GoPath: opts.GoPath,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return reflect.Value{}, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if opts.Host != nil {
		if err := i.Use(hostExports(opts.Host)); err != nil {
			return reflect.Value{}, fmt.Errorf("load host symbols: %w", err)
		}
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return reflect.Value{}, &CompileError{Err: err}
	}
	fn, err := i.Eval(EntryPoint)
	if err != nil || !fn.IsValid() || fn.Kind() != reflect.Func {
		return reflect.Value{}, &CompileError{Err: fmt.Errorf("program must define func %s", EntryPoint)}
	}
	return fn, nil
}

func invoke(fn reflect.Value, env map[string]any, args []any, kwargs map[string]any) (result map[string]any, err error) {
	ft := fn.Type()
	if ft.NumIn() != 3 || ft.NumOut() != 2 {
		return nil, &CompileError{Err: fmt.Errorf("%s has signature %s, want func(map[string]any, []any, map[string]any) (map[string]any, error)", EntryPoint, ft)}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	out := fn.Call([]reflect.Value{reflect.ValueOf(env), reflect.ValueOf(args), reflect.ValueOf(kwargs)})
	if raw := out[1].Interface(); raw != nil {
		if e, ok := raw.(error); ok {
			return nil, &RuntimeError{Err: e}
		}
		return nil, &RuntimeError{Err: fmt.Errorf("%s returned non-error second value %T", EntryPoint, raw)}
	}
	m, ok := out[0].Interface().(map[string]any)
	if !ok && out[0].Interface() != nil {
		return nil, &RuntimeError{Err: fmt.Errorf("%s returned %T, want map[string]any", EntryPoint, out[0].Interface())}
	}
	return m, nil
}
