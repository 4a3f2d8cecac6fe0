package program

import (
	"errors"
	"testing"

	"github.com/pithecene-io/kiln/types"
)

const addProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	a := args[0].(int)
	b := args[1].(int)
	return map[string]any{"status": "ok", "value": a + b}, nil
}
`

func TestRun_Ok(t *testing.T) {
	o, err := Run(t.Context(), addProgram, nil, []any{2, 2}, nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !o.IsOK() || o.Value != 4 {
		t.Errorf("outcome = %v, want ok(4)", o)
	}
}

func TestRun_ErrorOutcome(t *testing.T) {
	code := `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	if args[1].(int) == 0 {
		return map[string]any{
			"status":        "error",
			"error_type":    "division_by_zero",
			"error_message": "cannot divide by zero",
			"retriable":     false,
		}, nil
	}
	return map[string]any{"status": "ok", "value": args[0].(int) / args[1].(int)}, nil
}
`
	o, err := Run(t.Context(), code, nil, []any{10, 0}, nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o.ErrorType != "division_by_zero" || o.Retriable {
		t.Errorf("outcome = %v, want non-retriable division_by_zero", o)
	}
}

func TestRun_MutatesEnvByReference(t *testing.T) {
	code := `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	env["last"] = kwargs["name"]
	return map[string]any{"status": "ok", "value": true}, nil
}
`
	env := map[string]any{}
	if _, err := Run(t.Context(), code, env, nil, map[string]any{"name": "x"}, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if env["last"] != "x" {
		t.Errorf("env[last] = %v, want x", env["last"])
	}
}

func TestRun_Exceptions(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr any
	}{
		{
			name:    "compile error",
			code:    "package main\n\nfunc Run( {",
			wantErr: &CompileError{},
		},
		{
			name:    "missing entrypoint",
			code:    "package main\n\nfunc Other() {}\n",
			wantErr: &CompileError{},
		},
		{
			name: "returned error",
			code: `package main

import "errors"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return nil, errors.New("boom")
}
`,
			wantErr: &RuntimeError{},
		},
		{
			name: "panic",
			code: `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	var m map[string]any
	m["x"] = 1
	return nil, nil
}
`,
			wantErr: &PanicError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(t.Context(), tt.code, nil, nil, nil, Options{})
			if err == nil {
				t.Fatal("Run() error = nil, want error")
			}
			switch tt.wantErr.(type) {
			case *CompileError:
				var ce *CompileError
				if !errors.As(err, &ce) {
					t.Errorf("error = %T %v, want *CompileError", err, err)
				}
			case *RuntimeError:
				var re *RuntimeError
				if !errors.As(err, &re) {
					t.Errorf("error = %T %v, want *RuntimeError", err, err)
				}
			case *PanicError:
				var pe *PanicError
				if !errors.As(err, &pe) {
					t.Errorf("error = %T %v, want *PanicError", err, err)
				}
			}
		})
	}
}

func TestRun_InvalidEnvelope(t *testing.T) {
	code := `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{"value": 1}, nil
}
`
	o, err := Run(t.Context(), code, nil, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o.ErrorType != types.ErrorTypeInvalidFormat || !o.Retriable {
		t.Errorf("outcome = %v, want retriable invalid_format", o)
	}
}

func TestRun_HostCall(t *testing.T) {
	code := `package main

import "kiln/host"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	inner := host.Call("add", []any{1, 2}, nil)
	return map[string]any{"status": "ok", "value": inner["value"]}, nil
}
`
	var gotMethod string
	opts := Options{Host: func(method string, args []any, kwargs map[string]any) map[string]any {
		gotMethod = method
		return types.Ok(3).Envelope()
	}}

	o, err := Run(t.Context(), code, nil, nil, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotMethod != "add" {
		t.Errorf("host method = %q, want add", gotMethod)
	}
	if o.Value != 3 {
		t.Errorf("value = %v, want 3", o.Value)
	}
}

func TestRun_HostUnavailableWithoutOption(t *testing.T) {
	code := `package main

import "kiln/host"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return host.Call("add", nil, nil), nil
}
`
	err := Compile(t.Context(), code, Options{})
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("Compile() = %v, want *CompileError", err)
	}
}
