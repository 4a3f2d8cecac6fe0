package guardrail

import (
	"errors"
	"testing"

	"github.com/pithecene-io/kiln/types"
)

const validProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok", "value": 4}, nil
}
`

func TestCheckCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantRule string
	}{
		{"valid", validProgram, ""},
		{
			name:     "missing entrypoint",
			code:     "package main\n\nfunc Execute() {}\n",
			wantRule: "entrypoint",
		},
		{
			name:     "forbidden import",
			code:     "package main\n\nimport \"os/exec\"\n\n" + validProgram[len("package main\n"):],
			wantRule: "forbidden_import",
		},
		{
			name: "host key injection",
			code: validProgram + `
func init() { env := map[string]any{}; env["__divide__"] = "x"; _ = env }
`,
			wantRule: "host_injection",
		},
		{
			name: "registry mutation",
			code: validProgram + `
func mutate(env map[string]any) { env["tools"].(map[string]any)["add"] = nil }
`,
			wantRule: "registry_mutation",
		},
		{
			name: "registry read is allowed",
			code: validProgram + `
func read(env map[string]any) bool { return env["tools"] == nil }
`,
		},
		{
			name: "hardcoded success on fetch path",
			code: `package main

import "net/http"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	_, _ = http.Get("https://example.com")
	return map[string]any{"status": "ok", "value": "success"}, nil
}
`,
			wantRule: "hardcoded_success",
		},
		{
			name: "success literal without fetch is allowed",
			code: `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok", "value": "success"}, nil
}
`,
		},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckCode(tt.code)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("CheckCode() = %v, want nil", err)
				}
				return
			}
			var v *Violation
			if !errors.As(err, &v) {
				t.Fatalf("CheckCode() = %v, want *Violation", err)
			}
			if v.Rule != tt.wantRule {
				t.Errorf("rule = %q, want %q", v.Rule, tt.wantRule)
			}
		})
	}
}

func TestNewPolicy_ExtraRules(t *testing.T) {
	p := NewPolicy()
	if got, want := len(p.Rules()), len(DefaultPolicy().Rules()); got != want {
		t.Errorf("NewPolicy() has %d rules, want %d", got, want)
	}
}

func TestCheckOutcome_Provenance(t *testing.T) {
	fetchCode := `package main

import "net/http"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	resp, err := http.Get("https://example.com")
	_ = resp
	return nil, err
}
`
	withProvenance := types.Ok("data").WithMetadata(map[string]any{
		"provenance": map[string]any{"source": "https://example.com", "retrieved_at": "2026-01-01T00:00:00Z"},
	})
	partialProvenance := types.Ok("data").WithMetadata(map[string]any{
		"provenance": map[string]any{"source": "https://example.com"},
	})
	declaredExternal := types.Ok("data").WithMetadata(map[string]any{"data_origin": "external"})

	tests := []struct {
		name    string
		code    string
		outcome types.Outcome
		wantErr bool
	}{
		{"local ok", validProgram, types.Ok(4), false},
		{"fetch without provenance", fetchCode, types.Ok("data"), true},
		{"fetch with provenance", fetchCode, withProvenance, false},
		{"fetch with partial provenance", fetchCode, partialProvenance, true},
		{"declared external", validProgram, declaredExternal, true},
		{"error outcome skipped", fetchCode, types.Err("network_error", "down", true, nil), false},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckOutcome(tt.code, tt.outcome)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckOutcome() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && Classify(err.(*Violation).Message).Subtype != "missing_provenance" {
				t.Errorf("provenance violation classified as %+v", Classify(err.(*Violation).Message))
			}
		})
	}
}
