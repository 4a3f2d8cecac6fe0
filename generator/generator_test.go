package generator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/kiln/types"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		doc     map[string]any
		want    types.Program
		wantErr bool
	}{
		{name: "code only", doc: map[string]any{"code": "package main"}, want: types.Program{Code: "package main"}},
		{
			name: "dependency objects and strings",
			doc: map[string]any{
				"code":         "package main",
				"dependencies": []any{map[string]any{"name": "example.com/a", "version": "v1.0.0"}, "example.com/b@v2", "example.com/c"},
			},
			want: types.Program{Code: "package main", Dependencies: []types.Dependency{
				{Name: "example.com/a", Version: "v1.0.0"},
				{Name: "example.com/b", Version: "v2"},
				{Name: "example.com/c"},
			}},
		},
		{name: "null dependencies", doc: map[string]any{"code": "package main", "dependencies": nil}, want: types.Program{Code: "package main"}},
		{name: "nil document", doc: nil, wantErr: true},
		{name: "missing code", doc: map[string]any{"dependencies": []any{}}, wantErr: true},
		{name: "blank code", doc: map[string]any{"code": "  \n"}, wantErr: true},
		{name: "code wrong type", doc: map[string]any{"code": 42}, wantErr: true},
		{name: "dependencies wrong type", doc: map[string]any{"code": "x", "dependencies": "a"}, wantErr: true},
		{name: "dependency without name", doc: map[string]any{"code": "x", "dependencies": []any{map[string]any{"version": "v1"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.doc)
			if tt.wantErr {
				var re *ResponseError
				if !errors.As(err, &re) {
					t.Fatalf("err = %v, want *ResponseError", err)
				}
				if re.ErrorType() != types.ErrorTypeInvalidFormat {
					t.Errorf("ErrorType = %q", re.ErrorType())
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("program (-want +got):\n%s", diff)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDir_Generate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "math", "add.go"), "base")
	writeFile(t, filepath.Join(root, "math", "add.1.go"), "first attempt")
	writeFile(t, filepath.Join(root, "math", "add.repair.go"), "repaired")
	writeFile(t, filepath.Join(root, "math", "add.deps.yaml"), "dependencies:\n  - name: example.com/lib\n    version: v1.2.0\n")

	d, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"attempt variant", Request{Role: "math", Method: "add", Attempt: 1}, "first attempt"},
		{"falls back to base", Request{Role: "math", Method: "add", Attempt: 2}, "base"},
		{"repair variant", Request{Role: "math", Method: "add", Attempt: 1, Repair: true}, "repaired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := d.Generate(t.Context(), tt.req)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if p.Code != tt.want {
				t.Errorf("code = %q, want %q", p.Code, tt.want)
			}
			want := []types.Dependency{{Name: "example.com/lib", Version: "v1.2.0"}}
			if diff := cmp.Diff(want, p.Dependencies); diff != "" {
				t.Errorf("dependencies (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDir_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "io", "read.go"), "code")
	writeFile(t, filepath.Join(root, "io", "read.deps.yaml"), "dependencies: [{version: v1}]\n")

	d, err := NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	var re *ResponseError
	if _, err := d.Generate(t.Context(), Request{Role: "io", Method: "write"}); !errors.As(err, &re) {
		t.Errorf("missing program err = %v, want *ResponseError", err)
	}
	if _, err := d.Generate(t.Context(), Request{Role: "io", Method: "read"}); !errors.As(err, &re) {
		t.Errorf("bad deps err = %v, want *ResponseError", err)
	}

	if _, err := NewDir(filepath.Join(root, "missing")); err == nil {
		t.Error("NewDir on missing dir succeeded")
	}
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(Code("one"), Step{Err: boom}, Code("three"))

	var got []string
	for i := range 5 {
		p, err := s.Generate(t.Context(), Request{Attempt: i + 1})
		switch {
		case errors.Is(err, boom):
			got = append(got, "err")
		case err != nil:
			t.Fatalf("Generate: %v", err)
		default:
			got = append(got, p.Code)
		}
	}
	if diff := cmp.Diff([]string{"one", "err", "three", "three", "three"}, got); diff != "" {
		t.Errorf("sequence (-want +got):\n%s", diff)
	}
	if s.Calls() != 5 || s.Requests()[4].Attempt != 5 {
		t.Errorf("recorded requests = %+v", s.Requests())
	}

	if _, err := NewScripted().Generate(t.Context(), Request{}); err == nil {
		t.Error("empty script returned a program")
	}
}
