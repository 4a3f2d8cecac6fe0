package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/kiln/iox"
	"github.com/pithecene-io/kiln/types"
)

// Dir serves hand-written programs from a directory tree:
//
//	<root>/<role>/<method>.go             program source
//	<root>/<role>/<method>.<attempt>.go   source for one attempt id
//	<root>/<role>/<method>.repair.go      source for repair requests
//	<root>/<role>/<method>.deps.yaml      optional dependency list
//
// The attempt and repair variants take precedence when present, which
// lets a directory script a retry sequence.
type Dir struct {
	root string
}

// NewDir creates a directory generator.
func NewDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("generator dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("generator dir: %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// depsFile is the shape of <method>.deps.yaml.
type depsFile struct {
	Dependencies []types.Dependency `yaml:"dependencies"`
}

// Generate returns the most specific program file for req.
func (d *Dir) Generate(_ context.Context, req Request) (types.Program, error) {
	base := filepath.Join(d.root, req.Role, req.Method)
	candidates := []string{}
	if req.Repair {
		candidates = append(candidates, base+".repair.go")
	}
	if req.Attempt > 0 {
		candidates = append(candidates, fmt.Sprintf("%s.%d.go", base, req.Attempt))
	}
	candidates = append(candidates, base+".go")

	var code []byte
	for _, path := range candidates {
		data, ok, err := iox.ReadFileIfExists(path)
		if err != nil {
			return types.Program{}, fmt.Errorf("generator dir: %w", err)
		}
		if ok {
			code = data
			break
		}
	}
	if code == nil {
		return types.Program{}, &ResponseError{Msg: fmt.Sprintf("no program for %s.%s under %s", req.Role, req.Method, d.root)}
	}

	doc := map[string]any{"code": string(code)}
	p, err := ParseResponse(doc)
	if err != nil {
		return types.Program{}, err
	}

	data, ok, err := iox.ReadFileIfExists(base + ".deps.yaml")
	if err != nil {
		return types.Program{}, fmt.Errorf("generator dir: %w", err)
	}
	if ok {
		var deps depsFile
		if err := yaml.Unmarshal(data, &deps); err != nil {
			return types.Program{}, &ResponseError{Msg: fmt.Sprintf("%s.deps.yaml: %v", base, err)}
		}
		for i, dep := range deps.Dependencies {
			if dep.Name == "" {
				return types.Program{}, &ResponseError{Msg: fmt.Sprintf("%s.deps.yaml: dependencies[%d]: missing name", base, i)}
			}
		}
		p.Dependencies = deps.Dependencies
	}
	return p, nil
}
