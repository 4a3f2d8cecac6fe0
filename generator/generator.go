// Package generator defines the boundary to the external program
// generator and ships three implementations: an HTTP client for a
// generation service, a directory of hand-written programs, and a scripted
// sequence for tests and demos.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pithecene-io/kiln/types"
)

// Request is one generation request.
type Request struct {
	Role         string
	Method       string
	SystemPrompt string
	UserPrompt   string
	// Attempt is the attempt id within the call, starting at 1.
	Attempt int
	// Repair is set when the request asks to fix a persisted program.
	Repair bool
}

// Generator produces a program for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (types.Program, error)
}

// ModelNamer is implemented by generators that know which model answers.
type ModelNamer interface {
	Model() string
}

// ModelOf returns the model name of g, or "".
func ModelOf(g Generator) string {
	if m, ok := g.(ModelNamer); ok {
		return m.Model()
	}
	return ""
}

// ResponseError is a generator response without usable code.
type ResponseError struct {
	Msg string
}

func (e *ResponseError) Error() string { return "invalid generator response: " + e.Msg }

// ErrorType implements the typed-error convention.
func (e *ResponseError) ErrorType() string { return types.ErrorTypeInvalidFormat }

// ParseResponse reads {code, dependencies: [{name, version?}]} from a
// decoded response document.
func ParseResponse(doc map[string]any) (types.Program, error) {
	if doc == nil {
		return types.Program{}, &ResponseError{Msg: "empty document"}
	}
	raw, ok := doc["code"]
	if !ok {
		return types.Program{}, &ResponseError{Msg: "missing code"}
	}
	code, ok := raw.(string)
	if !ok {
		return types.Program{}, &ResponseError{Msg: fmt.Sprintf("code must be a string, got %T", raw)}
	}
	if strings.TrimSpace(code) == "" {
		return types.Program{}, &ResponseError{Msg: "empty code"}
	}

	p := types.Program{Code: code}
	rawDeps, present := doc["dependencies"]
	if !present || rawDeps == nil {
		return p, nil
	}
	list, ok := rawDeps.([]any)
	if !ok {
		return types.Program{}, &ResponseError{Msg: fmt.Sprintf("dependencies must be a list, got %T", rawDeps)}
	}
	for i, item := range list {
		dep, err := parseDependency(item)
		if err != nil {
			return types.Program{}, &ResponseError{Msg: fmt.Sprintf("dependencies[%d]: %v", i, err)}
		}
		p.Dependencies = append(p.Dependencies, dep)
	}
	return p, nil
}

func parseDependency(item any) (types.Dependency, error) {
	switch v := item.(type) {
	case string:
		name, version, _ := strings.Cut(v, "@")
		if name == "" {
			return types.Dependency{}, fmt.Errorf("empty name")
		}
		return types.Dependency{Name: name, Version: version}, nil
	case map[string]any:
		name, _ := v["name"].(string)
		if name == "" {
			return types.Dependency{}, fmt.Errorf("missing name")
		}
		version, _ := v["version"].(string)
		return types.Dependency{Name: name, Version: version}, nil
	default:
		return types.Dependency{}, fmt.Errorf("want object or string, got %T", item)
	}
}
