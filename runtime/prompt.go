package runtime

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pithecene-io/kiln/types"
)

// Feedback lanes.
const (
	laneGuardrail = "guardrail"
	laneExecution = "execution"
	laneOutcome   = "outcome"
)

// feedback describes the previous failed attempt. Only one lane's
// feedback is carried into an attempt.
type feedback struct {
	lane       string
	attemptID  int
	errorType  string
	message    string
	correction string
}

const systemPreamble = `You write Go programs executed by the kiln runtime.
A program is package main and defines:

	func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error)

env is the working state shared with the caller. env["tools"] lists the
methods of the role and is read-only. Keys of the form env["__name__"] are
reserved. Nested calls use package kiln/host:

	host.Call(method string, args []any, kwargs map[string]any) map[string]any

Return {"status": "ok", "value": V} on success, or {"status": "error",
"error_type": T, "error_message": M, "retriable": B} on failure. Results
built from external data must carry metadata.provenance with source and
retrieved_at. Answer with {"code": ..., "dependencies": [...]}.`

// systemPrompt describes the role, its capabilities and the contract of
// the called method.
func (e *Executor) systemPrompt(c *call) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	fmt.Fprintf(&b, "\n\nRole: %s\n", c.role)

	names := make([]string, 0, len(e.cfg.Capabilities))
	for name := range e.cfg.Capabilities {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) > 0 {
		b.WriteString("Capabilities:\n")
		for _, name := range names {
			if capability := e.cfg.Capabilities[name]; capability != nil && capability.Purpose != "" {
				fmt.Fprintf(&b, "- %s: %s\n", name, capability.Purpose)
			} else {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		}
	}
	if c.contract != nil {
		fmt.Fprintf(&b, "Contract for %s:\n%s\n", c.method, toJSON(c.contract))
	}
	return b.String()
}

// userPrompt asks for the method, injecting feedback from the previous
// attempt when there is one.
func userPrompt(c *call, fb *feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement %s.%s.\n", c.role, c.method)
	fmt.Fprintf(&b, "args: %s\nkwargs: %s\n", toJSON(c.args), toJSON(c.kwargs))
	fmt.Fprintf(&b, "working state keys: %s\n", strings.Join(c.session.State.Keys(), ", "))
	if fb == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\nAttempt %d failed.\n", fb.attemptID)
	switch fb.lane {
	case laneGuardrail:
		fmt.Fprintf(&b, "The program violated a guardrail: %s\n", fb.message)
		if fb.correction != "" {
			fmt.Fprintf(&b, "Required correction: %s\n", fb.correction)
		}
	case laneExecution:
		fmt.Fprintf(&b, "The program raised during execution (%s): %s\n", fb.errorType, fb.message)
		b.WriteString("Fix the failure without changing the result shape.\n")
	case laneOutcome:
		fmt.Fprintf(&b, "The program returned a retriable error (%s): %s\n", fb.errorType, fb.message)
		b.WriteString("Return a successful result or a non-retriable error.\n")
	}
	return b.String()
}

// repairPrompt asks to fix a persisted program that failed.
func repairPrompt(c *call, code string, class types.FailureClass, failed types.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repair %s.%s.\n", c.role, c.method)
	fmt.Fprintf(&b, "args: %s\nkwargs: %s\n", toJSON(c.args), toJSON(c.kwargs))
	fmt.Fprintf(&b, "The existing program failed with a %s failure (%s): %s\n", class, failed.ErrorType, truncate(failed.ErrorMessage, maxFailureMessage))
	b.WriteString("Existing program:\n\n")
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
