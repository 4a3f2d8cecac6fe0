// Package guardrail implements static policy checks over generated program
// source, the post-execution provenance check, and the classification of
// violations and failures used by the retry orchestrator.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pithecene-io/kiln/types"
)

// Violation is a failed guardrail check. Classification of a violation
// keys off Message (see Classify), so messages are stable strings.
type Violation struct {
	// Rule is the name of the rule that fired.
	Rule string
	// Message describes the violation.
	Message string
}

func (v *Violation) Error() string {
	return "guardrail violation: " + v.Message
}

// ErrorType implements the typed-error convention used by ClassifyError.
func (v *Violation) ErrorType() string { return types.ErrorTypeGuardrailViolation }

// Rule is one static source check.
type Rule struct {
	Name string
	// Pattern fires the rule when it matches (or, with Require, when it
	// does not match).
	Pattern *regexp.Regexp
	// Require inverts Pattern: the source must match it.
	Require bool
	// When restricts the rule to sources matching it. Nil applies always.
	When    *regexp.Regexp
	Message string
}

func (r Rule) check(code string) *Violation {
	if r.When != nil && !r.When.MatchString(code) {
		return nil
	}
	matched := r.Pattern.MatchString(code)
	if matched == r.Require {
		return nil
	}
	return &Violation{Rule: r.Name, Message: r.Message}
}

// RuleForbiddenImport names the only rule whose violations are terminal.
const RuleForbiddenImport = "forbidden_import"

// Rule messages. Classify recognizes these.
const (
	MsgMissingEntrypoint = "program must define func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error)"
	MsgForbiddenImport   = "program imports a forbidden package (os/exec, unsafe, syscall, plugin)"
	MsgHostInjection     = "program writes a reserved host key (env[\"__name__\"]); methods cannot be injected at runtime"
	MsgRegistryMutation  = "program mutates env[\"tools\"]; the tool registry is read-only"
	MsgHardcodedSuccess  = "program returns a hard-coded success payload on an external fetch path"
	MsgMissingProvenance = "external data success requires metadata.provenance with source and retrieved_at"
)

var (
	fetchPattern = regexp.MustCompile(`\bhttp\.(Get|Post|PostForm|Head|NewRequest|NewRequestWithContext|DefaultClient)\b|\bhttp\.Client\{`)

	defaultRules = []Rule{
		{
			Name:    "entrypoint",
			Pattern: regexp.MustCompile(`(?m)^func Run\(`),
			Require: true,
			Message: MsgMissingEntrypoint,
		},
		{
			Name:    RuleForbiddenImport,
			Pattern: regexp.MustCompile(`"(os/exec|unsafe|syscall|plugin)"`),
			Message: MsgForbiddenImport,
		},
		{
			Name:    "host_injection",
			Pattern: regexp.MustCompile(`env\["__[A-Za-z0-9_]+__"\]\s*=[^=]`),
			Message: MsgHostInjection,
		},
		{
			Name:    "registry_mutation",
			Pattern: regexp.MustCompile(`env\["tools"\](\[[^\]]*\]|\.\([^)]*\))*\s*=[^=]|delete\(env\["tools"\]`),
			Message: MsgRegistryMutation,
		},
		{
			Name:    "hardcoded_success",
			Pattern: regexp.MustCompile(`"value"\s*:\s*("(?i:success|ok|done|fetched)"|map\[string\]any\{\s*"(success|ok)"\s*:\s*true)`),
			When:    fetchPattern,
			Message: MsgHardcodedSuccess,
		},
	}
)

// Policy is an ordered set of static rules.
type Policy struct {
	rules []Rule
}

// DefaultPolicy returns the built-in rule set.
func DefaultPolicy() *Policy {
	return &Policy{rules: defaultRules}
}

// NewPolicy returns a policy with the built-in rules followed by extra.
func NewPolicy(extra ...Rule) *Policy {
	rules := make([]Rule, 0, len(defaultRules)+len(extra))
	rules = append(rules, defaultRules...)
	rules = append(rules, extra...)
	return &Policy{rules: rules}
}

// CheckCode runs the static rules in order and returns the first violation.
func (p *Policy) CheckCode(code string) error {
	for _, r := range p.rules {
		if v := r.check(code); v != nil {
			return v
		}
	}
	return nil
}

// CheckOutcome is the post-execution check. An ok Outcome counts as
// external-data success when the code has a fetch path or the outcome
// declares metadata.data_origin = "external"; such outcomes must carry
// metadata.provenance with non-empty source and retrieved_at.
func (p *Policy) CheckOutcome(code string, o types.Outcome) error {
	if !o.IsOK() || !IsExternalData(code, o) {
		return nil
	}
	prov, ok := o.Metadata["provenance"].(map[string]any)
	if !ok {
		return &Violation{Rule: "provenance", Message: MsgMissingProvenance}
	}
	for _, key := range []string{"source", "retrieved_at"} {
		if s, _ := prov[key].(string); strings.TrimSpace(s) == "" {
			return &Violation{Rule: "provenance", Message: MsgMissingProvenance}
		}
	}
	return nil
}

// IsExternalData reports whether an outcome is external-data success.
func IsExternalData(code string, o types.Outcome) bool {
	if o.MetaString("data_origin") == "external" {
		return true
	}
	return fetchPattern.MatchString(code)
}

// Rules returns the rule names in evaluation order.
func (p *Policy) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// String implements fmt.Stringer.
func (p *Policy) String() string {
	return fmt.Sprintf("guardrail.Policy(%d rules)", len(p.rules))
}
