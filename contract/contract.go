// Package contract validates ok Outcomes against a method's deliverable
// contract. A mismatch becomes a retriable contract_violation Outcome.
package contract

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/pithecene-io/kiln/types"
)

// Deliverable types.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeAny     = "any"
)

// Apply checks o against c. Ok outcomes that violate the deliverable are
// replaced by a contract_violation error Outcome listing every problem in
// metadata.contract_errors. Error outcomes and contracts without a
// deliverable pass through unchanged.
func Apply(c *types.Contract, o types.Outcome) types.Outcome {
	problems := Check(c, o)
	if len(problems) == 0 {
		return o
	}
	list := make([]any, len(problems))
	for i, p := range problems {
		list[i] = p
	}
	return types.Err(
		types.ErrorTypeContractViolation,
		"result does not satisfy the deliverable contract: "+strings.Join(problems, "; "),
		true,
		map[string]any{"contract_errors": list},
	)
}

// Check returns the contract problems of o, or nil when it conforms.
func Check(c *types.Contract, o types.Outcome) []string {
	if c == nil || c.Deliverable == nil || !o.IsOK() {
		return nil
	}
	d := c.Deliverable
	var problems []string

	if !matchesType(d.Type, o.Value) {
		problems = append(problems, fmt.Sprintf("expected %s, got %s", d.Type, describe(o.Value)))
		return problems
	}

	if len(d.Required) > 0 {
		if !isObject(o.Value) {
			problems = append(problems, "required keys need an object value, got "+describe(o.Value))
		} else {
			for _, key := range d.Required {
				if _, found := Lookup(o.Value, key); !found {
					problems = append(problems, fmt.Sprintf("missing required key %q", key))
				}
			}
		}
	}

	return append(problems, checkConstraints(d.Constraints, o.Value)...)
}

// Lookup finds key in obj tolerating symbol-style and case or separator
// differences: "user_id", ":user_id", "userId" and "UserID" all alias.
// obj may be any map with string keys.
func Lookup(obj any, key string) (any, bool) {
	if m, ok := obj.(map[string]any); ok {
		if v, ok := m[key]; ok {
			return v, true
		}
		want := normalizeKey(key)
		for k, v := range m {
			if normalizeKey(k) == want {
				return v, true
			}
		}
		return nil, false
	}
	if !isObject(obj) {
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	if v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())); v.IsValid() {
		return v.Interface(), true
	}
	want := normalizeKey(key)
	iter := rv.MapRange()
	for iter.Next() {
		if normalizeKey(iter.Key().String()) == want {
			return iter.Value().Interface(), true
		}
	}
	return nil, false
}

// isObject reports whether v is a map keyed by strings.
func isObject(v any) bool {
	if _, ok := v.(map[string]any); ok {
		return true
	}
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

func normalizeKey(k string) string {
	k = strings.TrimPrefix(k, ":")
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	return strings.ToLower(k)
}

func matchesType(want string, v any) bool {
	switch want {
	case "", TypeAny:
		return true
	case TypeObject:
		return isObject(v)
	case TypeArray:
		return isList(v)
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

func checkConstraints(constraints map[string]any, v any) []string {
	var problems []string
	if n, ok := intConstraint(constraints, "min_items"); ok {
		if size, sized := collectionLen(v); !sized || size < n {
			problems = append(problems, fmt.Sprintf("min_items %d not met (got %s)", n, sizeOf(v)))
		}
	}
	if n, ok := intConstraint(constraints, "max_items"); ok {
		if size, sized := collectionLen(v); !sized || size > n {
			problems = append(problems, fmt.Sprintf("max_items %d exceeded (got %s)", n, sizeOf(v)))
		}
	}
	if n, ok := intConstraint(constraints, "min_length"); ok {
		if s, isStr := v.(string); !isStr || len([]rune(s)) < n {
			problems = append(problems, fmt.Sprintf("min_length %d not met", n))
		}
	}
	if ne, _ := constraints["non_empty"].(bool); ne && isEmpty(v) {
		problems = append(problems, "value must be non-empty")
	}
	return problems
}

func intConstraint(constraints map[string]any, key string) (int, bool) {
	raw, ok := constraints[key]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]any); ok {
		return true
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func collectionLen(v any) (int, bool) {
	switch x := v.(type) {
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	case string:
		return 0, false
	}
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	default:
		return 0, false
	}
}

func sizeOf(v any) string {
	if n, ok := collectionLen(v); ok {
		return fmt.Sprintf("%d items", n)
	}
	return describe(v)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	if n, ok := collectionLen(v); ok {
		return n == 0
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return TypeObject
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	}
	if isObject(v) {
		return TypeObject
	}
	if isList(v) {
		return TypeArray
	}
	if _, ok := toFloat(v); ok {
		return TypeNumber
	}
	return fmt.Sprintf("%T", v)
}
