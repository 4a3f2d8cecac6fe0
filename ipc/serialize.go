package ipc

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/pithecene-io/kiln/types"
)

// SerializationError is a value that cannot cross the process boundary
// as JSON without being coerced.
type SerializationError struct {
	Path   string
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("value at %s is not JSON-serializable: %s", e.Path, e.Reason)
}

// ErrorType implements the typed-error convention.
func (e *SerializationError) ErrorType() string { return types.ErrorTypeNonSerializableResult }

// CheckSerializable rejects anything that encoding/json would refuse or
// silently reshape: structs, pointers, byte slices, non-string map keys,
// channels, funcs, complex numbers, non-finite floats and unsigned
// integers beyond the int64 range.
func CheckSerializable(v any) error {
	return checkValue(reflect.ValueOf(v), "$")
}

func checkValue(v reflect.Value, path string) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return nil
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxInt64 {
			return &SerializationError{Path: path, Reason: "integer out of int64 range"}
		}
		return nil
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return &SerializationError{Path: path, Reason: "non-finite float"}
		}
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkValue(v.Elem(), path)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return &SerializationError{Path: path, Reason: "byte slice"}
		}
		for i := range v.Len() {
			if err := checkValue(v.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &SerializationError{Path: path, Reason: "map key type " + v.Type().Key().String()}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkValue(iter.Value(), path+"."+iter.Key().String()); err != nil {
				return err
			}
		}
		return nil
	default:
		return &SerializationError{Path: path, Reason: v.Type().String()}
	}
}

// Normalize converts a decoded JSON value (with json.Number) into the
// shapes generated programs expect: integral numbers become int, other
// numbers float64; maps and slices are rebuilt recursively.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		f, err := x.Float64()
		if err != nil {
			return string(x)
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = Normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = Normalize(e)
		}
		return x
	default:
		return v
	}
}

// RoundTrip passes v through JSON exactly as the wire would. It fails on
// values CheckSerializable rejects. The result is in wire shape: typed
// slices and maps come back as []any and map[string]any, and numbers as
// Normalize produces them, so an integral float64 comes back as int.
func RoundTrip(v any) (any, error) {
	if err := CheckSerializable(v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Path: "$", Reason: err.Error()}
	}
	msg, err := decodeJSON(append(append([]byte(`{"v":`), data...), '}'))
	if err != nil {
		return nil, err
	}
	return msg["v"], nil
}

// NormalizeOutcome gives an in-process outcome the shape it would have
// after crossing the worker boundary, so both execution paths return the
// same values. A value or metadata that cannot cross becomes a
// non_serializable_result error.
func NormalizeOutcome(o types.Outcome) types.Outcome {
	if o.IsOK() {
		v, err := RoundTrip(o.Value)
		if err != nil {
			return types.Err(types.ErrorTypeNonSerializableResult, err.Error(), true, nil)
		}
		o.Value = v
	}
	if o.Metadata != nil {
		md, err := RoundTrip(o.Metadata)
		if err != nil {
			return types.Err(types.ErrorTypeNonSerializableResult, "metadata: "+err.Error(), true, nil)
		}
		o.Metadata, _ = md.(map[string]any)
	}
	return o
}
