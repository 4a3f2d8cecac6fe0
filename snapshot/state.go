// Package snapshot provides the working state shared by generated programs
// and the attempt snapshots that roll it back.
package snapshot

import (
	"maps"
	"reflect"
	"slices"
	"sync"
)

// WorkingState is the key-value store threaded through generated programs.
//
// Programs receive the underlying map by reference (see Map). Host code
// uses the locked accessors. A program run and a host access must not
// overlap; the engine runs one attempt at a time per session.
type WorkingState struct {
	mu   sync.Mutex
	data map[string]any
}

// NewWorkingState returns a state seeded with a deep copy of initial.
func NewWorkingState(initial map[string]any) *WorkingState {
	data := Clone(initial)
	if data == nil {
		data = make(map[string]any)
	}
	return &WorkingState{data: data}
}

// Get returns the value stored under key.
func (s *WorkingState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *WorkingState) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

// Delete removes key.
func (s *WorkingState) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Keys returns the sorted keys.
func (s *WorkingState) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.data))
}

// Len returns the number of keys.
func (s *WorkingState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Map returns the live map handed to generated programs.
func (s *WorkingState) Map() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Copy returns a deep copy of the state.
func (s *WorkingState) Copy() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Clone(s.data)
}

// Replace swaps the contents for a deep copy of data, keeping the map
// identity so references held by the caller stay valid.
func (s *WorkingState) Replace(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	for k, v := range data {
		s.data[k] = cloneValue(v)
	}
}

// Clone deep-copies m. Maps, slices, arrays and pointers of any type are
// copied recursively, as are the exported fields of struct values; funcs,
// channels and unexported struct fields are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := copier{seen: make(map[copyKey]reflect.Value)}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = c.value(v)
	}
	return out
}

func cloneValue(v any) any {
	c := copier{seen: make(map[copyKey]reflect.Value)}
	return c.value(v)
}

// copyKey identifies an already-copied reference so shared and cyclic
// values keep their shape in the copy.
type copyKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type copier struct {
	seen map[copyKey]reflect.Value
}

func (c *copier) value(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	}
	return c.copy(reflect.ValueOf(v)).Interface()
}

func (c *copier) copy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.copy(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key := copyKey{ptr: v.Pointer(), typ: v.Type()}
		if out, ok := c.seen[key]; ok {
			return out
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[key] = out
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.copy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		key := copyKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if out, ok := c.seen[key]; ok {
			return out
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		c.seen[key] = out
		for i := range v.Len() {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := copyKey{ptr: v.Pointer(), typ: v.Type()}
		if out, ok := c.seen[key]; ok {
			return out
		}
		out := reflect.New(v.Type().Elem())
		c.seen[key] = out
		out.Elem().Set(c.copy(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if f := out.Field(i); f.CanSet() {
				f.Set(c.copy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}
