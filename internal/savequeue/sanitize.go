package savequeue

import (
	"fmt"
	"math"
	"reflect"
)

// StripCycles walks a payload and drops substructures the transport
// codec cannot represent: cyclic or duplicate references (tracked with
// a visited set) and non-encodable leaves. The result is a new value;
// the input is never mutated. Lossy recovery pass, applied at most
// once per save.
func StripCycles(v any) any {
	out, ok := strip(reflect.ValueOf(v), map[uintptr]bool{})
	if !ok {
		return nil
	}
	return out
}

// strip returns the sanitized value and whether it survived. Dropped
// map entries are omitted; dropped slice elements are omitted too, so
// sibling ordering is preserved.
func strip(v reflect.Value, visited map[uintptr]bool) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return strip(v.Elem(), visited)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		if visited[v.Pointer()] {
			return nil, false
		}
		visited[v.Pointer()] = true
		return strip(v.Elem(), visited)

	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		if visited[v.Pointer()] {
			return nil, false
		}
		visited[v.Pointer()] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if val, ok := strip(iter.Value(), visited); ok {
				out[key] = val
			}
		}
		return out, true

	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Len() > 0 {
			if visited[v.Pointer()] {
				return nil, false
			}
			visited[v.Pointer()] = true
		}
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if val, ok := strip(v.Index(i), visited); ok {
				out = append(out, val)
			}
		}
		return out, true

	case reflect.Array:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if val, ok := strip(v.Index(i), visited); ok {
				out = append(out, val)
			}
		}
		return out, true

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, false

	default:
		return v.Interface(), true
	}
}
