package statesync

import (
	"fmt"
	"time"
)

// FromExternal converts a payload decoded from the external process into the
// internal form. The top level must be a map. Nested maps and slices are
// copied recursively; primitives pass through, and date-like strings stay
// strings.
func FromExternal(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &SerializationError{Op: "from external", Err: fmt.Errorf("expected map, got %T", v)}
	}
	return convertMap(m, fromExternalLeaf), nil
}

// ToExternal converts an internal payload into a form the external process
// can consume. time.Time values become RFC 3339 strings; everything else is
// copied as FromExternal does.
func ToExternal(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &SerializationError{Op: "to external", Err: fmt.Errorf("expected map, got %T", v)}
	}
	return convertMap(m, toExternalLeaf), nil
}

type leafFunc func(any) any

func convertMap(m map[string]any, leaf leafFunc) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertValue(v, leaf)
	}
	return out
}

func convertValue(v any, leaf leafFunc) any {
	switch val := v.(type) {
	case map[string]any:
		return convertMap(val, leaf)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item, leaf)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertMap(item, leaf)
		}
		return out
	default:
		return leaf(v)
	}
}

func fromExternalLeaf(v any) any {
	return v
}

func toExternalLeaf(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
