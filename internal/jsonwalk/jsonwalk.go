// Package jsonwalk holds small, provider-agnostic helpers for walking
// values produced by encoding/json's generic decode (map[string]any,
// []any, string, float64, bool, nil). Shared by the request extractors
// (address-based read/write) and the response unmasker (full-tree string
// rewrite).
package jsonwalk

import "fmt"

// DeepCopy recursively copies a decoded-JSON value so callers can mutate
// the copy without affecting the original.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}

// RewriteStrings walks v, replacing every string leaf with fn(s). v is
// mutated in place; pass a DeepCopy if the original must be preserved.
func RewriteStrings(v any, fn func(string) string) any {
	switch val := v.(type) {
	case string:
		return fn(val)
	case map[string]any:
		for k, item := range val {
			val[k] = RewriteStrings(item, fn)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = RewriteStrings(item, fn)
		}
		return val
	default:
		return v
	}
}

// WalkStringsAddressed is like RewriteStrings but also passes each string
// leaf's dotted path (e.g. "choices.0.delta.content") to fn, so a caller can
// keep per-field state across repeated calls on successive fragments of the
// same logical document (the stream transformer's use case). path is the
// empty string for a bare top-level string value.
func WalkStringsAddressed(v any, path string, fn func(path, s string) string) any {
	switch val := v.(type) {
	case string:
		return fn(path, val)
	case map[string]any:
		for k, item := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			val[k] = WalkStringsAddressed(item, childPath, fn)
		}
		return val
	case []any:
		for i, item := range val {
			childPath := fmt.Sprintf("%s.%d", path, i)
			if path == "" {
				childPath = fmt.Sprintf("%d", i)
			}
			val[i] = WalkStringsAddressed(item, childPath, fn)
		}
		return val
	default:
		return v
	}
}
