// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

import (
	"sort"
	"strconv"
)

// Values in the DSL are dynamically typed: float64, string, bool, nil,
// []any, map[string]any, or an opaque platform object (anything else).
// Numbers are always float64; whole numbers render without a decimal part.

// Truthy reports the DSL truthiness of a value: false, null, 0, "", empty
// list and empty dict are falsy, everything else is truthy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// Render converts a value to its display string, as the str() built-in
// does. Whole floats print without a trailing zero.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []any:
		out := "["
		for i, item := range x {
			if i > 0 {
				out += ", "
			}
			out += Render(item)
		}
		return out + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ", "
			}
			out += k + ": " + Render(x[k])
		}
		return out + "}"
	default:
		return "<object>"
	}
}

// Equal implements structural equality. Numbers and strings are never
// equal to each other; null equals only null; lists and dicts compare
// element-wise.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			other, exists := y[k]
			if !exists || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// TypeName names a value's kind for error messages.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return "object"
	}
}
