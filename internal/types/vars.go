package types

import "strings"

// CloneVariables deep-copies a variable map, including nested maps and slices.
func CloneVariables(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneVariables(val)
	case []any:
		cp := make([]any, len(val))
		for i, e := range val {
			cp[i] = cloneValue(e)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

// LookupVar resolves a variable name, walking nested maps for dotted
// paths. An exact key match wins over path traversal.
func LookupVar(vars map[string]any, name string) (any, bool) {
	if val, ok := vars[name]; ok {
		return val, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}
	val, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		switch v := val.(type) {
		case map[string]any:
			if val, ok = v[part]; !ok {
				return nil, false
			}
		case map[string]string:
			s, found := v[part]
			if !found {
				return nil, false
			}
			val = s
		default:
			return nil, false
		}
	}
	return val, true
}
