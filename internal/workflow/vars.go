package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/meow-stack/storyflow/internal/types"
)

// StringifyValue converts any value to a string representation.
// For maps and slices, it JSON-marshals them instead of using Go's %v format.
// This prevents outputs like "map[foo:bar]" and produces valid JSON like {"foo":"bar"}.
func StringifyValue(val any) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(val)
	kind := rv.Kind()

	if kind == reflect.Map || kind == reflect.Slice || kind == reflect.Array {
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	}

	return fmt.Sprintf("%v", val)
}

// placeholderPattern matches {{path}} (group 1) or legacy {name} (group 2).
// A condition-style ${name} matches with neither group and is kept as is,
// so "cost ${price}" never yields an inner {price}. The canonical form is
// tried before the legacy one so {{x}} never yields an inner {x}.
var placeholderPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_.]*\}|\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolve replaces {{name}} and {name} placeholders with stringified
// variable values. Dotted paths walk nested maps. Unknown names are left
// verbatim. Substituted values are not scanned again.
func Resolve(text string, vars map[string]any) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if name == "" {
			return match
		}
		val, ok := Lookup(vars, name)
		if !ok {
			return match
		}
		return StringifyValue(val)
	})
}

// ResolveValue resolves placeholders inside strings nested in v.
func ResolveValue(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return Resolve(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ResolveValue(e, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ResolveValue(e, vars)
		}
		return out
	}
	return v
}

// LegacyPlaceholders returns the names written with single braces.
func LegacyPlaceholders(text string) []string {
	var names []string
	for _, sub := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if sub[2] != "" {
			names = append(names, sub[2])
		}
	}
	return names
}

// Lookup resolves a variable name, walking nested maps for dotted paths.
func Lookup(vars map[string]any, name string) (any, bool) {
	return types.LookupVar(vars, name)
}
