// Package condition evaluates the boolean expressions that gate steps and
// back validate steps. Variable references are substituted as literals, the
// result is parsed by a small dedicated grammar, and the AST is evaluated.
// Nothing outside that grammar is ever executed.
package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/types"
)

// Mode controls how unresolved variable references are handled.
type Mode int

const (
	// Strict fails on any unresolved reference.
	Strict Mode = iota
	// Permissive substitutes undefined, for step gates.
	Permissive
)

func (m Mode) String() string {
	if m == Permissive {
		return "permissive"
	}
	return "strict"
}

// refPattern matches ${name} (group 1) and {{name}} (group 2).
var refPattern = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}|\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// References returns the variable names referenced by expr, in order.
func References(expr string) []string {
	var names []string
	for _, sub := range refPattern.FindAllStringSubmatch(expr, -1) {
		names = append(names, refName(sub))
	}
	return names
}

func refName(sub []string) string {
	if sub[1] != "" {
		return sub[1]
	}
	return sub[2]
}

// Substitute replaces every ${name} and {{name}} in expr with a literal for
// the bound value. Substituted text is never rescanned.
func Substitute(expr string, vars map[string]any, mode Mode) (string, error) {
	var firstErr error
	out := refPattern.ReplaceAllStringFunc(expr, func(match string) string {
		name := refName(refPattern.FindStringSubmatch(match))
		val, ok := types.LookupVar(vars, name)
		if !ok {
			if mode == Strict && firstErr == nil {
				firstErr = flowerrors.ConditionUnresolved(expr, name)
			}
			return "undefined"
		}
		return Literal(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Literal renders a Go value as an expression literal. Strings are double
// quoted with escapes, numbers and booleans are verbatim, nil is null, and
// structured values are JSON-encoded and then quoted as a string.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return quote(val)
	case int:
		return strconv.Itoa(val)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case map[string]any, []any, []string, map[string]string:
		b, err := json.Marshal(val)
		if err != nil {
			return quote(fmt.Sprintf("%v", val))
		}
		return quote(string(b))
	case fmt.Stringer:
		return quote(val.String())
	}
	if b, err := json.Marshal(v); err == nil {
		return quote(string(b))
	}
	return quote(fmt.Sprintf("%v", v))
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}
