package condition

import (
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// Evaluate substitutes variables into expr, parses it and returns its
// boolean result. Errors carry COND_* codes.
func Evaluate(expr string, vars map[string]any, mode Mode) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, flowerrors.ConditionSyntax(expr, 0, "empty expression")
	}
	sub, err := Substitute(expr, vars, mode)
	if err != nil {
		return false, err
	}
	n, err := Parse(sub)
	if err != nil {
		return false, annotate(err, expr)
	}
	ok, err := EvalBool(sub, n)
	if err != nil {
		return false, annotate(err, expr)
	}
	return ok, nil
}

// Check reports syntax errors and forbidden tokens without variables.
// Every reference is replaced by null, so only the shape is checked.
func Check(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return flowerrors.ConditionSyntax(expr, 0, "empty expression")
	}
	sub := refPattern.ReplaceAllString(expr, "null")
	if _, err := Parse(sub); err != nil {
		return annotate(err, expr)
	}
	return nil
}

// Explain returns the substituted text and the parsed tree, for debugging.
func Explain(expr string, vars map[string]any, mode Mode) (substituted string, tree string, err error) {
	substituted, err = Substitute(expr, vars, mode)
	if err != nil {
		return "", "", err
	}
	n, err := Parse(substituted)
	if err != nil {
		return substituted, "", annotate(err, expr)
	}
	return substituted, n.String(), nil
}

// annotate records the expression as written, before substitution.
func annotate(err error, expr string) error {
	if ferr, ok := err.(*flowerrors.FlowError); ok {
		if sub, ok := ferr.Details["condition"]; ok && sub != expr {
			ferr.WithDetail("substituted", sub)
		}
		ferr.WithDetail("condition", expr)
	}
	return err
}
