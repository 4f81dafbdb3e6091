package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// InputRuleKind names a validation rule for elicited values.
type InputRuleKind string

const (
	RuleNone     InputRuleKind = ""
	RuleRequired InputRuleKind = "required"
	RuleNumber   InputRuleKind = "number"
	RuleInteger  InputRuleKind = "integer"
	RuleYesNo    InputRuleKind = "yes_no"
	RuleRegex    InputRuleKind = "regex"
)

// InputRule is a parsed elicit validation rule.
type InputRule struct {
	Kind    InputRuleKind
	Pattern *regexp.Regexp // RuleRegex only
}

// ParseInputRule parses "required", "number", "integer", "yes_no" or
// "regex:<expr>". The empty string accepts anything.
func ParseInputRule(s string) (*InputRule, error) {
	s = strings.TrimSpace(s)
	if expr, ok := strings.CutPrefix(s, "regex:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", expr, err)
		}
		return &InputRule{Kind: RuleRegex, Pattern: re}, nil
	}
	switch k := InputRuleKind(s); k {
	case RuleNone, RuleRequired, RuleNumber, RuleInteger, RuleYesNo:
		return &InputRule{Kind: k}, nil
	}
	return nil, fmt.Errorf("unknown validation rule %q", s)
}

// Check validates value against the rule and returns the value to bind.
// yes_no normalizes to "yes" or "no".
func (r *InputRule) Check(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch r.Kind {
	case RuleRequired:
		if trimmed == "" {
			return "", fmt.Errorf("a value is required")
		}
	case RuleNumber:
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return "", fmt.Errorf("%q is not a number", value)
		}
		return trimmed, nil
	case RuleInteger:
		if _, err := strconv.Atoi(trimmed); err != nil {
			return "", fmt.Errorf("%q is not an integer", value)
		}
		return trimmed, nil
	case RuleYesNo:
		switch strings.ToLower(trimmed) {
		case "y", "yes", "true":
			return "yes", nil
		case "n", "no", "false":
			return "no", nil
		}
		return "", fmt.Errorf("%q is not yes or no", value)
	case RuleRegex:
		if !r.Pattern.MatchString(value) {
			return "", fmt.Errorf("%q does not match %s", value, r.Pattern)
		}
	}
	return value, nil
}
