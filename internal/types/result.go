package types

import (
	"time"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// StepResult is what the executor returns for every step attempt. The
// executor never panics or returns a bare error across a step boundary.
type StepResult struct {
	Success   bool
	Skipped   bool // Gate evaluated false; pointer advanced, no side effects
	Completed bool // Workflow is complete after this call
	StepIndex int
	StepName  string
	Action    Action
	Message   string
	Err       *flowerrors.FlowError
}

// RoutingResult describes one executed routing step.
type RoutingResult struct {
	Level         int       `yaml:"level"`
	RouteKey      string    `yaml:"route_key"` // level_N or default
	ExecutedCount int       `yaml:"executed_count"`
	ExecutedPaths []string  `yaml:"executed_paths"`
	StartedAt     time.Time `yaml:"started_at"`
	EndedAt       time.Time `yaml:"ended_at"`
	Success       bool      `yaml:"success"`
	Errors        []string  `yaml:"errors,omitempty"`
}

// ToMap converts the result into a plain variable value so it survives
// the state file round trip.
func (r *RoutingResult) ToMap() map[string]any {
	paths := make([]any, len(r.ExecutedPaths))
	for i, p := range r.ExecutedPaths {
		paths[i] = p
	}
	m := map[string]any{
		"level":          r.Level,
		"route_key":      r.RouteKey,
		"executed_count": r.ExecutedCount,
		"executed_paths": paths,
		"started_at":     r.StartedAt.UTC().Format(time.RFC3339Nano),
		"ended_at":       r.EndedAt.UTC().Format(time.RFC3339Nano),
		"success":        r.Success,
	}
	if len(r.Errors) > 0 {
		errs := make([]any, len(r.Errors))
		for i, e := range r.Errors {
			errs[i] = e
		}
		m["errors"] = errs
	}
	return m
}

// RoutingResultFromValue reads a routing result back from a variable value.
func RoutingResultFromValue(v any) (*RoutingResult, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	r := &RoutingResult{}
	r.Level, ok = asInt(m["level"])
	if !ok {
		return nil, false
	}
	r.ExecutedCount, _ = asInt(m["executed_count"])
	r.RouteKey, _ = m["route_key"].(string)
	r.Success, _ = m["success"].(bool)
	r.ExecutedPaths = asStrings(m["executed_paths"])
	r.Errors = asStrings(m["errors"])
	if s, ok := m["started_at"].(string); ok {
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := m["ended_at"].(string); ok {
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return r, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	}
	return 0, false
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
