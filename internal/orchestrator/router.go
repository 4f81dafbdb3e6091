package orchestrator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

var levelDigits = regexp.MustCompile(`-?\d+`)

// ExtractLevel reads a complexity level from a variable value.
// Accepted, in order: an integral number, "level_<N>", or the first signed
// integer found in a string ("complexity: 3" -> 3). The level must lie in
// [MinLevel, MaxLevel].
func ExtractLevel(variable string, v any) (int, error) {
	var level int
	switch n := v.(type) {
	case nil:
		return 0, flowerrors.RouteInvalidLevel(variable, v, "variable is not set")
	case int:
		level = n
	case int64:
		level = int(n)
	case uint64:
		level = int(n)
	case float64:
		if n != math.Trunc(n) {
			return 0, flowerrors.RouteInvalidLevel(variable, v, "not a whole number")
		}
		level = int(n)
	case string:
		parsed, ok := levelFromString(n)
		if !ok {
			return 0, flowerrors.RouteInvalidLevel(variable, v, "no level number found")
		}
		level = parsed
	default:
		return 0, flowerrors.RouteInvalidLevel(variable, v, fmt.Sprintf("unsupported type %T", v))
	}

	if level < types.MinLevel || level > types.MaxLevel {
		return 0, flowerrors.RouteInvalidLevel(variable, v,
			fmt.Sprintf("level must be between %d and %d", types.MinLevel, types.MaxLevel))
	}
	return level, nil
}

func levelFromString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "level_"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return n, true
		}
	}
	if m := levelDigits.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n, true
		}
	}
	return 0, false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == math.Trunc(n)
	}
	return 0, false
}

// runRoute executes the workflows selected by the level in order. The
// first failure stops the batch; on retry, children already completed for
// this step keep their result and are not run again.
func (e *Executor) runRoute(ctx context.Context, idx int, step *types.Step) (string, error) {
	cfg := step.Route
	raw, _ := types.LookupVar(e.state.Variables, cfg.ConditionVar)
	level, err := ExtractLevel(cfg.ConditionVar, raw)
	if err != nil {
		return "", err
	}
	paths, key, ok := cfg.Lookup(level)
	if !ok {
		return "", flowerrors.RouteNoWorkflows(level)
	}

	result := &types.RoutingResult{
		Level:         level,
		RouteKey:      key,
		ExecutedPaths: []string{},
		StartedAt:     e.now(),
		Success:       true,
	}
	for i, p := range paths {
		path := workflow.ResolveRelative(e.wf.Path, e.resolve(p))
		if err := e.runChild(ctx, idx, i, step, path, nil); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			result.EndedAt = e.now()
			e.tracer.LogRoute(step.Name, result)
			return "", flowerrors.Wrapf(flowerrors.CodeRouteChildFailed, err,
				"routing %s stopped at %s (%d of %d)", key, path, i+1, len(paths)).
				WithDetail("level", level).
				WithDetail("executed_count", result.ExecutedCount)
		}
		result.ExecutedCount++
		result.ExecutedPaths = append(result.ExecutedPaths, path)
	}
	result.EndedAt = e.now()

	e.state.Variables[types.VarRoutingResult] = result.ToMap()
	if cfg.OutputVar != "" {
		e.state.Variables[cfg.OutputVar] = result.ToMap()
	}
	e.tracer.LogRoute(step.Name, result)
	return fmt.Sprintf("level %d (%s): ran %d workflow(s)", level, key, result.ExecutedCount), nil
}
