package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meow-stack/storyflow/internal/condition"
	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storystate"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

func (e *Executor) resolve(text string) string {
	return workflow.Resolve(text, e.state.Variables)
}

func (e *Executor) runGuide(ctx context.Context, step *types.Step) (string, error) {
	if step.Guide == nil || step.Guide.Message == "" {
		return step.Description, nil
	}
	text := e.resolve(step.Guide.Message)
	if e.opts.Emitter != nil {
		if err := e.opts.Emitter.Display(ctx, Message{
			Kind:     MessageGuide,
			Workflow: e.wf.Name,
			Step:     step.Name,
			Text:     text,
		}); err != nil {
			return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
		}
	}
	return text, nil
}

func (e *Executor) runDisplay(ctx context.Context, step *types.Step) (string, error) {
	if e.opts.Emitter == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "emitter")
	}
	text := e.resolve(step.Display.Message)
	if err := e.opts.Emitter.Display(ctx, Message{
		Kind:     MessageDisplay,
		Workflow: e.wf.Name,
		Step:     step.Name,
		Text:     text,
	}); err != nil {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
	}
	return text, nil
}

func (e *Executor) runElicit(ctx context.Context, step *types.Step) (string, error) {
	cfg := step.Elicit
	if e.opts.Input == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "input provider")
	}
	rule, err := workflow.ParseInputRule(cfg.Validation)
	if err != nil {
		return "", flowerrors.Wrapf(flowerrors.CodeStepInput, err, "step %q has a bad validation rule", step.Name)
	}

	req := ElicitRequest{
		Step:       step.Name,
		Prompt:     e.resolve(cfg.Prompt),
		Variable:   cfg.Variable,
		Validation: cfg.Validation,
		Default:    e.resolve(cfg.Default),
	}
	value, err := e.opts.Input.Elicit(ctx, req)
	if err != nil {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
	}
	if strings.TrimSpace(value) == "" && req.Default != "" {
		value = req.Default
	}

	checked, err := rule.Check(value)
	if err != nil {
		return "", flowerrors.Wrapf(flowerrors.CodeStepInput, err, "invalid input for %q", step.Name).
			WithDetail("variable", cfg.Variable).
			WithDetail("rule", cfg.Validation)
	}
	if cfg.Variable == "" {
		return "input received", nil
	}
	e.state.Variables[cfg.Variable] = typedInput(rule.Kind, checked)
	return fmt.Sprintf("%s = %s", cfg.Variable, checked), nil
}

// typedInput binds numeric answers as numbers so strict comparisons work.
func typedInput(kind workflow.InputRuleKind, value string) any {
	switch kind {
	case workflow.RuleInteger:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case workflow.RuleNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func (e *Executor) runReflect(ctx context.Context, step *types.Step) (string, error) {
	cfg := step.Reflect
	if e.opts.Generator == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "text generator")
	}
	params, _ := workflow.ResolveValue(cfg.Params, e.state.Variables).(map[string]any)
	text, err := e.opts.Generator.Generate(ctx, GenerateRequest{
		Prompt: e.resolve(cfg.Prompt),
		Model:  cfg.Model,
		Params: params,
	})
	if err != nil {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
	}
	if cfg.OutputVar != "" {
		e.state.Variables[cfg.OutputVar] = text
		return fmt.Sprintf("%s set (%d chars)", cfg.OutputVar, len(text)), nil
	}
	return fmt.Sprintf("generated %d chars", len(text)), nil
}

func (e *Executor) runTemplate(ctx context.Context, step *types.Step) (string, error) {
	cfg := step.Template
	if e.opts.Renderer == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "template renderer")
	}
	if e.opts.Storage == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "storage")
	}

	vars := types.CloneVariables(e.state.Variables)
	if local, ok := workflow.ResolveValue(cfg.Variables, e.state.Variables).(map[string]any); ok {
		for k, v := range local {
			vars[k] = v
		}
	}

	name := workflow.Resolve(cfg.Template, vars)
	text, err := e.opts.Renderer.Render(ctx, name, vars)
	if err != nil {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
	}

	out := workflow.Resolve(cfg.Output, vars)
	if !filepath.IsAbs(out) {
		base := e.opts.OutputDir
		if base == "" {
			base = e.opts.BaseDir
		}
		out = filepath.Join(base, out)
	}
	if err := e.opts.Storage.WriteFile(ctx, out, []byte(text)); err != nil {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), err)
	}
	return "wrote " + out, nil
}

func (e *Executor) runValidate(step *types.Step) (string, error) {
	cfg := step.Assertion
	ok, err := condition.Evaluate(cfg.Condition, e.state.Variables, e.opts.ValidateMode)
	if err != nil {
		return "", err
	}
	if !ok {
		msg := "validation failed: " + cfg.Condition
		if cfg.ErrorMessage != "" {
			msg = e.resolve(cfg.ErrorMessage)
		}
		return "", flowerrors.New(flowerrors.CodeValidationFailed, msg).
			WithDetail("step", step.Name).
			WithDetail("condition", cfg.Condition)
	}
	return "validation passed", nil
}

// boardPath resolves the status document a story step works on.
func (e *Executor) boardPath(step *types.Step, configured string) (string, error) {
	path := e.resolve(configured)
	if path == "" {
		path = e.opts.StatusFile
	}
	if path == "" {
		return "", flowerrors.StepFailed(step.Name, string(step.Action), fmt.Errorf("no status file configured"))
	}
	if !filepath.IsAbs(path) && e.opts.BaseDir != "" {
		path = filepath.Join(e.opts.BaseDir, path)
	}
	return path, nil
}

// Variables written by load_state_machine.
const (
	VarBacklogCount         = "BACKLOG_COUNT"
	VarTodoCount            = "TODO_COUNT"
	VarInProgressCount      = "IN_PROGRESS_COUNT"
	VarDoneCount            = "DONE_COUNT"
	VarStoryStateValid      = "STORY_STATE_VALID"
	VarStoryStateViolations = "STORY_STATE_VIOLATIONS"
)

func (e *Executor) runLoadStateMachine(ctx context.Context, step *types.Step) (string, error) {
	cfg := step.LoadStateMachine
	if cfg == nil {
		cfg = &types.LoadStateMachineConfig{}
	}
	if e.opts.Storage == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "storage")
	}
	path, err := e.boardPath(step, cfg.Path)
	if err != nil {
		return "", err
	}
	m, err := storystate.Load(ctx, e.opts.Storage, path)
	if err != nil {
		return "", err
	}

	vars := e.state.Variables
	for _, slot := range []storystate.State{storystate.Todo, storystate.InProgress} {
		story, found := m.Current(slot)
		prefix := string(slot) + "_STORY_"
		if cfg.WantsAttribute(types.AttrID) {
			vars[prefix+"ID"] = storyAttr(found, story.ID)
		}
		if cfg.WantsAttribute(types.AttrTitle) {
			vars[prefix+"TITLE"] = storyAttr(found, story.Title)
		}
		if cfg.WantsAttribute(types.AttrPoints) {
			var points any
			if found && story.HasPoints() {
				points = *story.Points
			}
			vars[prefix+"POINTS"] = points
		}
	}

	vars[VarBacklogCount] = len(m.List(storystate.Backlog))
	vars[VarTodoCount] = len(m.List(storystate.Todo))
	vars[VarInProgressCount] = len(m.List(storystate.InProgress))
	vars[VarDoneCount] = len(m.List(storystate.Done))

	violations := m.Validate()
	list := make([]any, len(violations))
	for i, v := range violations {
		list[i] = v.String()
	}
	vars[VarStoryStateValid] = len(violations) == 0
	vars[VarStoryStateViolations] = list

	return fmt.Sprintf("loaded %s (%d violation(s))", path, len(violations)), nil
}

func storyAttr(found bool, v string) any {
	if !found {
		return nil
	}
	return v
}

func (e *Executor) runTransitionStory(ctx context.Context, step *types.Step) (string, error) {
	cfg := step.TransitionStory
	if e.opts.Storage == nil {
		return "", flowerrors.StepNoCollaborator(step.Name, "storage")
	}
	id := e.resolve(cfg.StoryID)
	target, err := storystate.LookupState(e.resolve(cfg.Target))
	if err != nil {
		return "", err
	}
	path, err := e.boardPath(step, "")
	if err != nil {
		return "", err
	}
	m, err := storystate.Load(ctx, e.opts.Storage, path)
	if err != nil {
		return "", err
	}
	if err := m.Transition(ctx, id, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("moved %s to %s", id, target), nil
}

func (e *Executor) runSubWorkflow(ctx context.Context, idx int, step *types.Step) (string, error) {
	cfg := step.SubWorkflow
	path := workflow.ResolveRelative(e.wf.Path, e.resolve(cfg.WorkflowPath))
	contextVars, _ := workflow.ResolveValue(cfg.ContextVars, e.state.Variables).(map[string]any)
	if err := e.runChild(ctx, idx, 0, step, path, contextVars); err != nil {
		return "", err
	}
	return "sub-workflow completed: " + path, nil
}
