package workflow

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/meow-stack/storyflow/internal/condition"
	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storystate"
	"github.com/meow-stack/storyflow/internal/types"
)

// Format is a workflow definition encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Extensions lists the recognized definition file extensions, in search order.
var Extensions = []string{".yaml", ".yml", ".toml"}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// Warning is a non-fatal load finding.
type Warning struct {
	File    string
	Where   string
	Field   string
	Message string
}

func (w Warning) String() string {
	if w.Where == "" {
		return fmt.Sprintf("%s: %q: %s", w.File, w.Field, w.Message)
	}
	return fmt.Sprintf("%s: %s: %q: %s", w.File, w.Where, w.Field, w.Message)
}

// rawWorkflow is the on-disk shape. Step fields are flat; the action decides
// which of them are allowed.
type rawWorkflow struct {
	Name        string         `yaml:"name" toml:"name"`
	Description string         `yaml:"description" toml:"description"`
	Variables   map[string]any `yaml:"variables" toml:"variables"`
	Steps       []rawStep      `yaml:"steps" toml:"steps"`
}

type rawStep struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
	Action      string `yaml:"action" toml:"action"`
	Condition   string `yaml:"condition" toml:"condition"`
	When        string `yaml:"when" toml:"when"`

	Message      string         `yaml:"message" toml:"message"`
	Prompt       string         `yaml:"prompt" toml:"prompt"`
	Variable     string         `yaml:"variable" toml:"variable"`
	Validation   string         `yaml:"validation" toml:"validation"`
	Default      any            `yaml:"default" toml:"default"`
	Model        string         `yaml:"model" toml:"model"`
	Params       map[string]any `yaml:"params" toml:"params"`
	OutputVar    string         `yaml:"output_var" toml:"output_var"`
	Template     string         `yaml:"template" toml:"template"`
	Output       string         `yaml:"output" toml:"output"`
	Variables    map[string]any `yaml:"variables" toml:"variables"`
	ErrorMessage string         `yaml:"error_message" toml:"error_message"`
	Path         string         `yaml:"path" toml:"path"`
	Attributes   []string       `yaml:"attributes" toml:"attributes"`
	StoryID      string         `yaml:"story_id" toml:"story_id"`
	Target       string         `yaml:"target" toml:"target"`
	WorkflowPath string         `yaml:"workflow_path" toml:"workflow_path"`
	ContextVars  map[string]any `yaml:"context_vars" toml:"context_vars"`
	ConditionVar string         `yaml:"condition_var" toml:"condition_var"`
	Routing      map[string]any `yaml:"routing" toml:"routing"`
}

// set returns the action-specific fields that carry a value.
func (r *rawStep) set() []string {
	var fields []string
	add := func(name string, present bool) {
		if present {
			fields = append(fields, name)
		}
	}
	add("message", r.Message != "")
	add("prompt", r.Prompt != "")
	add("variable", r.Variable != "")
	add("validation", r.Validation != "")
	add("default", r.Default != nil)
	add("model", r.Model != "")
	add("params", r.Params != nil)
	add("output_var", r.OutputVar != "")
	add("template", r.Template != "")
	add("output", r.Output != "")
	add("variables", r.Variables != nil)
	add("error_message", r.ErrorMessage != "")
	add("path", r.Path != "")
	add("attributes", r.Attributes != nil)
	add("story_id", r.StoryID != "")
	add("target", r.Target != "")
	add("workflow_path", r.WorkflowPath != "")
	add("context_vars", r.ContextVars != nil)
	add("condition_var", r.ConditionVar != "")
	add("routing", r.Routing != nil)
	return fields
}

// actionFields lists the action-specific fields each action accepts.
var actionFields = map[types.Action][]string{
	types.ActionGuide:            {"message"},
	types.ActionElicit:           {"prompt", "variable", "validation", "default"},
	types.ActionReflect:          {"prompt", "model", "params", "output_var"},
	types.ActionTemplate:         {"template", "output", "variables"},
	types.ActionValidate:         {"error_message"},
	types.ActionDisplay:          {"message"},
	types.ActionLoadStateMachine: {"path", "attributes"},
	types.ActionTransitionStory:  {"story_id", "target"},
	types.ActionSubWorkflow:      {"workflow_path", "context_vars"},
	types.ActionRoute:            {"condition_var", "routing", "output_var"},
}

// Parse decodes and validates a workflow definition. path is used for error
// messages and becomes the workflow's identity; it is not read.
func Parse(data []byte, path string, format Format) (*types.Workflow, []Warning, error) {
	var raw rawWorkflow
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, flowerrors.LoadParseError(path, err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, nil, flowerrors.LoadParseError(path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, nil, flowerrors.LoadInvalidField(path, "", undecoded[0].String(), "is not a recognized field")
		}
	default:
		return nil, nil, flowerrors.Newf(flowerrors.CodeLoadParse, "%s: unsupported workflow format %q", path, format).
			WithDetail("file", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	b := &builder{file: path}
	wf := b.build(&raw)
	if b.err != nil {
		return nil, nil, b.err
	}
	wf.Path = abs
	return wf, b.warnings, nil
}

// builder converts a rawWorkflow, keeping the first error.
type builder struct {
	file     string
	err      error
	warnings []Warning
}

func (b *builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *builder) warnLegacy(where, field, text string) {
	if names := LegacyPlaceholders(text); len(names) > 0 {
		b.warnings = append(b.warnings, Warning{
			File:    b.file,
			Where:   where,
			Field:   field,
			Message: fmt.Sprintf("single-brace placeholder {%s} is deprecated, use {{%s}}", names[0], names[0]),
		})
	}
}

func (b *builder) build(raw *rawWorkflow) *types.Workflow {
	switch {
	case strings.TrimSpace(raw.Name) == "":
		b.fail(flowerrors.LoadMissingField(b.file, "", "name"))
	case strings.TrimSpace(raw.Description) == "":
		b.fail(flowerrors.LoadMissingField(b.file, "", "description"))
	case len(raw.Steps) == 0:
		b.fail(flowerrors.LoadMissingField(b.file, "", "steps"))
	}
	if b.err != nil {
		return nil
	}

	wf := &types.Workflow{
		Name:        raw.Name,
		Description: raw.Description,
		Variables:   raw.Variables,
		Steps:       make([]*types.Step, 0, len(raw.Steps)),
	}
	seen := make(map[string]int, len(raw.Steps))
	for i := range raw.Steps {
		rs := &raw.Steps[i]
		where := stepWhere(i, rs.Name)
		if rs.Name != "" {
			if first, dup := seen[rs.Name]; dup {
				b.fail(flowerrors.LoadInvalidField(b.file, where, "name", fmt.Sprintf("duplicates steps[%d]", first)))
				return nil
			}
			seen[rs.Name] = i
		}
		step := b.step(rs, where)
		if b.err != nil {
			return nil
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf
}

func stepWhere(i int, name string) string {
	if name == "" {
		return fmt.Sprintf("steps[%d]", i)
	}
	return fmt.Sprintf("steps[%d] (%q)", i, name)
}

func (b *builder) step(rs *rawStep, where string) *types.Step {
	if strings.TrimSpace(rs.Name) == "" {
		b.fail(flowerrors.LoadMissingField(b.file, where, "name"))
		return nil
	}
	if strings.TrimSpace(rs.Action) == "" {
		b.fail(flowerrors.LoadMissingField(b.file, where, "action"))
		return nil
	}
	action, ok := types.ParseAction(rs.Action)
	if !ok {
		err := flowerrors.LoadUnknownAction(b.file, where, rs.Action)
		if s := suggestAction(rs.Action); s != "" {
			err.Message += fmt.Sprintf(" (did you mean %q?)", s)
			err.WithDetail("suggest", s)
		}
		b.fail(err)
		return nil
	}

	allowed := actionFields[action]
	for _, f := range rs.set() {
		if !contains(allowed, f) {
			b.fail(flowerrors.LoadInvalidField(b.file, where, f, fmt.Sprintf("is not used by action %s", action)))
			return nil
		}
	}

	step := &types.Step{
		Name:        rs.Name,
		Description: rs.Description,
		Action:      action,
		Condition:   rs.Condition,
		When:        rs.When,
	}
	if !b.checkCondition(where, "when", rs.When) {
		return nil
	}
	if action != types.ActionValidate && !b.checkCondition(where, "condition", rs.Condition) {
		return nil
	}

	switch action {
	case types.ActionGuide:
		b.warnLegacy(where, "message", rs.Message)
		step.Guide = &types.GuideConfig{Message: rs.Message}

	case types.ActionElicit:
		if !b.require(where, "prompt", rs.Prompt) {
			return nil
		}
		if _, err := ParseInputRule(rs.Validation); err != nil {
			b.fail(flowerrors.LoadInvalidField(b.file, where, "validation", err.Error()))
			return nil
		}
		b.warnLegacy(where, "prompt", rs.Prompt)
		def := ""
		if rs.Default != nil {
			def = StringifyValue(rs.Default)
		}
		step.Elicit = &types.ElicitConfig{Prompt: rs.Prompt, Variable: rs.Variable, Validation: rs.Validation, Default: def}

	case types.ActionReflect:
		if !b.require(where, "prompt", rs.Prompt) {
			return nil
		}
		b.warnLegacy(where, "prompt", rs.Prompt)
		step.Reflect = &types.ReflectConfig{Prompt: rs.Prompt, Model: rs.Model, Params: rs.Params, OutputVar: rs.OutputVar}

	case types.ActionTemplate:
		if !b.require(where, "template", rs.Template) || !b.require(where, "output", rs.Output) {
			return nil
		}
		b.warnLegacy(where, "output", rs.Output)
		step.Template = &types.TemplateConfig{Template: rs.Template, Output: rs.Output, Variables: rs.Variables}

	case types.ActionValidate:
		if !b.require(where, "condition", rs.Condition) {
			return nil
		}
		if !b.checkCondition(where, "condition", rs.Condition) {
			return nil
		}
		b.warnLegacy(where, "error_message", rs.ErrorMessage)
		step.Assertion = &types.ValidateConfig{Condition: rs.Condition, ErrorMessage: rs.ErrorMessage}
		step.Condition = ""

	case types.ActionDisplay:
		if !b.require(where, "message", rs.Message) {
			return nil
		}
		b.warnLegacy(where, "message", rs.Message)
		step.Display = &types.DisplayConfig{Message: rs.Message}

	case types.ActionLoadStateMachine:
		for _, a := range rs.Attributes {
			switch strings.ToLower(a) {
			case types.AttrID, types.AttrTitle, types.AttrPoints:
			default:
				b.fail(flowerrors.LoadInvalidField(b.file, where, "attributes",
					fmt.Sprintf("contains %q (allowed: id, title, points)", a)))
				return nil
			}
		}
		step.LoadStateMachine = &types.LoadStateMachineConfig{Path: rs.Path, Attributes: rs.Attributes}

	case types.ActionTransitionStory:
		if !b.require(where, "story_id", rs.StoryID) || !b.require(where, "target", rs.Target) {
			return nil
		}
		if !strings.Contains(rs.Target, "{") {
			if _, ok := storystate.ParseState(rs.Target); !ok {
				b.fail(flowerrors.LoadInvalidField(b.file, where, "target",
					fmt.Sprintf("is not a story state: %q", rs.Target)))
				return nil
			}
		}
		b.warnLegacy(where, "story_id", rs.StoryID)
		step.TransitionStory = &types.TransitionStoryConfig{StoryID: rs.StoryID, Target: rs.Target}

	case types.ActionSubWorkflow:
		if !b.require(where, "workflow_path", rs.WorkflowPath) {
			return nil
		}
		b.warnLegacy(where, "workflow_path", rs.WorkflowPath)
		for _, k := range sortedKeys(rs.ContextVars) {
			if s, ok := rs.ContextVars[k].(string); ok {
				b.warnLegacy(where, "context_vars."+k, s)
			}
		}
		step.SubWorkflow = &types.SubWorkflowConfig{WorkflowPath: rs.WorkflowPath, ContextVars: rs.ContextVars}

	case types.ActionRoute:
		if !b.require(where, "condition_var", rs.ConditionVar) {
			return nil
		}
		if len(rs.Routing) == 0 {
			b.fail(flowerrors.LoadMissingField(b.file, where, "routing"))
			return nil
		}
		routing, err := b.routing(where, rs.Routing)
		if err != nil {
			b.fail(err)
			return nil
		}
		step.Route = &types.RouteConfig{ConditionVar: rs.ConditionVar, Routing: routing, OutputVar: rs.OutputVar}
	}
	return step
}

func (b *builder) require(where, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		b.fail(flowerrors.LoadMissingField(b.file, where, field))
		return false
	}
	return true
}

func (b *builder) checkCondition(where, field, expr string) bool {
	if expr == "" {
		return true
	}
	if err := condition.Check(expr); err != nil {
		b.fail(flowerrors.LoadInvalidField(b.file, where, field, "is not a valid condition").WithCause(err))
		return false
	}
	return true
}

// routing normalizes routing map values. A value is either a list of paths
// or an object with workflows and an optional description.
func (b *builder) routing(where string, raw map[string]any) (map[string]*types.RouteTarget, error) {
	out := make(map[string]*types.RouteTarget, len(raw))
	for _, key := range sortedKeys(raw) {
		field := "routing." + key
		if !types.ValidRouteKey(key) {
			return nil, flowerrors.LoadInvalidField(b.file, where, field,
				fmt.Sprintf("is not a routing key (use level_%d..level_%d or %s)", types.MinLevel, types.MaxLevel, types.DefaultRouteKey))
		}
		target := &types.RouteTarget{}
		switch v := raw[key].(type) {
		case []any:
			paths, err := stringList(v)
			if err != nil {
				return nil, flowerrors.LoadInvalidField(b.file, where, field, err.Error())
			}
			target.Workflows = paths
		case map[string]any:
			for k := range v {
				if k != "workflows" && k != "description" {
					return nil, flowerrors.LoadInvalidField(b.file, where, field+"."+k, "is not a recognized field")
				}
			}
			list, ok := v["workflows"].([]any)
			if !ok {
				return nil, flowerrors.LoadMissingField(b.file, where, field+".workflows")
			}
			paths, err := stringList(list)
			if err != nil {
				return nil, flowerrors.LoadInvalidField(b.file, where, field+".workflows", err.Error())
			}
			target.Workflows = paths
			if d, ok := v["description"]; ok {
				target.Description = StringifyValue(d)
			}
		default:
			return nil, flowerrors.LoadInvalidField(b.file, where, field, "must be a list of workflow paths or {workflows, description}")
		}
		if len(target.Workflows) == 0 {
			return nil, flowerrors.LoadInvalidField(b.file, where, field, "lists no workflows")
		}
		for _, p := range target.Workflows {
			b.warnLegacy(where, field, p)
		}
		out[key] = target
	}
	return out, nil
}

func stringList(items []any) ([]string, error) {
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("entry %d must be a non-empty path", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
