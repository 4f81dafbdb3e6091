package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Action determines what a step does when the executor reaches it.
// The set is closed: the loader rejects anything not listed here and the
// executor switches over it exhaustively.
type Action string

const (
	// Interaction actions
	ActionGuide   Action = "guide"   // Narration, optional message
	ActionElicit  Action = "elicit"  // Ask the input provider for a value
	ActionReflect Action = "reflect" // Ask the text generator for a value
	ActionDisplay Action = "display" // Emit a resolved message

	// Data actions
	ActionTemplate Action = "template" // Render a template to an output path
	ActionValidate Action = "validate" // Assert a condition

	// Story board actions
	ActionLoadStateMachine Action = "load_state_machine" // Copy board attributes into variables
	ActionTransitionStory  Action = "transition_story"   // Move a story between states

	// Child workflow actions
	ActionSubWorkflow Action = "sub-workflow" // Run one nested workflow
	ActionRoute       Action = "route"        // Run a level-selected list of workflows
)

// actionAliases maps alternate spellings accepted in definitions.
var actionAliases = map[string]Action{
	"render_template": ActionTemplate,
	"sub_workflow":    ActionSubWorkflow,
	"subworkflow":     ActionSubWorkflow,
}

// ParseAction resolves a definition's action string, including aliases.
func ParseAction(s string) (Action, bool) {
	s = strings.TrimSpace(s)
	if a, ok := actionAliases[s]; ok {
		return a, true
	}
	a := Action(s)
	return a, a.Valid()
}

// Valid returns true if this is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionGuide, ActionElicit, ActionReflect, ActionDisplay,
		ActionTemplate, ActionValidate,
		ActionLoadStateMachine, ActionTransitionStory,
		ActionSubWorkflow, ActionRoute:
		return true
	}
	return false
}

// RunsChildren returns true if the action starts child workflows.
func (a Action) RunsChildren() bool {
	return a == ActionSubWorkflow || a == ActionRoute
}

// GuideConfig for action: guide
type GuideConfig struct {
	Message string `yaml:"message,omitempty" toml:"message,omitempty"`
}

// ElicitConfig for action: elicit
type ElicitConfig struct {
	Prompt     string `yaml:"prompt" toml:"prompt"`
	Variable   string `yaml:"variable,omitempty" toml:"variable,omitempty"`
	Validation string `yaml:"validation,omitempty" toml:"validation,omitempty"` // required | number | integer | yes_no | regex:<expr>
	Default    string `yaml:"default,omitempty" toml:"default,omitempty"`
}

// ReflectConfig for action: reflect
type ReflectConfig struct {
	Prompt    string         `yaml:"prompt" toml:"prompt"`
	Model     string         `yaml:"model,omitempty" toml:"model,omitempty"`
	Params    map[string]any `yaml:"params,omitempty" toml:"params,omitempty"`
	OutputVar string         `yaml:"output_var,omitempty" toml:"output_var,omitempty"`
}

// TemplateConfig for action: template (alias render_template)
type TemplateConfig struct {
	Template  string         `yaml:"template" toml:"template"`
	Output    string         `yaml:"output" toml:"output"`
	Variables map[string]any `yaml:"variables,omitempty" toml:"variables,omitempty"`
}

// ValidateConfig for action: validate
type ValidateConfig struct {
	Condition    string `yaml:"condition" toml:"condition"`
	ErrorMessage string `yaml:"error_message,omitempty" toml:"error_message,omitempty"`
}

// DisplayConfig for action: display
type DisplayConfig struct {
	Message string `yaml:"message" toml:"message"`
}

// Story attributes that load_state_machine can copy into variables.
const (
	AttrID     = "id"
	AttrTitle  = "title"
	AttrPoints = "points"
)

// LoadStateMachineConfig for action: load_state_machine
type LoadStateMachineConfig struct {
	Path       string   `yaml:"path,omitempty" toml:"path,omitempty"`             // Defaults to the configured status file
	Attributes []string `yaml:"attributes,omitempty" toml:"attributes,omitempty"` // Subset of id, title, points; empty means all
}

// WantsAttribute reports whether attr should be copied.
func (c *LoadStateMachineConfig) WantsAttribute(attr string) bool {
	if len(c.Attributes) == 0 {
		return true
	}
	for _, a := range c.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// TransitionStoryConfig for action: transition_story
type TransitionStoryConfig struct {
	StoryID string `yaml:"story_id" toml:"story_id"`
	Target  string `yaml:"target" toml:"target"`
}

// SubWorkflowConfig for action: sub-workflow
type SubWorkflowConfig struct {
	WorkflowPath string         `yaml:"workflow_path" toml:"workflow_path"`
	ContextVars  map[string]any `yaml:"context_vars,omitempty" toml:"context_vars,omitempty"`
}

// Routing levels.
const (
	MinLevel        = 0
	MaxLevel        = 4
	DefaultRouteKey = "default"
)

// LevelKey returns the routing map key for a level, e.g. "level_2".
func LevelKey(level int) string {
	return "level_" + strconv.Itoa(level)
}

// ValidRouteKey reports whether key may appear in a routing map.
func ValidRouteKey(key string) bool {
	if key == DefaultRouteKey {
		return true
	}
	for l := MinLevel; l <= MaxLevel; l++ {
		if key == LevelKey(l) {
			return true
		}
	}
	return false
}

// RouteTarget is one entry of a routing map.
type RouteTarget struct {
	Workflows   []string `yaml:"workflows" toml:"workflows"`
	Description string   `yaml:"description,omitempty" toml:"description,omitempty"`
}

// RouteConfig for action: route
type RouteConfig struct {
	ConditionVar string                  `yaml:"condition_var" toml:"condition_var"`
	Routing      map[string]*RouteTarget `yaml:"routing" toml:"routing"`
	OutputVar    string                  `yaml:"output_var,omitempty" toml:"output_var,omitempty"`
}

// Lookup returns the workflow list for a level, falling back to the
// default route. The returned key names the entry that matched.
func (c *RouteConfig) Lookup(level int) (paths []string, key string, ok bool) {
	if t, found := c.Routing[LevelKey(level)]; found && t != nil {
		return t.Workflows, LevelKey(level), true
	}
	if t, found := c.Routing[DefaultRouteKey]; found && t != nil {
		return t.Workflows, DefaultRouteKey, true
	}
	return nil, "", false
}

// Step is one action-tagged unit of work within a workflow.
// Exactly one config pointer is populated, matching Action.
type Step struct {
	// Identity
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty"`
	Action      Action `yaml:"action" toml:"action"`

	// Gates, evaluated permissively before dispatch. For validate steps
	// Condition is the assertion itself and only When gates.
	Condition string `yaml:"condition,omitempty" toml:"condition,omitempty"`
	When      string `yaml:"when,omitempty" toml:"when,omitempty"`

	// Action-specific config (exactly one populated based on Action)
	Guide            *GuideConfig            `yaml:"guide,omitempty" toml:"guide,omitempty"`
	Elicit           *ElicitConfig           `yaml:"elicit,omitempty" toml:"elicit,omitempty"`
	Reflect          *ReflectConfig          `yaml:"reflect,omitempty" toml:"reflect,omitempty"`
	Template         *TemplateConfig         `yaml:"template,omitempty" toml:"template,omitempty"`
	Assertion        *ValidateConfig         `yaml:"validate,omitempty" toml:"validate,omitempty"`
	Display          *DisplayConfig          `yaml:"display,omitempty" toml:"display,omitempty"`
	LoadStateMachine *LoadStateMachineConfig `yaml:"load_state_machine,omitempty" toml:"load_state_machine,omitempty"`
	TransitionStory  *TransitionStoryConfig  `yaml:"transition_story,omitempty" toml:"transition_story,omitempty"`
	SubWorkflow      *SubWorkflowConfig      `yaml:"sub_workflow,omitempty" toml:"sub_workflow,omitempty"`
	Route            *RouteConfig            `yaml:"route,omitempty" toml:"route,omitempty"`
}

// Gates returns the gate expressions to evaluate before dispatch.
func (s *Step) Gates() []string {
	var gates []string
	if s.When != "" {
		gates = append(gates, s.When)
	}
	if s.Condition != "" && s.Action != ActionValidate {
		gates = append(gates, s.Condition)
	}
	return gates
}

// Validate checks the step is well-formed.
func (s *Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("step %s: invalid action: %s", s.Name, s.Action)
	}
	return s.validateConfig()
}

// validateConfig ensures exactly one config is set matching the action.
func (s *Step) validateConfig() error {
	configs := map[Action]bool{
		ActionGuide:            s.Guide != nil,
		ActionElicit:           s.Elicit != nil,
		ActionReflect:          s.Reflect != nil,
		ActionTemplate:         s.Template != nil,
		ActionValidate:         s.Assertion != nil,
		ActionDisplay:          s.Display != nil,
		ActionLoadStateMachine: s.LoadStateMachine != nil,
		ActionTransitionStory:  s.TransitionStory != nil,
		ActionSubWorkflow:      s.SubWorkflow != nil,
		ActionRoute:            s.Route != nil,
	}

	if !configs[s.Action] {
		return fmt.Errorf("step %s: missing config for action %s", s.Name, s.Action)
	}

	for action, hasConfig := range configs {
		if hasConfig && action != s.Action {
			return fmt.Errorf("step %s: has config for %s but action is %s", s.Name, action, s.Action)
		}
	}
	return nil
}
