package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/testutil"
	"github.com/meow-stack/storyflow/internal/types"
)

const planYAML = `name: plan
variables:
  team: core
steps:
  - name: intro
    action: guide
    message: Planning for {{team}}
  - name: ask-size
    action: elicit
    prompt: Points for {{team}}?
    variable: size
    validation: integer
  - name: summarize
    action: reflect
    prompt: Summarize {{size}} points
    output_var: summary
  - name: check
    action: validate
    condition: ${size} > 0
    error_message: size must be positive, got {{size}}
  - name: show
    action: display
    message: "{{summary}}"
`

func TestExecutor_RunsAllSteps(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/plan.yaml", planYAML)

	var prompts []string
	e := h.executor(t, "/wf/plan.yaml", func(o *Options) {
		o.Input = inputFunc(func(_ context.Context, req ElicitRequest) (string, error) {
			prompts = append(prompts, req.Prompt)
			return "5", nil
		})
		o.Generator = generatorFunc(func(_ context.Context, req GenerateRequest) (string, error) {
			return "summary of " + req.Prompt, nil
		})
	})

	mustResume(t, e)

	if !reflect.DeepEqual(prompts, []string{"Points for core?"}) {
		t.Errorf("prompts = %v", prompts)
	}
	want := []string{"Planning for core", "summary of Summarize 5 points"}
	if got := h.emit.texts(); !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	st := e.GetState()
	if st.Variables["size"] != 5 {
		t.Errorf("size = %#v, want int 5", st.Variables["size"])
	}
	if st.CurrentStep != 5 || !st.Completed {
		t.Errorf("pointer = %d completed = %t", st.CurrentStep, st.Completed)
	}
	if len(st.History) != 5 {
		t.Errorf("history has %d entries", len(st.History))
	}

	persisted := h.state(t, "plan")
	if !persisted.Completed || persisted.InstanceID != st.InstanceID {
		t.Errorf("persisted state = %+v", persisted)
	}
}

func TestExecutor_CompletedIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/one.yaml", "name: one\nsteps:\n  - name: a\n    action: guide\n    message: hi\n")

	e := h.executor(t, "/wf/one.yaml")
	mustResume(t, e)

	res := e.ExecuteNextStep(context.Background())
	if !res.Success || !res.Completed {
		t.Fatalf("result = %+v", res)
	}
	if h.emit.count("hi") != 1 {
		t.Errorf("guide ran %d times", h.emit.count("hi"))
	}
}

func TestExecutor_SkipsFalseGate(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/gate.yaml", `name: gate
variables:
  mode: quick
steps:
  - name: detailed
    action: display
    message: long form
    condition: ${mode} === "full"
  - name: missing
    action: display
    message: never
    when: ${undefined_var} === true
  - name: done
    action: display
    message: finished
`)
	e := h.executor(t, "/wf/gate.yaml")

	res := e.ExecuteNextStep(context.Background())
	if !res.Success || !res.Skipped || res.StepName != "detailed" {
		t.Fatalf("first result = %+v", res)
	}
	res = e.ExecuteNextStep(context.Background())
	if !res.Skipped {
		t.Fatalf("unresolved gate should skip in permissive mode: %+v", res)
	}
	res = e.ExecuteNextStep(context.Background())
	if res.Skipped || !res.Completed {
		t.Fatalf("last result = %+v", res)
	}

	if got := h.emit.texts(); !reflect.DeepEqual(got, []string{"finished"}) {
		t.Errorf("messages = %v", got)
	}
	hist := h.state(t, "gate").History
	if hist[0].Outcome != types.OutcomeSkipped || hist[2].Outcome != types.OutcomeExecuted {
		t.Errorf("history = %+v", hist)
	}
}

func TestExecutor_FailureKeepsPointer(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/check.yaml", `name: check
variables:
  size: 0
steps:
  - name: intro
    action: guide
  - name: check
    action: validate
    condition: ${size} > 0
    error_message: size must be positive, got {{size}}
`)
	e := h.executor(t, "/wf/check.yaml")
	if res := e.ExecuteNextStep(context.Background()); !res.Success {
		t.Fatalf("intro failed: %v", res.Err)
	}
	before := h.read(t, h.store.PathFor("check"))

	for i := 0; i < 2; i++ {
		res := e.ExecuteNextStep(context.Background())
		if res.Success {
			t.Fatal("expected validation failure")
		}
		if res.Err.Code != flowerrors.CodeValidationFailed {
			t.Errorf("code = %s", res.Err.Code)
		}
		if res.Message != "[VALID_001] size must be positive, got 0" {
			t.Errorf("message = %q", res.Message)
		}
		if res.StepIndex != 1 || e.GetState().CurrentStep != 1 {
			t.Errorf("pointer moved: result %d state %d", res.StepIndex, e.GetState().CurrentStep)
		}
	}
	if after := h.read(t, h.store.PathFor("check")); after != before {
		t.Error("failed step changed the persisted state")
	}
}

func TestExecutor_ValidateDefaultMessage(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/v.yaml", "name: v\nsteps:\n  - name: c\n    action: validate\n    condition: 1 > 2\n")
	res := h.executor(t, "/wf/v.yaml").ExecuteNextStep(context.Background())
	if res.Success || res.Err.Message != "validation failed: 1 > 2" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecutor_ValidateStrictRejectsUnresolved(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/v.yaml", "name: v\nsteps:\n  - name: c\n    action: validate\n    condition: ${nope} === 1\n")
	res := h.executor(t, "/wf/v.yaml").ExecuteNextStep(context.Background())
	if res.Success || res.Err.Code != flowerrors.CodeConditionUnresolved {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecutor_ResumesFromPersistedState(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/three.yaml", `name: three
steps:
  - name: a
    action: display
    message: A
  - name: b
    action: display
    message: B
  - name: c
    action: display
    message: C
`)
	first := h.executor(t, "/wf/three.yaml")
	if res := first.ExecuteNextStep(context.Background()); !res.Success {
		t.Fatalf("step a failed: %v", res.Err)
	}
	id := first.GetState().InstanceID

	second := h.executor(t, "/wf/three.yaml")
	if err := second.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	st := second.GetState()
	if st.CurrentStep != 1 || st.InstanceID != id {
		t.Fatalf("resumed at %d with id %s, want 1 and %s", st.CurrentStep, st.InstanceID, id)
	}
	mustResume(t, second)

	if got := h.emit.texts(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("messages = %v", got)
	}
}

func TestExecutor_ReplacesUnusableState(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"corrupt yaml", "workflow_name: [unclosed"},
		{"other workflow", "workflow_name: other\nstate_key: fresh\ncurrent_step: 1\n"},
		{"pointer out of range", "workflow_name: fresh\nstate_key: fresh\ncurrent_step: 7\n"},
		{"completed flag wrong", "workflow_name: fresh\nstate_key: fresh\ncurrent_step: 0\ncompleted: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.write(t, "/wf/fresh.yaml", "name: fresh\nsteps:\n  - name: a\n    action: guide\n")
			h.write(t, h.store.PathFor("fresh"), tt.state)

			logs := testutil.NewTestLogger(t)
			e := h.executor(t, "/wf/fresh.yaml", func(o *Options) { o.Logger = logs.Logger })
			if err := e.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			st := e.GetState()
			if st.WorkflowName != "fresh" || st.CurrentStep != 0 || st.InstanceID == "" {
				t.Errorf("state = %+v", st)
			}
			logs.AssertContains(t, "discarding")
			logs.AssertAttr(t, "discarding", "key", "fresh")
			logs.AssertContains(t, "starting workflow")
		})
	}
}

func TestExecutor_InitialVarsOverDefaults(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/vars.yaml", "name: vars\nvariables:\n  a: 1\n  b: 2\nsteps:\n  - name: s\n    action: guide\n")
	e := h.executor(t, "/wf/vars.yaml", func(o *Options) {
		o.InitialVars = map[string]any{"b": "override", "c": true}
	})
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	vars := e.GetState().Variables
	if vars["a"] != 1 || vars["b"] != "override" || vars["c"] != true {
		t.Errorf("vars = %v", vars)
	}
	if vars[types.VarWorkflowDepth] != 0 {
		t.Errorf("depth = %v", vars[types.VarWorkflowDepth])
	}
	if !reflect.DeepEqual(vars[types.VarVisitedWorkflows], []any{"/wf/vars.yaml"}) {
		t.Errorf("chain = %v", vars[types.VarVisitedWorkflows])
	}
}

func TestExecutor_MissingCollaborators(t *testing.T) {
	tests := []struct {
		name string
		step string
	}{
		{"elicit", "  - name: s\n    action: elicit\n    prompt: p\n"},
		{"reflect", "  - name: s\n    action: reflect\n    prompt: p\n"},
		{"template", "  - name: s\n    action: template\n    template: t\n    output: o\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.write(t, "/wf/m.yaml", "name: m\nsteps:\n"+tt.step)
			res := h.executor(t, "/wf/m.yaml").ExecuteNextStep(context.Background())
			if res.Success || res.Err.Code != flowerrors.CodeStepNoCollaborator {
				t.Fatalf("result = %+v", res)
			}
		})
	}

	t.Run("display", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "/wf/m.yaml", "name: m\nsteps:\n  - name: s\n    action: display\n    message: x\n")
		res := h.executor(t, "/wf/m.yaml", func(o *Options) { o.Emitter = nil }).ExecuteNextStep(context.Background())
		if res.Success || res.Err.Code != flowerrors.CodeStepNoCollaborator {
			t.Fatalf("result = %+v", res)
		}
	})
}

func TestExecutor_RecoversCollaboratorPanic(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/p.yaml", "name: p\nsteps:\n  - name: think\n    action: reflect\n    prompt: go\n")
	e := h.executor(t, "/wf/p.yaml", func(o *Options) {
		o.Generator = generatorFunc(func(context.Context, GenerateRequest) (string, error) {
			panic("model exploded")
		})
	})

	res := e.ExecuteNextStep(context.Background())
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Err.Code != flowerrors.CodeStepFailed || !strings.Contains(res.Message, "model exploded") {
		t.Errorf("result = %+v", res)
	}
	if e.GetState().CurrentStep != 0 {
		t.Error("pointer advanced after panic")
	}
}

func TestExecutor_ElicitRules(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		def      string
		answer   string
		want     any
		wantCode string
	}{
		{"integer typed", "integer", "", "12", 12, ""},
		{"number typed", "number", "", "2.5", 2.5, ""},
		{"default used", "integer", "8", "  ", 8, ""},
		{"yes_no normalized", "yes_no", "", "Y", "yes", ""},
		{"integer rejected", "integer", "", "twelve", nil, flowerrors.CodeStepInput},
		{"required rejected", "required", "", "", nil, flowerrors.CodeStepInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			def := ""
			if tt.def != "" {
				def = "    default: " + tt.def + "\n"
			}
			h.write(t, "/wf/e.yaml", "name: e\nsteps:\n  - name: ask\n    action: elicit\n    prompt: value?\n    variable: v\n    validation: "+tt.rule+"\n"+def)

			var got ElicitRequest
			e := h.executor(t, "/wf/e.yaml", func(o *Options) {
				o.Input = inputFunc(func(_ context.Context, req ElicitRequest) (string, error) {
					got = req
					return tt.answer, nil
				})
			})
			res := e.ExecuteNextStep(context.Background())

			if tt.wantCode != "" {
				if res.Success || res.Err.Code != tt.wantCode {
					t.Fatalf("result = %+v", res)
				}
				if _, bound := e.GetState().Variables["v"]; bound {
					t.Error("rejected value was bound")
				}
				return
			}
			if !res.Success {
				t.Fatalf("step failed: %v", res.Err)
			}
			if v := e.GetState().Variables["v"]; v != tt.want {
				t.Errorf("v = %#v, want %#v", v, tt.want)
			}
			if got.Variable != "v" || got.Validation != tt.rule || got.Default != tt.def {
				t.Errorf("request = %+v", got)
			}
		})
	}
}

func TestExecutor_InputProviderError(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/e.yaml", "name: e\nsteps:\n  - name: ask\n    action: elicit\n    prompt: value?\n    variable: v\n")
	e := h.executor(t, "/wf/e.yaml", func(o *Options) {
		o.Input = inputFunc(func(context.Context, ElicitRequest) (string, error) {
			return "", errors.New("no terminal")
		})
	})
	res := e.ExecuteNextStep(context.Background())
	if res.Success || res.Err.Code != flowerrors.CodeStepFailed || !strings.Contains(res.Message, "no terminal") {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecutor_Template(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/t.yaml", `name: t
variables:
  story: S1
  owner: team
steps:
  - name: render
    action: render_template
    template: "{{story}}.md.tmpl"
    output: notes/{{story}}-{{owner}}.md
    variables:
      owner: alice
`)
	var gotName string
	var gotVars map[string]any
	e := h.executor(t, "/wf/t.yaml", func(o *Options) {
		o.Renderer = rendererFunc(func(_ context.Context, name string, vars map[string]any) (string, error) {
			gotName, gotVars = name, vars
			return "rendered for " + vars["owner"].(string), nil
		})
	})
	mustResume(t, e)

	if gotName != "S1.md.tmpl" || gotVars["story"] != "S1" || gotVars["owner"] != "alice" {
		t.Errorf("render called with %q %v", gotName, gotVars)
	}
	if got := h.read(t, "/project/out/notes/S1-alice.md"); got != "rendered for alice" {
		t.Errorf("output = %q", got)
	}
	if e.GetState().Variables["owner"] != "team" {
		t.Error("step variables leaked into workflow variables")
	}
}

const board = `# Sprint 12

## BACKLOG
- [S3] Search [Points: 5]
- [S4] Export

## TODO
- [S2] Login form [Points: 3]

## IN_PROGRESS

## DONE
- [S1] Setup [Points: 1]
`

func TestExecutor_LoadStateMachine(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/project/status.md", board)
	h.write(t, "/wf/b.yaml", "name: b\nsteps:\n  - name: board\n    action: load_state_machine\n")

	e := h.executor(t, "/wf/b.yaml")
	mustResume(t, e)

	want := map[string]any{
		"TODO_STORY_ID":            "S2",
		"TODO_STORY_TITLE":         "Login form",
		"TODO_STORY_POINTS":        3,
		"IN_PROGRESS_STORY_ID":     nil,
		"IN_PROGRESS_STORY_TITLE":  nil,
		"IN_PROGRESS_STORY_POINTS": nil,
		VarBacklogCount:            2,
		VarDoneCount:               1,
		VarStoryStateValid:         true,
		VarStoryStateViolations:    []any{},
	}
	vars := e.GetState().Variables
	for k, v := range want {
		got, ok := vars[k]
		if !ok {
			t.Errorf("%s not set", k)
			continue
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("%s = %#v, want %#v", k, got, v)
		}
	}
}

func TestExecutor_LoadStateMachine_AttributesAndViolations(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/boards/crowded.md", "## TODO\n- [A] One\n- [B] Two\n")
	h.write(t, "/wf/b.yaml", `name: b
variables:
  board: crowded
steps:
  - name: board
    action: load_state_machine
    path: /boards/{{board}}.md
    attributes: [id]
`)
	e := h.executor(t, "/wf/b.yaml")
	mustResume(t, e)

	vars := e.GetState().Variables
	if vars["TODO_STORY_ID"] != "A" {
		t.Errorf("TODO_STORY_ID = %v", vars["TODO_STORY_ID"])
	}
	if _, ok := vars["TODO_STORY_TITLE"]; ok {
		t.Error("title copied although not requested")
	}
	if vars[VarStoryStateValid] != false {
		t.Error("WIP violation not reported")
	}
	if v := vars[VarStoryStateViolations].([]any); len(v) != 1 {
		t.Errorf("violations = %v", v)
	}
}

func TestExecutor_TransitionStory(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/project/status.md", board)
	h.write(t, "/wf/tr.yaml", `name: tr
steps:
  - name: board
    action: load_state_machine
  - name: start
    action: transition_story
    story_id: "{{TODO_STORY_ID}}"
    target: in progress
  - name: again
    action: transition_story
    story_id: S3
    target: DONE
`)
	e := h.executor(t, "/wf/tr.yaml")
	for i := 0; i < 2; i++ {
		if res := e.ExecuteNextStep(context.Background()); !res.Success {
			t.Fatalf("step %d failed: %v", i, res.Err)
		}
	}
	moved := h.read(t, "/project/status.md")
	if !strings.Contains(moved, "## IN_PROGRESS\n- [S2] Login form [Points: 3]") {
		t.Errorf("board after move:\n%s", moved)
	}

	res := e.ExecuteNextStep(context.Background())
	if res.Success || res.Err.Code != flowerrors.CodeStoryNotAllowed {
		t.Fatalf("result = %+v", res)
	}
	if h.read(t, "/project/status.md") != moved {
		t.Error("board changed by a rejected transition")
	}
}

func TestExecutor_ResumeStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/c.yaml", "name: c\nsteps:\n  - name: a\n    action: display\n    message: A\n  - name: b\n    action: display\n    message: B\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.emit.onDisplay = func(Message) { cancel() }

	e := h.executor(t, "/wf/c.yaml")
	res := e.Resume(ctx)
	if res.Success || res.Err.Code != flowerrors.CodeStepCancelled {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("cause = %v", res.Err.Cause)
	}
	if st := h.state(t, "c"); st.CurrentStep != 1 {
		t.Errorf("persisted pointer = %d, want 1", st.CurrentStep)
	}
	if got := h.emit.texts(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("messages = %v", got)
	}
}

func TestExecutor_Reset(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/parent.yaml", "name: parent\nsteps:\n  - name: run\n    action: sub-workflow\n    workflow_path: child.yaml\n")
	h.write(t, "/wf/child.yaml", "name: child\nsteps:\n  - name: hi\n    action: display\n    message: hi\n")

	e := h.executor(t, "/wf/parent.yaml")
	mustResume(t, e)
	childKey := e.GetState().Children[0].StateKey
	oldID := e.GetState().InstanceID

	if err := e.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := h.store.Load(context.Background(), childKey); !flowerrors.HasCode(err, flowerrors.CodeStateNotFound) {
		t.Errorf("child state survived reset: %v", err)
	}
	st := h.state(t, "parent")
	if st.CurrentStep != 0 || len(st.Children) != 0 || st.InstanceID == oldID {
		t.Errorf("state after reset = %+v", st)
	}
}

// flakyStore fails the next failSaves writes.
type flakyStore struct {
	*YAMLStateStore
	failSaves int
}

func (s *flakyStore) Save(ctx context.Context, state *types.WorkflowState) error {
	if s.failSaves > 0 {
		s.failSaves--
		return errors.New("disk full")
	}
	return s.YAMLStateStore.Save(ctx, state)
}

func TestExecutor_FailedSaveDropsStepBindings(t *testing.T) {
	h := newHarness(t)
	h.write(t, "/wf/ask.yaml", `name: ask
steps:
  - name: ask
    action: elicit
    prompt: Answer?
    variable: answer
  - name: show
    action: display
    message: "{{answer}}"
`)
	store := &flakyStore{YAMLStateStore: h.store}
	e := h.executor(t, "/wf/ask.yaml", func(o *Options) {
		o.Store = store
		o.Input = inputFunc(func(context.Context, ElicitRequest) (string, error) {
			return "hello", nil
		})
	})
	ctx := context.Background()
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	store.failSaves = 1
	res := e.ExecuteNextStep(ctx)
	if res.Success {
		t.Fatal("expected failure when the state write fails")
	}
	mem := e.GetState()
	if mem.CurrentStep != 0 || len(mem.History) != 0 {
		t.Errorf("pointer or history moved: %+v", mem)
	}
	if _, ok := mem.Variables["answer"]; ok {
		t.Errorf("answer kept in memory after failed write: %v", mem.Variables)
	}
	if _, ok := h.state(t, "ask").Variables["answer"]; ok {
		t.Error("answer reached disk")
	}

	if res := e.ExecuteNextStep(ctx); !res.Success {
		t.Fatalf("retry failed: %v", res.Err)
	}
	if got := h.state(t, "ask").Variables["answer"]; got != "hello" {
		t.Errorf("answer on disk = %v", got)
	}
}

func TestNew_RejectsInvalidWorkflow(t *testing.T) {
	h := newHarness(t)
	wf := &types.Workflow{
		Name:        "bad",
		Description: "hand built",
		Steps:       []*types.Step{{Name: "think", Action: types.ActionReflect}},
	}

	_, err := New(wf, h.options())
	if err == nil {
		t.Fatal("expected error for a step without its action config")
	}
	if !flowerrors.HasCode(err, flowerrors.CodeLoadInvalidField) || !strings.Contains(err.Error(), "missing config for action reflect") {
		t.Errorf("err = %v", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(&types.Workflow{Name: "x"}, Options{}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(nil, Options{Store: &YAMLStateStore{}}); err == nil {
		t.Error("expected error without workflow")
	}
}
