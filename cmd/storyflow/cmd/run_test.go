package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/storystate"
	"github.com/meow-stack/storyflow/internal/testutil"
)

const planYAML = `name: plan
description: plan one story
variables:
  team: default
steps:
  - name: ask
    action: elicit
    prompt: Goal?
    variable: goal
    validation: required
  - name: check
    action: validate
    condition: ${points} >= 3
    error_message: too small
  - name: show
    action: display
    message: "{{team}} aims for {{goal}} ({{points}} pts)"
`

const sprintYAML = `name: sprint
description: start the next story
steps:
  - name: load
    action: load_state_machine
  - name: start
    action: transition_story
    condition: ${TODO_COUNT} === 1
    story_id: "{{TODO_STORY_ID}}"
    target: IN_PROGRESS
  - name: announce
    action: display
    message: "Working on {{TODO_STORY_ID}}: {{TODO_STORY_TITLE}}"
`

func TestRunCommand(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first", "second"))

	out, err := execute(t, dir, "run", "hello")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "first\nsecond\n") || !strings.HasSuffix(out, "Workflow hello completed.\n") {
		t.Errorf("output = %q", out)
	}
	for _, path := range []string{
		filepath.Join(dir, ".storyflow", "state", "hello.state.yaml"),
		filepath.Join(dir, ".storyflow", "logs", "hello.log"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".storyflow", "state", "hello.trace.jsonl")); err == nil {
		t.Error("trace written although engine.trace is off")
	}

	out, err = execute(t, dir, "run", "hello")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if strings.Contains(out, "first") {
		t.Errorf("completed workflow ran again: %q", out)
	}
}

func TestRunCommand_ByPath(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	path := filepath.Join(dir, "elsewhere", "greet.yaml")
	testutil.WriteFile(t, path, testutil.DisplayWorkflow("greet", "hi there"))

	out, err := execute(t, dir, "run", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "hi there") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_VarsAndInputs(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "plan.yaml", planYAML)

	out, err := execute(t, dir, "run", "plan", "--var", "team=core", "--var", "points=5", "--input", "goal=ship")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "core aims for ship (5 pts)") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_MissingInputResumes(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "plan.yaml", planYAML)

	_, err := execute(t, dir, "run", "plan", "--var", "points=5")
	if err == nil {
		t.Fatal("run without an answer should fail")
	}
	if !strings.Contains(err.Error(), "no input supplied") || !flowerrors.HasCode(err, flowerrors.CodeStepFailed) {
		t.Errorf("error = %v", err)
	}

	// Variables were bound when the instance was created; only the answer
	// is needed now.
	out, err := execute(t, dir, "run", "plan", "--input", "goal=ship")
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if !strings.Contains(out, "default aims for ship (5 pts)") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_ValidateFails(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "plan.yaml", planYAML)

	_, err := execute(t, dir, "run", "plan", "--var", "points=1", "--input", "goal=ship")
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Errorf("error = %v", err)
	}
}

func TestRunCommand_Locked(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first"))

	lock, err := storage.AcquireLock(filepath.Join(dir, ".storyflow", "state"), "hello")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	_, err = execute(t, dir, "run", "hello")
	if !flowerrors.HasCode(err, flowerrors.CodeStateLocked) {
		t.Errorf("error = %v, want STATE_003", err)
	}
}

func TestRunCommand_UnknownWorkflow(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)

	if _, err := execute(t, dir, "run", "nope"); err == nil {
		t.Error("run of an unknown workflow should fail")
	}
}

func TestStepCommand(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first", "second"))

	out, err := execute(t, dir, "step", "hello")
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if !strings.Contains(out, "first\n") || !strings.Contains(out, "Step 1/2 step-1 (display) executed") {
		t.Errorf("first step output = %q", out)
	}
	if strings.Contains(out, "second") {
		t.Errorf("step ran more than one step: %q", out)
	}

	out, err = execute(t, dir, "step", "hello")
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if !strings.Contains(out, "Step 2/2 step-2 (display) executed") || !strings.Contains(out, "Workflow hello completed.") {
		t.Errorf("second step output = %q", out)
	}

	out, err = execute(t, dir, "step", "hello")
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if !strings.Contains(out, "already completed") {
		t.Errorf("third step output = %q", out)
	}

	out, err = execute(t, dir, "step", "hello", "--reset")
	if err != nil {
		t.Fatalf("step --reset failed: %v", err)
	}
	if !strings.Contains(out, "Step 1/2 step-1") {
		t.Errorf("step --reset output = %q", out)
	}
}

func TestStepCommand_Skipped(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "gate.yaml", `name: gate
description: gated display
steps:
  - name: maybe
    action: display
    when: ${enabled} === true
    message: shown
  - name: always
    action: display
    message: done
`)

	out, err := execute(t, dir, "step", "gate", "--var", "enabled=false")
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if strings.Contains(out, "shown") || !strings.Contains(out, "Step 1/2 maybe (display) skipped") {
		t.Errorf("output = %q", out)
	}
}

func TestStatusHierarchyAndReset(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first", "second"))

	out, err := execute(t, dir, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "No workflow instances found.") {
		t.Errorf("empty status = %q", out)
	}

	if _, err := execute(t, dir, "run", "hello"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, err = execute(t, dir, "status", "hello")
	if err != nil {
		t.Fatalf("status hello failed: %v", err)
	}
	for _, want := range []string{"Workflow: hello", "✓ completed", "100% (2/2 steps)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, dir, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "Found 1 workflow instance(s)") || !strings.Contains(out, "✓ hello") {
		t.Errorf("status list = %q", out)
	}

	out, err = execute(t, dir, "hierarchy", "hello")
	if err != nil {
		t.Fatalf("hierarchy failed: %v", err)
	}
	if out != "hello [hello] completed\n" {
		t.Errorf("hierarchy = %q", out)
	}

	out, err = execute(t, dir, "reset", "hello")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.Contains(out, "Workflow hello reset to step 1 of 2.") {
		t.Errorf("reset output = %q", out)
	}

	out, err = execute(t, dir, "status", "hello")
	if err != nil {
		t.Fatalf("status after reset failed: %v", err)
	}
	if !strings.Contains(out, "○ new") {
		t.Errorf("status after reset:\n%s", out)
	}
}

func TestStatusCommand_ShowsRunningInstance(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first", "second"))
	if _, err := execute(t, dir, "step", "hello"); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	lock, err := storage.AcquireLock(filepath.Join(dir, ".storyflow", "state"), "hello")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	out, err := execute(t, dir, "status", "hello")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "(running)") {
		t.Errorf("status should mark the locked instance:\n%s", out)
	}
}

func TestStatusCommand_UnknownInstance(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "first"))

	_, err := execute(t, dir, "status", "hello")
	if !flowerrors.HasCode(err, flowerrors.CodeStateNotFound) {
		t.Errorf("error = %v, want STATE_001", err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "hello.yaml", testutil.DisplayWorkflow("hello", "hi"))
	testutil.WriteWorkflow(t, dir, "parent.yaml", `name: parent
description: runs a child
steps:
  - name: child
    action: sub-workflow
    workflow_path: missing.yaml
  - name: dynamic
    action: sub-workflow
    workflow_path: "{{next}}.yaml"
`)

	out, err := execute(t, dir, "validate", "hello", "parent")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for _, want := range []string{"✓ hello (", "✓ parent (", `step "child" references missing workflow missing.yaml`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "dynamic") {
		t.Errorf("placeholder paths should not be checked:\n%s", out)
	}

	testutil.WriteWorkflow(t, dir, "broken.yaml", "name: broken\n")
	out, err = execute(t, dir, "validate")
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d (err %v)", code, err)
	}
	if !strings.Contains(out, "✗ ") || !strings.Contains(out, "broken.yaml") {
		t.Errorf("output = %s", out)
	}
}

func TestStoryCommands(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	board := filepath.Join(dir, "docs", "stories.md")
	testutil.WriteFile(t, board, testutil.StatusDocument(
		[]string{"[S-3] Search [Points: 5]"}, nil, nil, []string{"[S-1] Login"}))

	out, err := execute(t, dir, "story", "show")
	if err != nil {
		t.Fatalf("story show failed: %v", err)
	}
	if !strings.Contains(out, "TODO (0/1)") || !strings.Contains(out, "S-3 Search [5 pts]") {
		t.Errorf("board = %s", out)
	}

	out, err = execute(t, dir, "story", "can-transition", "S-3", "todo")
	if err != nil || strings.TrimSpace(out) != "yes" {
		t.Errorf("can-transition = %q, %v", out, err)
	}

	out, err = execute(t, dir, "story", "transition", "S-3", "TODO")
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if strings.TrimSpace(out) != "S-3: BACKLOG -> TODO" {
		t.Errorf("transition output = %q", out)
	}
	m, err := storystate.Load(context.Background(), storage.NewOS(), board)
	if err != nil {
		t.Fatalf("reloading board: %v", err)
	}
	if s, ok := m.Current(storystate.Todo); !ok || s.ID != "S-3" {
		t.Errorf("TODO holds %+v", s)
	}

	out, err = execute(t, dir, "story", "can-transition", "S-1", "TODO")
	if exitCode(err) != 1 || !strings.HasPrefix(out, "no: ") {
		t.Errorf("can-transition from DONE = %q, %v", out, err)
	}

	if _, err := execute(t, dir, "story", "transition", "S-3", "SHIPPED"); !flowerrors.HasCode(err, flowerrors.CodeStoryUnknownState) {
		t.Errorf("unknown state error = %v", err)
	}

	out, err = execute(t, dir, "story", "validate")
	if err != nil || !strings.Contains(out, "within WIP limits") {
		t.Errorf("validate = %q, %v", out, err)
	}
}

func TestStoryValidate_Violations(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	board := filepath.Join(dir, "board.md")
	testutil.WriteFile(t, board, testutil.StatusDocument(nil, []string{"[S-2] Signup", "[S-4] Billing"}, nil, nil))

	out, err := execute(t, dir, "story", "validate", "--file", "board.md")
	if exitCode(err) != 1 {
		t.Fatalf("exit code = %d (err %v)", exitCode(err), err)
	}
	if !strings.Contains(out, "✗ TODO holds 2 stories (limit 1): S-2, S-4") {
		t.Errorf("output = %s", out)
	}
}

func TestRunCommand_StoryWorkflow(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	board := filepath.Join(dir, "docs", "stories.md")
	testutil.WriteFile(t, board, testutil.StatusDocument(
		[]string{"[S-3] Search"}, []string{"[S-2] Signup [Points: 2]"}, nil, []string{"[S-1] Login"}))
	testutil.WriteWorkflow(t, dir, "sprint.yaml", sprintYAML)

	out, err := execute(t, dir, "run", "sprint")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "Working on S-2: Signup") {
		t.Errorf("output = %q", out)
	}

	m, err := storystate.Load(context.Background(), storage.NewOS(), board)
	if err != nil {
		t.Fatalf("reloading board: %v", err)
	}
	if s, ok := m.Current(storystate.InProgress); !ok || s.ID != "S-2" {
		t.Errorf("IN_PROGRESS holds %+v", s)
	}
	if len(m.List(storystate.Todo)) != 0 {
		t.Errorf("TODO = %+v", m.List(storystate.Todo))
	}
}

func TestEvalCommand(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)

	out, err := execute(t, dir, "eval", "${points} >= 3", "--var", "points=5")
	if err != nil || out != "true\n" {
		t.Errorf("eval = %q, %v", out, err)
	}

	out, err = execute(t, dir, "eval", "${points} >= 3", "--var", "points=1")
	if exitCode(err) != 1 || out != "false\n" {
		t.Errorf("false eval = %q, %v", out, err)
	}

	if _, err := execute(t, dir, "eval", "${missing} === 1"); err == nil {
		t.Error("strict eval of an unbound variable should fail")
	}

	out, err = execute(t, dir, "eval", "!${missing}", "--permissive")
	if err != nil || out != "true\n" {
		t.Errorf("permissive eval = %q, %v", out, err)
	}

	out, err = execute(t, dir, "eval", "${points} >= 3", "--var", "points=5", "--explain")
	if err != nil || !strings.Contains(out, "substituted: 5 >= 3") || !strings.Contains(out, "tree:") {
		t.Errorf("explain = %q, %v", out, err)
	}
}

func TestEvalCommand_Instance(t *testing.T) {
	dir := testutil.NewTestWorkspace(t)
	testutil.WriteWorkflow(t, dir, "plan.yaml", planYAML)
	if _, err := execute(t, dir, "run", "plan", "--var", "points=5", "--input", "goal=ship"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, err := execute(t, dir, "eval", `${goal} === "ship" && ${points} === 5`, "--instance", "plan")
	if err != nil || out != "true\n" {
		t.Errorf("eval = %q, %v", out, err)
	}

	out, err = execute(t, dir, "eval", "${points} === 5", "--instance", "plan", "--var", "points=7")
	if exitCode(err) != 1 || out != "false\n" {
		t.Errorf("override eval = %q, %v", out, err)
	}
}
