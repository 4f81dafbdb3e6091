// Package orchestrator runs workflows one step at a time. An Executor owns
// a single workflow instance: it loads or creates the persisted state,
// evaluates gates, dispatches each step to its action handler and writes
// the state back after every step that succeeds or is skipped.
//
// Child workflows started by sub-workflow and route steps run through
// nested executors that share the parent's store, collaborators and tracer
// sink. Children always run to completion before the parent moves on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meow-stack/storyflow/internal/condition"
	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/logging"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// DefaultMaxDepth limits how deeply child workflows may nest.
const DefaultMaxDepth = 10

// Options configures an Executor.
type Options struct {
	Store   StateStore
	Storage storage.Storage
	Loader  WorkflowLoader

	Renderer  TemplateRenderer
	Generator TextGenerator
	Input     InputProvider
	Emitter   Emitter

	Logger *slog.Logger
	Tracer TracerInterface

	StateKey     string         // Defaults to StateKey(workflow name)
	InitialVars  map[string]any // Overlaid on workflow defaults for a fresh instance
	BaseDir      string         // Anchors relative story file paths
	StatusFile   string         // Board used when a story step names no path
	OutputDir    string         // Anchors relative template outputs
	MaxDepth     int            // Defaults to DefaultMaxDepth
	ValidateMode condition.Mode // Mode for validate steps; Strict by default

	Now func() time.Time

	// Set by the coordinator for child executors.
	parentName string
	parentKey  string
}

// Executor runs one workflow instance.
type Executor struct {
	wf     *types.Workflow
	opts   Options
	state  *types.WorkflowState
	logger *slog.Logger
	tracer TracerInterface
}

// New creates an executor. Nothing is read until Initialize.
func New(wf *types.Workflow, opts Options) (*Executor, error) {
	if wf == nil {
		return nil, errors.New("workflow is required")
	}
	if opts.Store == nil {
		return nil, errors.New("state store is required")
	}
	if err := wf.Validate(); err != nil {
		return nil, flowerrors.Wrap(flowerrors.CodeLoadInvalidField, "invalid workflow definition", err).
			WithDetail("file", wf.Path)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault()
	}
	if opts.Tracer == nil {
		opts.Tracer = &NullTracer{}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StateKey == "" {
		opts.StateKey = StateKey(wf.Name)
	}

	return &Executor{
		wf:     wf,
		opts:   opts,
		logger: opts.Logger.With("workflow", wf.Name),
		tracer: opts.Tracer,
	}, nil
}

// Workflow returns the definition being executed.
func (e *Executor) Workflow() *types.Workflow {
	return e.wf
}

// StateKey returns the key the instance is persisted under.
func (e *Executor) StateKey() string {
	return e.opts.StateKey
}

// Initialize resumes from persisted state, or creates a fresh instance when
// there is none or the stored record does not fit this workflow.
func (e *Executor) Initialize(ctx context.Context) error {
	key := e.opts.StateKey
	st, err := e.opts.Store.Load(ctx, key)
	switch {
	case err == nil:
		if verr := st.ValidateFor(e.wf.Name, e.wf.StepCount()); verr != nil {
			e.logger.Warn("discarding invalid state", "key", key, "error", verr)
			return e.fresh(ctx)
		}
		e.state = st
		e.logger = logging.WithWorkflow(e.opts.Logger, e.wf.Name, st.InstanceID)
		e.logger.Info("resuming workflow", "step", st.CurrentStep, "steps", e.wf.StepCount())
		e.tracer.LogResume(st.CurrentStep)
		return nil
	case flowerrors.HasCode(err, flowerrors.CodeStateNotFound):
		return e.fresh(ctx)
	case flowerrors.HasCode(err, flowerrors.CodeStateInvalid):
		e.logger.Warn("discarding unreadable state", "key", key, "error", err)
		return e.fresh(ctx)
	default:
		return err
	}
}

func (e *Executor) fresh(ctx context.Context) error {
	vars := e.wf.DefaultVariables()
	if vars == nil {
		vars = make(map[string]any)
	}
	for k, v := range types.CloneVariables(e.opts.InitialVars) {
		vars[k] = v
	}
	if _, ok := vars[types.VarVisitedWorkflows]; !ok {
		vars[types.VarVisitedWorkflows] = workflow.NewChain(e.wf.Path).Value()
	}
	if _, ok := vars[types.VarWorkflowDepth]; !ok {
		vars[types.VarWorkflowDepth] = 0
	}

	now := e.opts.Now()
	st := types.NewWorkflowState(e.wf.Name, e.opts.StateKey, NewInstanceID(now), vars, now)
	st.WorkflowPath = e.wf.Path
	st.ParentName = e.opts.parentName
	st.ParentKey = e.opts.parentKey
	st.Completed = e.wf.StepCount() == 0

	if err := e.opts.Store.Save(ctx, st); err != nil {
		return err
	}
	e.state = st
	e.logger = logging.WithWorkflow(e.opts.Logger, e.wf.Name, st.InstanceID)
	e.logger.Info("starting workflow", "steps", e.wf.StepCount(), "key", st.StateKey)
	e.tracer.LogStart(e.wf.StepCount())
	return nil
}

// ExecuteNextStep runs the step at the pointer. It never panics and never
// returns a bare error: failures come back as a result with Err set and the
// pointer left in place, so calling again retries the same step.
func (e *Executor) ExecuteNextStep(ctx context.Context) types.StepResult {
	if e.state == nil {
		if err := e.Initialize(ctx); err != nil {
			return e.fail(-1, nil, err)
		}
	}
	if e.state.Completed {
		return types.StepResult{
			Success:   true,
			Completed: true,
			StepIndex: e.state.CurrentStep,
			Message:   "workflow already completed",
		}
	}

	if err := e.resumeStaleChildren(ctx); err != nil {
		return e.fail(e.state.CurrentStep, e.wf.StepAt(e.state.CurrentStep), err)
	}

	idx := e.state.CurrentStep
	step := e.wf.StepAt(idx)
	log := logging.WithStep(e.logger, idx, step.Name, string(step.Action))
	snapshot := e.state.Clone()

	run, err := e.evaluateGates(step)
	if err != nil {
		return e.fail(idx, step, err)
	}
	if !run {
		if err := e.advance(ctx, snapshot, step, types.OutcomeSkipped, "condition not met"); err != nil {
			return e.fail(idx, step, err)
		}
		log.Info("step skipped")
		e.tracer.LogSkip(step.Name, string(step.Action))
		return types.StepResult{
			Success:   true,
			Skipped:   true,
			Completed: e.state.Completed,
			StepIndex: idx,
			StepName:  step.Name,
			Action:    step.Action,
			Message:   fmt.Sprintf("skipped %q: condition not met", step.Name),
		}
	}

	log.Debug("executing step")
	e.tracer.LogDispatch(step.Name, string(step.Action), nil)
	msg, err := e.dispatch(ctx, idx, step)
	if err != nil {
		return e.fail(idx, step, err)
	}
	if err := e.advance(ctx, snapshot, step, types.OutcomeExecuted, msg); err != nil {
		return e.fail(idx, step, err)
	}

	log.Info("step completed", "message", msg)
	if e.state.Completed {
		e.logger.Info("workflow completed")
		e.tracer.LogComplete()
	}
	return types.StepResult{
		Success:   true,
		Completed: e.state.Completed,
		StepIndex: idx,
		StepName:  step.Name,
		Action:    step.Action,
		Message:   msg,
	}
}

// Resume runs steps until the workflow completes, a step fails or ctx is
// cancelled. Cancellation is noticed between steps; the state of every
// finished step is already on disk by then.
func (e *Executor) Resume(ctx context.Context) types.StepResult {
	if e.state == nil {
		if err := e.Initialize(ctx); err != nil {
			return e.fail(-1, nil, err)
		}
	}

	last := types.StepResult{
		Success:   true,
		Completed: e.state.Completed,
		StepIndex: e.state.CurrentStep,
		Message:   "workflow already completed",
	}
	for !e.state.Completed {
		last = e.ExecuteNextStep(ctx)
		if !last.Success {
			return last
		}
		if err := ctx.Err(); err != nil && !e.state.Completed {
			fe := flowerrors.Wrap(flowerrors.CodeStepCancelled, "execution cancelled", err).
				WithDetail("step", e.state.CurrentStep)
			e.logger.Warn("execution cancelled", "step", e.state.CurrentStep)
			return types.StepResult{
				StepIndex: e.state.CurrentStep,
				Message:   fe.Error(),
				Err:       fe,
			}
		}
	}
	return last
}

// GetState returns a copy of the current state, or nil before Initialize.
func (e *Executor) GetState() *types.WorkflowState {
	return e.state.Clone()
}

// Reset deletes the persisted record of this instance and every tracked
// child, then starts over at step 0.
func (e *Executor) Reset(ctx context.Context) error {
	if err := deleteTree(ctx, e.opts.Store, e.opts.StateKey); err != nil {
		return err
	}
	e.state = nil
	e.logger.Info("workflow reset", "key", e.opts.StateKey)
	return e.fresh(ctx)
}

func deleteTree(ctx context.Context, store StateStore, key string) error {
	st, err := store.Load(ctx, key)
	switch {
	case err == nil:
		for _, c := range st.Children {
			if err := deleteTree(ctx, store, c.StateKey); err != nil {
				return err
			}
		}
	case flowerrors.HasCode(err, flowerrors.CodeStateNotFound):
		return nil
	case !flowerrors.HasCode(err, flowerrors.CodeStateInvalid):
		return err
	}
	return store.Delete(ctx, key)
}

func (e *Executor) evaluateGates(step *types.Step) (bool, error) {
	for _, gate := range step.Gates() {
		ok, err := condition.Evaluate(gate, e.state.Variables, condition.Permissive)
		if err != nil {
			return false, err
		}
		e.tracer.LogConditionEval(step.Name, ok, map[string]any{"condition": gate})
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// advance moves the pointer and persists. On a failed write the in-memory
// state goes back to what is on disk: the record the step may have
// persisted mid-way (child tracking), else the snapshot taken before it ran.
func (e *Executor) advance(ctx context.Context, snapshot *types.WorkflowState, step *types.Step, outcome types.StepOutcome, msg string) error {
	e.state.Advance(e.wf.StepCount(), types.StepRecord{
		Index:   snapshot.CurrentStep,
		Name:    step.Name,
		Action:  step.Action,
		Outcome: outcome,
		Message: msg,
	}, e.opts.Now())
	if err := e.opts.Store.Save(ctx, e.state); err != nil {
		e.rollback(ctx, snapshot)
		return err
	}
	return nil
}

func (e *Executor) rollback(ctx context.Context, snapshot *types.WorkflowState) {
	if onDisk, err := e.opts.Store.Load(ctx, e.opts.StateKey); err == nil && onDisk.CurrentStep == snapshot.CurrentStep {
		e.state = onDisk
		return
	}
	e.state = snapshot
}

// persist writes the current state without moving the pointer.
func (e *Executor) persist(ctx context.Context) error {
	e.state.UpdatedAt = e.opts.Now()
	return e.opts.Store.Save(ctx, e.state)
}

func (e *Executor) dispatch(ctx context.Context, idx int, step *types.Step) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = flowerrors.StepFailed(step.Name, string(step.Action), fmt.Errorf("panic: %v", r))
		}
	}()

	switch step.Action {
	case types.ActionGuide:
		return e.runGuide(ctx, step)
	case types.ActionElicit:
		return e.runElicit(ctx, step)
	case types.ActionReflect:
		return e.runReflect(ctx, step)
	case types.ActionTemplate:
		return e.runTemplate(ctx, step)
	case types.ActionValidate:
		return e.runValidate(step)
	case types.ActionDisplay:
		return e.runDisplay(ctx, step)
	case types.ActionLoadStateMachine:
		return e.runLoadStateMachine(ctx, step)
	case types.ActionTransitionStory:
		return e.runTransitionStory(ctx, step)
	case types.ActionSubWorkflow:
		return e.runSubWorkflow(ctx, idx, step)
	case types.ActionRoute:
		return e.runRoute(ctx, idx, step)
	}
	return "", flowerrors.LoadUnknownAction(e.wf.Path, step.Name, string(step.Action))
}

// fail converts err into a failed result. The pointer is not touched.
func (e *Executor) fail(idx int, step *types.Step, err error) types.StepResult {
	fe := toFlowError(step, err)
	res := types.StepResult{
		StepIndex: idx,
		Message:   fe.Error(),
		Err:       fe,
	}
	if e.state != nil {
		res.Completed = e.state.Completed
	}
	name := ""
	if step != nil {
		name = step.Name
		res.StepName = step.Name
		res.Action = step.Action
	}
	e.logger.Warn("step failed", "step_index", idx, "step", name, "code", fe.Code, "error", fe.Error())
	e.tracer.LogError(name, fe)
	return res
}

func toFlowError(step *types.Step, err error) *flowerrors.FlowError {
	if fe, ok := err.(*flowerrors.FlowError); ok {
		return fe
	}
	if step == nil {
		return flowerrors.Wrap(flowerrors.CodeStepFailed, "executor failed", err)
	}
	return flowerrors.StepFailed(step.Name, string(step.Action), err)
}

func (e *Executor) now() time.Time {
	return e.opts.Now()
}
