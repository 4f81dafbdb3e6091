package orchestrator

import (
	"context"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/logging"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// chain returns the ancestor chain stored in this instance's variables.
// A top-level instance whose variables lost it starts from its own path.
func (e *Executor) chain() workflow.Chain {
	c := workflow.ChainFromValue(e.state.Variables[types.VarVisitedWorkflows])
	if c.Len() == 0 {
		return workflow.NewChain(e.wf.Path)
	}
	return c
}

// depth returns this instance's nesting depth, 0 at top level.
func (e *Executor) depth() int {
	d, _ := intValue(e.state.Variables[types.VarWorkflowDepth])
	return d
}

// runChild runs the workflow at path as the child at (stepIndex, position)
// and blocks until it completes. A child already completed for that slot is
// not run again; one left running or failed is resumed from its state.
func (e *Executor) runChild(ctx context.Context, stepIndex, position int, step *types.Step, path string, contextVars map[string]any) error {
	chain := e.chain()
	childChain := chain.Extend(path)
	if chain.Contains(path) {
		return flowerrors.CycleDetected(childChain.Paths())
	}
	depth := e.depth() + 1
	if depth > e.opts.MaxDepth {
		return flowerrors.DepthExceeded(depth, e.opts.MaxDepth, childChain.Paths())
	}

	now := e.now()
	entry := e.state.Child(stepIndex, position)
	switch {
	case entry != nil && entry.Path != path:
		// The step now resolves to a different workflow; the old record is
		// replaced by a fresh child.
		entry.Path = path
		entry.StateKey = ChildStateKey(e.state.StateKey, stepIndex, position, path)
		entry.Status = types.ChildStatusRunning
		entry.StartedAt = now
		entry.EndedAt = nil
		entry.Error = ""
	case entry == nil:
		entry = &types.ChildWorkflowState{
			Path:      path,
			StateKey:  ChildStateKey(e.state.StateKey, stepIndex, position, path),
			Status:    types.ChildStatusRunning,
			StepIndex: stepIndex,
			Position:  position,
			StartedAt: now,
		}
		e.state.TrackChild(entry)
	case entry.Status == types.ChildStatusCompleted:
		e.logger.Debug("child already completed", "child", path, "step", step.Name)
		return nil
	case entry.Status == types.ChildStatusError:
		if err := entry.Restart(now); err != nil {
			return err
		}
	}
	if err := e.persist(ctx); err != nil {
		return err
	}
	e.tracer.LogChild(step.Name, path, types.ChildStatusRunning)

	return e.startChild(ctx, step, entry, childChain, depth, contextVars)
}

// resumeStaleChildren finishes children left running by a step the pointer
// has already moved past.
func (e *Executor) resumeStaleChildren(ctx context.Context) error {
	for _, entry := range e.state.RunningChildren() {
		if entry.StepIndex >= e.state.CurrentStep {
			continue
		}
		step := e.wf.StepAt(entry.StepIndex)
		if step == nil || !step.Action.RunsChildren() {
			continue
		}
		e.logger.Info("resuming stale child", "child", entry.Path, "step", step.Name)
		if err := e.startChild(ctx, step, entry, e.chain().Extend(entry.Path), e.depth()+1, nil); err != nil {
			return err
		}
	}
	return nil
}

// startChild builds the child executor for entry and drives it to the end.
func (e *Executor) startChild(ctx context.Context, step *types.Step, entry *types.ChildWorkflowState, chain workflow.Chain, depth int, contextVars map[string]any) error {
	if e.opts.Loader == nil {
		return e.failChild(ctx, step, entry, flowerrors.StepNoCollaborator(step.Name, "workflow loader"))
	}
	childWf, err := e.opts.Loader.LoadPath(ctx, entry.Path)
	if err != nil {
		return e.failChild(ctx, step, entry, err)
	}

	vars := types.CloneVariables(e.state.Variables)
	for k, v := range contextVars {
		vars[k] = v
	}
	vars[types.VarParentWorkflow] = e.wf.Name
	vars[types.VarWorkflowDepth] = depth
	vars[types.VarVisitedWorkflows] = chain.Value()

	opts := e.opts
	opts.StateKey = entry.StateKey
	opts.InitialVars = vars
	opts.Logger = logging.WithChild(e.opts.Logger, entry.Path, depth)
	opts.Tracer = e.tracer.ForWorkflow(childWf.Name)
	opts.parentName = e.wf.Name
	opts.parentKey = e.state.StateKey

	child, err := New(childWf, opts)
	if err != nil {
		return e.failChild(ctx, step, entry, err)
	}
	if err := child.Initialize(ctx); err != nil {
		return e.failChild(ctx, step, entry, err)
	}

	for !child.state.Completed {
		res := child.ExecuteNextStep(ctx)
		if !res.Success {
			var cause error
			if res.Err != nil {
				cause = res.Err
			}
			err := flowerrors.Wrapf(flowerrors.CodeStepChildFailed, cause,
				"sub-workflow %s failed at step %s", entry.Path, res.StepName).
				WithDetail("child", entry.Path).
				WithDetail("state_key", entry.StateKey)
			return e.failChild(ctx, step, entry, err)
		}
		if err := ctx.Err(); err != nil && !child.state.Completed {
			// The entry stays running so the next attempt resumes the child.
			return flowerrors.Wrap(flowerrors.CodeStepCancelled, "cancelled while running "+entry.Path, err)
		}
	}

	if err := entry.Complete(e.now()); err != nil {
		return err
	}
	if err := e.persist(ctx); err != nil {
		return err
	}
	e.tracer.LogChild(step.Name, entry.Path, types.ChildStatusCompleted)
	return nil
}

// failChild marks entry as failed, persists, and returns err.
func (e *Executor) failChild(ctx context.Context, step *types.Step, entry *types.ChildWorkflowState, err error) error {
	if ferr := entry.Fail(e.now(), err.Error()); ferr != nil {
		e.logger.Warn("child status not updated", "child", entry.Path, "error", ferr)
	}
	if perr := e.persist(ctx); perr != nil {
		e.logger.Warn("failed to persist child failure", "child", entry.Path, "error", perr)
	}
	e.tracer.LogChild(step.Name, entry.Path, types.ChildStatusError)
	return err
}
