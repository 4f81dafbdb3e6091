package types

import (
	"fmt"
	"time"
)

// Variables the engine injects into workflow state.
const (
	VarVisitedWorkflows = "_visited_workflows" // Ancestor chain of workflow paths
	VarParentWorkflow   = "_parent_workflow"   // Name of the invoking workflow
	VarWorkflowDepth    = "_workflow_depth"    // Nesting depth, 0 at top level
	VarRoutingResult    = "ROUTING_RESULT"     // Last routing result, whichever step produced it
)

// ChildStatus represents the lifecycle state of a tracked child workflow.
type ChildStatus string

const (
	ChildStatusRunning   ChildStatus = "running"
	ChildStatusCompleted ChildStatus = "completed"
	ChildStatusError     ChildStatus = "error"
)

// Valid returns true if this is a recognized child status.
func (s ChildStatus) Valid() bool {
	switch s {
	case ChildStatusRunning, ChildStatusCompleted, ChildStatusError:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
func (s ChildStatus) IsTerminal() bool {
	return s == ChildStatusCompleted || s == ChildStatusError
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s ChildStatus) CanTransitionTo(target ChildStatus) bool {
	switch s {
	case ChildStatusRunning:
		return target == ChildStatusCompleted || target == ChildStatusError
	case ChildStatusError:
		return target == ChildStatusRunning // Retry of the owning step
	case ChildStatusCompleted:
		return false
	}
	return false
}

// ChildWorkflowState tracks one child started by a sub-workflow or route step.
type ChildWorkflowState struct {
	Path      string      `yaml:"path"`
	StateKey  string      `yaml:"state_key"`
	Status    ChildStatus `yaml:"status"`
	StepIndex int         `yaml:"step_index"` // Parent step that owns the child
	Position  int         `yaml:"position"`   // Index within a routing batch, 0 for sub-workflow
	StartedAt time.Time   `yaml:"started_at"`
	EndedAt   *time.Time  `yaml:"ended_at,omitempty"`
	Error     string      `yaml:"error,omitempty"`
}

// Complete marks the child as completed.
func (c *ChildWorkflowState) Complete(now time.Time) error {
	if !c.Status.CanTransitionTo(ChildStatusCompleted) {
		return fmt.Errorf("cannot complete child %s in status %s", c.Path, c.Status)
	}
	c.Status = ChildStatusCompleted
	c.EndedAt = &now
	c.Error = ""
	return nil
}

// Fail marks the child as failed with a message.
func (c *ChildWorkflowState) Fail(now time.Time, msg string) error {
	if !c.Status.CanTransitionTo(ChildStatusError) {
		return fmt.Errorf("cannot fail child %s in status %s", c.Path, c.Status)
	}
	c.Status = ChildStatusError
	c.EndedAt = &now
	c.Error = msg
	return nil
}

// Restart marks a failed child as running again.
func (c *ChildWorkflowState) Restart(now time.Time) error {
	if !c.Status.CanTransitionTo(ChildStatusRunning) {
		return fmt.Errorf("cannot restart child %s in status %s", c.Path, c.Status)
	}
	c.Status = ChildStatusRunning
	c.StartedAt = now
	c.EndedAt = nil
	c.Error = ""
	return nil
}

// StepOutcome records what happened to a step.
type StepOutcome string

const (
	OutcomeExecuted StepOutcome = "executed"
	OutcomeSkipped  StepOutcome = "skipped"
)

// StepRecord is one history entry.
type StepRecord struct {
	Index   int         `yaml:"index"`
	Name    string      `yaml:"name"`
	Action  Action      `yaml:"action"`
	Outcome StepOutcome `yaml:"outcome"`
	At      time.Time   `yaml:"at"`
	Message string      `yaml:"message,omitempty"`
}

// WorkflowState is the persisted execution state of one workflow instance.
type WorkflowState struct {
	// Identity
	WorkflowName string `yaml:"workflow_name"`
	InstanceID   string `yaml:"instance_id"`
	StateKey     string `yaml:"state_key"`
	WorkflowPath string `yaml:"workflow_path,omitempty"`

	// Progress
	CurrentStep int            `yaml:"current_step"`
	Variables   map[string]any `yaml:"variables"`
	Completed   bool           `yaml:"completed"`
	CreatedAt   time.Time      `yaml:"created_at"`
	UpdatedAt   time.Time      `yaml:"updated_at"`

	// Parent linkage (children only)
	ParentName string `yaml:"parent_name,omitempty"`
	ParentKey  string `yaml:"parent_key,omitempty"`

	Children []*ChildWorkflowState `yaml:"children,omitempty"`
	History  []StepRecord          `yaml:"history,omitempty"`
}

// NewWorkflowState creates a fresh state at step 0.
func NewWorkflowState(name, key, instanceID string, vars map[string]any, now time.Time) *WorkflowState {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &WorkflowState{
		WorkflowName: name,
		InstanceID:   instanceID,
		StateKey:     key,
		Variables:    vars,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance moves the pointer past the current step and records it.
func (s *WorkflowState) Advance(stepCount int, rec StepRecord, now time.Time) {
	s.CurrentStep++
	s.Completed = s.CurrentStep >= stepCount
	s.UpdatedAt = now
	rec.At = now
	s.History = append(s.History, rec)
}

// ValidateFor checks a loaded state is usable for the named workflow.
func (s *WorkflowState) ValidateFor(name string, stepCount int) error {
	if s.WorkflowName != name {
		return fmt.Errorf("state belongs to workflow %q, not %q", s.WorkflowName, name)
	}
	if s.CurrentStep < 0 {
		return fmt.Errorf("current step %d is negative", s.CurrentStep)
	}
	if s.CurrentStep > stepCount {
		return fmt.Errorf("current step %d beyond %d steps", s.CurrentStep, stepCount)
	}
	if s.Completed != (s.CurrentStep >= stepCount) {
		return fmt.Errorf("completed=%t inconsistent with step %d of %d", s.Completed, s.CurrentStep, stepCount)
	}
	for i, c := range s.Children {
		if c == nil {
			return fmt.Errorf("children[%d] is empty", i)
		}
		if !c.Status.Valid() {
			return fmt.Errorf("children[%d]: invalid status %q", i, c.Status)
		}
	}
	return nil
}

// Child returns the tracked child for a step and batch position.
func (s *WorkflowState) Child(stepIndex, position int) *ChildWorkflowState {
	for _, c := range s.Children {
		if c.StepIndex == stepIndex && c.Position == position {
			return c
		}
	}
	return nil
}

// TrackChild records a new child entry.
func (s *WorkflowState) TrackChild(c *ChildWorkflowState) {
	s.Children = append(s.Children, c)
}

// RunningChildren returns children still marked running, oldest first.
func (s *WorkflowState) RunningChildren() []*ChildWorkflowState {
	var out []*ChildWorkflowState
	for _, c := range s.Children {
		if c.Status == ChildStatusRunning {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Variables = CloneVariables(s.Variables)
	if s.Children != nil {
		cp.Children = make([]*ChildWorkflowState, len(s.Children))
		for i, c := range s.Children {
			cc := *c
			if c.EndedAt != nil {
				t := *c.EndedAt
				cc.EndedAt = &t
			}
			cp.Children[i] = &cc
		}
	}
	if s.History != nil {
		cp.History = append([]StepRecord(nil), s.History...)
	}
	return &cp
}
