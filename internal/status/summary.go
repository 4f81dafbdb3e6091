package status

import (
	"sort"
	"strings"
	"time"

	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// InstanceStatus is the display status of a workflow instance.
type InstanceStatus string

const (
	StatusNew        InstanceStatus = "new"
	StatusInProgress InstanceStatus = "in_progress"
	StatusFailed     InstanceStatus = "failed"
	StatusCompleted  InstanceStatus = "completed"
)

// WorkflowSummary contains computed information about an instance for display.
type WorkflowSummary struct {
	Name        string            `json:"name"`
	StateKey    string            `json:"state_key"`
	InstanceID  string            `json:"instance_id"`
	Path        string            `json:"path,omitempty"`
	Parent      string            `json:"parent,omitempty"`
	Status      InstanceStatus    `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Variables   map[string]string `json:"variables,omitempty"`
	StepStats   StepStats         `json:"step_stats"`
	NextStep    string            `json:"next_step,omitempty"`
	Children    ChildStats        `json:"children"`
	Errors      []string          `json:"errors,omitempty"`
	LastHistory []types.StepRecord `json:"last_history,omitempty"`

	// Active is set by callers that find the instance lock held.
	Active bool `json:"active,omitempty"`
}

// StepStats contains step count breakdown.
type StepStats struct {
	Total    int `json:"total"`
	Current  int `json:"current"`
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
}

// ChildStats counts tracked children by status.
type ChildStats struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// historyTail is how many history records a summary keeps.
const historyTail = 5

// NewWorkflowSummary creates a summary from a persisted state. wf may be
// nil when the definition is unavailable; step totals then come from the
// state alone.
func NewWorkflowSummary(st *types.WorkflowState, wf *types.Workflow) *WorkflowSummary {
	s := &WorkflowSummary{
		Name:       st.WorkflowName,
		StateKey:   st.StateKey,
		InstanceID: st.InstanceID,
		Path:       st.WorkflowPath,
		Parent:     st.ParentName,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
		Variables:  userVariables(st.Variables),
		StepStats:  computeStepStats(st, wf),
	}

	if wf != nil {
		if step := wf.StepAt(st.CurrentStep); step != nil && !st.Completed {
			s.NextStep = step.Name
		}
	}

	for _, c := range st.Children {
		switch c.Status {
		case types.ChildStatusRunning:
			s.Children.Running++
		case types.ChildStatusCompleted:
			s.Children.Completed++
		case types.ChildStatusError:
			s.Children.Failed++
			s.Errors = append(s.Errors, c.Path+": "+c.Error)
		}
	}

	if n := len(st.History); n > historyTail {
		s.LastHistory = append(s.LastHistory, st.History[n-historyTail:]...)
	} else {
		s.LastHistory = append(s.LastHistory, st.History...)
	}

	s.Status = statusOf(st, s.Children)
	return s
}

func statusOf(st *types.WorkflowState, children ChildStats) InstanceStatus {
	switch {
	case st.Completed:
		return StatusCompleted
	case children.Failed > 0:
		return StatusFailed
	case st.CurrentStep == 0 && len(st.History) == 0 && children.Running == 0:
		return StatusNew
	}
	return StatusInProgress
}

// computeStepStats tallies executed and skipped steps from history.
func computeStepStats(st *types.WorkflowState, wf *types.Workflow) StepStats {
	stats := StepStats{Current: st.CurrentStep}
	if wf != nil {
		stats.Total = wf.StepCount()
	} else if st.Completed {
		stats.Total = st.CurrentStep
	}

	for _, rec := range st.History {
		switch rec.Outcome {
		case types.OutcomeExecuted:
			stats.Executed++
		case types.OutcomeSkipped:
			stats.Skipped++
		}
	}
	return stats
}

// userVariables drops engine bookkeeping (underscore names and the routing
// result) and stringifies the rest.
func userVariables(vars map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range vars {
		if strings.HasPrefix(k, "_") || k == types.VarRoutingResult {
			continue
		}
		out[k] = workflow.StringifyValue(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SortedKeys returns the keys of m in order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
