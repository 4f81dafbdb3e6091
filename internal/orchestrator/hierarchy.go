package orchestrator

import (
	"context"
	"errors"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/types"
)

// Hierarchy is an instance and every child it has started, recursively.
type Hierarchy struct {
	WorkflowName string
	StateKey     string
	Path         string
	CurrentStep  int
	Completed    bool

	// Set for children from the parent's tracking entry.
	Status    types.ChildStatus
	StepIndex int
	Position  int
	Error     string

	Missing  bool // No state record was found for the key
	Children []*Hierarchy
}

// Walk calls fn for h and each descendant, depth first.
func (h *Hierarchy) Walk(fn func(node *Hierarchy, depth int)) {
	h.walk(fn, 0)
}

func (h *Hierarchy) walk(fn func(*Hierarchy, int), depth int) {
	fn(h, depth)
	for _, c := range h.Children {
		c.walk(fn, depth+1)
	}
}

// GetHierarchy returns this instance with all tracked children loaded
// from the store.
func (e *Executor) GetHierarchy(ctx context.Context) (*Hierarchy, error) {
	if e.state == nil {
		return nil, errors.New("executor is not initialized")
	}
	return buildHierarchy(ctx, e.opts.Store, e.state)
}

// LoadHierarchy reads the tree rooted at key without creating anything.
func LoadHierarchy(ctx context.Context, store StateStore, key string) (*Hierarchy, error) {
	st, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return buildHierarchy(ctx, store, st)
}

func buildHierarchy(ctx context.Context, store StateStore, st *types.WorkflowState) (*Hierarchy, error) {
	h := nodeFromState(st)
	for _, c := range st.Children {
		var node *Hierarchy
		child, err := store.Load(ctx, c.StateKey)
		switch {
		case err == nil:
			node, err = buildHierarchy(ctx, store, child)
			if err != nil {
				return nil, err
			}
		case flowerrors.HasCode(err, flowerrors.CodeStateNotFound), flowerrors.HasCode(err, flowerrors.CodeStateInvalid):
			node = &Hierarchy{StateKey: c.StateKey, Path: c.Path, Missing: true}
		default:
			return nil, err
		}
		node.Status = c.Status
		node.StepIndex = c.StepIndex
		node.Position = c.Position
		node.Error = c.Error
		h.Children = append(h.Children, node)
	}
	return h, nil
}

func nodeFromState(st *types.WorkflowState) *Hierarchy {
	return &Hierarchy{
		WorkflowName: st.WorkflowName,
		StateKey:     st.StateKey,
		Path:         st.WorkflowPath,
		CurrentStep:  st.CurrentStep,
		Completed:    st.Completed,
	}
}
