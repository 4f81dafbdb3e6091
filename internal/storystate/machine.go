package storystate

import (
	"context"
	"fmt"
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
)

// Violation is a WIP limit breach found by Validate.
type Violation struct {
	State State
	Count int
	Limit int
	IDs   []string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s holds %d stories (limit %d): %s", v.State, v.Count, v.Limit, strings.Join(v.IDs, ", "))
}

// Machine is a status document bound to where it is stored.
type Machine struct {
	st   storage.Storage
	path string
	doc  *Document
}

// New wraps an already parsed document. st may be nil, in which case
// transitions are kept in memory only.
func New(doc *Document, st storage.Storage, path string) *Machine {
	if doc == nil {
		doc = NewDocument()
	}
	return &Machine{st: st, path: path, doc: doc}
}

// Load reads and parses the document at path.
func Load(ctx context.Context, st storage.Storage, path string) (*Machine, error) {
	data, err := st.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(string(data))
	if err != nil {
		if ferr, ok := err.(*flowerrors.FlowError); ok {
			ferr.WithDetail("file", path)
		}
		return nil, err
	}
	return New(doc, st, path), nil
}

// Path returns the document location.
func (m *Machine) Path() string {
	return m.path
}

// Document returns a copy of the current board.
func (m *Machine) Document() *Document {
	return m.doc.Clone()
}

// Validate reports every state holding more stories than its WIP limit.
// It never modifies the document.
func (m *Machine) Validate() []Violation {
	var out []Violation
	for _, s := range States {
		limit := s.WIPLimit()
		stories := m.doc.Sections[s]
		if limit == 0 || len(stories) <= limit {
			continue
		}
		ids := make([]string, len(stories))
		for i, story := range stories {
			ids[i] = story.ID
		}
		out = append(out, Violation{State: s, Count: len(stories), Limit: limit, IDs: ids})
	}
	return out
}

// Check returns the error Transition would fail with, or nil.
func (m *Machine) Check(id string, target State) error {
	if !target.Valid() {
		return flowerrors.Newf(flowerrors.CodeStoryUnknownState, "unknown story state %q", target).
			WithDetail("state", string(target))
	}
	from, _, ok := m.doc.find(id)
	if !ok {
		return flowerrors.StoryUnknown(id)
	}
	if !from.CanTransitionTo(target) {
		return flowerrors.StoryNotAllowed(id, string(from), string(target))
	}
	if limit := target.WIPLimit(); limit > 0 && len(m.doc.Sections[target]) >= limit {
		return flowerrors.StoryWIPLimit(id, string(target), limit)
	}
	return nil
}

// CanTransition reports whether Transition would succeed.
func (m *Machine) CanTransition(id string, target State) bool {
	return m.Check(id, target) == nil
}

// Transition moves a story to the end of the target list and persists the
// document. On any error the document is left unchanged.
func (m *Machine) Transition(ctx context.Context, id string, target State) error {
	if err := m.Check(id, target); err != nil {
		return err
	}

	next := m.doc.Clone()
	from, idx, _ := next.find(id)
	story := next.Sections[from][idx]
	next.Sections[from] = append(next.Sections[from][:idx], next.Sections[from][idx+1:]...)
	story.State = target
	next.Sections[target] = append(next.Sections[target], story)

	if m.st != nil && m.path != "" {
		if err := m.st.WriteFile(ctx, m.path, []byte(Format(next))); err != nil {
			return err
		}
	}
	m.doc = next
	return nil
}

// Story returns the story with the given ID.
func (m *Machine) Story(id string) (Story, bool) {
	s, idx, ok := m.doc.find(id)
	if !ok {
		return Story{}, false
	}
	return m.doc.Sections[s][idx], true
}

// Current returns the first story in state, typically the single TODO or
// IN_PROGRESS story.
func (m *Machine) Current(state State) (Story, bool) {
	stories := m.doc.Sections[state]
	if len(stories) == 0 {
		return Story{}, false
	}
	return stories[0], true
}

// List returns a copy of the stories in state, in board order.
func (m *Machine) List(state State) []Story {
	return append([]Story(nil), m.doc.Sections[state]...)
}
