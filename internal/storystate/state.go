// Package storystate implements the four-bucket story board: parsing and
// formatting the status document, WIP-limit validation, and the allowed
// transitions between states.
//
// Key types:
//   - [State]: one of BACKLOG, TODO, IN_PROGRESS, DONE
//   - [Document]: the parsed board
//   - [Machine]: a document bound to its storage location, with checked transitions
package storystate

import (
	"strings"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// State is a story's position on the board.
type State string

const (
	Backlog    State = "BACKLOG"
	Todo       State = "TODO"
	InProgress State = "IN_PROGRESS"
	Done       State = "DONE"
)

// States lists every state in document order.
var States = []State{Backlog, Todo, InProgress, Done}

// Valid returns true if this is a recognized state.
func (s State) Valid() bool {
	switch s {
	case Backlog, Todo, InProgress, Done:
		return true
	}
	return false
}

// WIPLimit returns the maximum number of stories allowed in s, or 0 when
// unlimited.
func (s State) WIPLimit() int {
	switch s {
	case Todo, InProgress:
		return 1
	}
	return 0
}

// CanTransitionTo reports whether the edge s -> target exists.
// Allowed: BACKLOG <-> TODO, TODO -> IN_PROGRESS, IN_PROGRESS -> DONE.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case Backlog:
		return target == Todo
	case Todo:
		return target == Backlog || target == InProgress
	case InProgress:
		return target == Done
	}
	return false
}

// ParseState accepts the canonical tags plus common spellings such as
// "In Progress", "in-progress" and "todo".
func ParseState(s string) (State, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	st := State(norm)
	if st == "TO_DO" {
		st = Todo
	}
	return st, st.Valid()
}

// LookupState is ParseState returning a coded error.
func LookupState(s string) (State, error) {
	st, ok := ParseState(s)
	if !ok {
		return "", flowerrors.Newf(flowerrors.CodeStoryUnknownState, "unknown story state %q (expected BACKLOG, TODO, IN_PROGRESS or DONE)", s).
			WithDetail("state", s)
	}
	return st, nil
}
