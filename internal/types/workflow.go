package types

import (
	"fmt"
)

// Workflow is an ordered sequence of steps with named variables.
// It is immutable once loaded.
type Workflow struct {
	Name        string         `yaml:"name" toml:"name"`
	Description string         `yaml:"description" toml:"description"`
	Variables   map[string]any `yaml:"variables,omitempty" toml:"variables,omitempty"`
	Steps       []*Step        `yaml:"steps" toml:"steps"`

	// Path is the cleaned absolute path of the source file. It is the
	// identity used for cycle detection.
	Path string `yaml:"-" toml:"-"`
}

// StepCount returns the number of steps.
func (w *Workflow) StepCount() int {
	return len(w.Steps)
}

// StepAt returns the step at index i, or nil when out of range.
func (w *Workflow) StepAt(i int) *Step {
	if i < 0 || i >= len(w.Steps) {
		return nil
	}
	return w.Steps[i]
}

// DefaultVariables returns a deep copy of the declared variable defaults.
func (w *Workflow) DefaultVariables() map[string]any {
	return CloneVariables(w.Variables)
}

// Validate checks the workflow is well-formed.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if w.Description == "" {
		return fmt.Errorf("workflow %s: description is required", w.Name)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", w.Name)
	}
	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s == nil {
			return fmt.Errorf("workflow %s: step %d is empty", w.Name, i)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.Name, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %s", w.Name, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
