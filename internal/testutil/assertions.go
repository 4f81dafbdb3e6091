package testutil

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/storystate"
	"github.com/meow-stack/storyflow/internal/types"
)

// File-related assertions

// AssertFileExists asserts that a file exists.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist", path)
	}
}

// AssertFileNotExists asserts that a file does not exist.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("Expected file %s to not exist", path)
	}
}

// AssertFileContains asserts that a file contains a substring.
func AssertFileContains(t *testing.T, path, substring string) {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("Failed to read file %s: %v", path, err)
		return
	}
	if !strings.Contains(string(content), substring) {
		t.Errorf("Expected file %s to contain %q\nContent: %s", path, substring, content)
	}
}

// State assertions

// StateFileName is the name a state key is persisted under.
func StateFileName(key string) string {
	return key + ".state.yaml"
}

// RequireState reads the persisted state for key from stateDir and fails
// the test immediately if it is missing or unreadable.
func RequireState(t *testing.T, stateDir, key string) *types.WorkflowState {
	t.Helper()
	path := filepath.Join(stateDir, StateFileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Required state %s: %v", path, err)
	}
	var st types.WorkflowState
	if err := yaml.Unmarshal(data, &st); err != nil {
		t.Fatalf("Failed to parse state %s: %v", path, err)
	}
	return &st
}

// AssertStepAt asserts the instance's step pointer.
func AssertStepAt(t *testing.T, st *types.WorkflowState, step int) {
	t.Helper()
	if st.CurrentStep != step {
		t.Errorf("Expected %s to be at step %d, got %d", st.StateKey, step, st.CurrentStep)
	}
}

// AssertHistory asserts the names of the recorded steps, in order.
func AssertHistory(t *testing.T, st *types.WorkflowState, names ...string) {
	t.Helper()
	got := make([]string, len(st.History))
	for i, rec := range st.History {
		got[i] = rec.Name
	}
	if len(names) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, names) {
		t.Errorf("Expected history %v for %s, got %v", names, st.StateKey, got)
	}
}

// Story board assertions

// AssertStoryIn asserts that the board at path lists story id under state.
func AssertStoryIn(t *testing.T, path, id string, state storystate.State) {
	t.Helper()
	m, err := storystate.Load(context.Background(), storage.NewOS(), path)
	if err != nil {
		t.Errorf("Failed to load board %s: %v", path, err)
		return
	}
	story, ok := m.Story(id)
	if !ok {
		t.Errorf("Expected story %s on board %s", id, path)
		return
	}
	if story.State != state {
		t.Errorf("Expected story %s in %s, got %s", id, state, story.State)
	}
}
