package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/types"
)

// StateStore persists workflow instance state by key.
type StateStore interface {
	// Load returns STATE_001 when no record exists and STATE_002 when the
	// record cannot be decoded.
	Load(ctx context.Context, key string) (*types.WorkflowState, error)
	Save(ctx context.Context, state *types.WorkflowState) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

const stateSuffix = ".state.yaml"

// YAMLStateStore keeps one YAML file per instance in a directory.
// Writes go through storage, which replaces files atomically.
type YAMLStateStore struct {
	st  storage.Storage
	dir string
}

// NewYAMLStateStore creates the directory if needed and finishes any
// write interrupted by a crash.
func NewYAMLStateStore(ctx context.Context, st storage.Storage, dir string) (*YAMLStateStore, error) {
	if err := st.MkdirAll(ctx, dir); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	if err := recoverInterruptedWrites(ctx, st, dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}
	return &YAMLStateStore{st: st, dir: dir}, nil
}

// Dir returns the state directory.
func (s *YAMLStateStore) Dir() string {
	return s.dir
}

// PathFor returns the file that holds the state for key.
func (s *YAMLStateStore) PathFor(key string) string {
	return filepath.Join(s.dir, key+stateSuffix)
}

// Load reads the state for key.
func (s *YAMLStateStore) Load(ctx context.Context, key string) (*types.WorkflowState, error) {
	path := s.PathFor(key)
	data, err := s.st.ReadFile(ctx, path)
	if err != nil {
		if flowerrors.HasCode(err, flowerrors.CodeIOFileNotFound) {
			return nil, flowerrors.Newf(flowerrors.CodeStateNotFound, "no state for %q", key).
				WithDetail("key", key).
				WithDetail("path", path)
		}
		return nil, err
	}

	var state types.WorkflowState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.CodeStateInvalid, err, "state file %s is corrupt", path).
			WithDetail("key", key)
	}
	if state.Variables == nil {
		state.Variables = make(map[string]any)
	}
	return &state, nil
}

// Save writes the state under its key.
func (s *YAMLStateStore) Save(ctx context.Context, state *types.WorkflowState) error {
	if state.StateKey == "" {
		return fmt.Errorf("state for %q has no key", state.WorkflowName)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return s.st.WriteFile(ctx, s.PathFor(state.StateKey), data)
}

// Delete removes the state for key. Missing records are not an error.
func (s *YAMLStateStore) Delete(ctx context.Context, key string) error {
	return s.st.Remove(ctx, s.PathFor(key))
}

// List returns the keys of every stored state, sorted.
func (s *YAMLStateStore) List(ctx context.Context) ([]string, error) {
	names, err := s.st.List(ctx, s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, name := range names {
		if key, ok := strings.CutSuffix(name, stateSuffix); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// recoverInterruptedWrites handles temp files left by a crash mid-write.
// A temp file next to an existing state file is stale and is removed;
// a temp file with no state file is the only copy and is promoted.
func recoverInterruptedWrites(ctx context.Context, st storage.Storage, dir string) error {
	names, err := st.List(ctx, dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		if !strings.HasSuffix(name, stateSuffix+storage.TmpSuffix) {
			continue
		}
		tmpPath := filepath.Join(dir, name)
		mainPath := strings.TrimSuffix(tmpPath, storage.TmpSuffix)

		exists, err := st.Exists(ctx, mainPath)
		if err != nil {
			return err
		}
		if exists {
			if err := st.Remove(ctx, tmpPath); err != nil {
				return err
			}
			continue
		}
		if err := st.Rename(ctx, tmpPath, mainPath); err != nil {
			return err
		}
	}
	return nil
}

var _ StateStore = (*YAMLStateStore)(nil)
