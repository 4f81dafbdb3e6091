// Package testutil provides test fixtures and helpers shared across
// storyflow packages.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meow-stack/storyflow/internal/config"
	"github.com/meow-stack/storyflow/internal/storage"
)

// NewTestConfig creates a configuration whose paths point into a fresh
// temporary directory. The directories exist on return.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.WorkflowsDir = filepath.Join(tmpDir, "workflows")
	cfg.Paths.StateDir = filepath.Join(tmpDir, "state")
	cfg.Paths.TemplatesDir = filepath.Join(tmpDir, "templates")
	cfg.Paths.OutputDir = filepath.Join(tmpDir, "out")
	cfg.Paths.LogsDir = filepath.Join(tmpDir, "logs")
	cfg.Paths.StatusFile = filepath.Join(tmpDir, "stories.md")
	cfg.Logging.Level = config.LogLevelDebug
	cfg.Engine.Trace = false
	cfg.Input.Interactive = false

	for _, dir := range []string{cfg.Paths.WorkflowsDir, cfg.Paths.StateDir, cfg.Paths.TemplatesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
	return cfg
}

// NewTestWorkspace creates a project directory with the default
// .storyflow layout and a non-interactive project config.
func NewTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, sub := range []string{".storyflow/workflows", ".storyflow/state", ".storyflow/templates", "docs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", sub, err)
		}
	}

	WriteFile(t, filepath.Join(dir, ".storyflow", "config.toml"), `version = "1"

[engine]
trace = false

[logging]
level = "debug"

[input]
interactive = false
`)
	return dir
}

// WriteFile writes content to path on disk, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// WriteWorkflow writes a workflow definition into the workspace's
// workflows directory and returns its path.
func WriteWorkflow(t *testing.T, workspace, name, content string) string {
	t.Helper()
	path := filepath.Join(workspace, ".storyflow", "workflows", name)
	WriteFile(t, path, content)
	return path
}

// NewMemoryStorage returns in-memory storage seeded with files.
func NewMemoryStorage(t *testing.T, files map[string]string) *storage.FS {
	t.Helper()
	st := storage.NewMemory()
	for path, content := range files {
		if err := st.WriteFile(context.Background(), path, []byte(content)); err != nil {
			t.Fatalf("Failed to seed %s: %v", path, err)
		}
	}
	return st
}

// DisplayWorkflow returns a YAML workflow whose steps display each
// message in order.
func DisplayWorkflow(name string, messages ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\ndescription: %s fixture\nsteps:\n", name, name)
	for i, msg := range messages {
		fmt.Fprintf(&b, "  - name: step-%d\n    action: display\n    message: %q\n", i+1, msg)
	}
	return b.String()
}

// StatusDocument renders a story board with the given entries per
// section. Entries use document form, e.g. "[S-1] Login [Points: 3]".
func StatusDocument(backlog, todo, inProgress, done []string) string {
	var b strings.Builder
	b.WriteString("# Stories\n")
	for _, sec := range []struct {
		tag     string
		entries []string
	}{
		{"BACKLOG", backlog},
		{"TODO", todo},
		{"IN_PROGRESS", inProgress},
		{"DONE", done},
	} {
		fmt.Fprintf(&b, "\n## %s\n", sec.tag)
		for _, e := range sec.entries {
			b.WriteString("- " + e + "\n")
		}
	}
	return b.String()
}
