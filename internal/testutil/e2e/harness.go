package e2e

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meow-stack/storyflow/internal/testutil"
	"github.com/meow-stack/storyflow/internal/types"
)

// Binary is the storyflow executable used by every harness. TestMain sets
// it with BuildBinary.
var Binary string

// BuildBinary compiles ./cmd/storyflow from the module root into dir and
// returns the executable path.
func BuildBinary(dir string) (string, error) {
	root, err := findModuleRoot()
	if err != nil {
		return "", err
	}
	bin := filepath.Join(dir, "storyflow")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/storyflow")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("building storyflow: %w\n%s", err, out)
	}
	return bin, nil
}

// findModuleRoot walks up to find go.mod.
func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}

// Harness provides test isolation for e2e tests. Each harness creates a
// project directory with its own state, logs, templates and board.
type Harness struct {
	// Dir is the project directory the binary runs in.
	Dir string

	WorkflowsDir string
	StateDir     string
	LogsDir      string
	TemplatesDir string
	StatusFile   string

	// GeneratorPath is the fake generator configured as reflect.command.
	GeneratorPath string
	// StartedFile is touched by the generator when it starts.
	StartedFile string
	// HoldFile keeps the generator waiting while it exists.
	HoldFile string

	t            *testing.T
	home         string
	cleanupFuncs []func()
}

// NewHarness creates a project with the given generator behavior. Started
// and hold files are always wired in.
func NewHarness(t *testing.T, behavior ...testutil.GeneratorBehavior) *Harness {
	t.Helper()
	if Binary == "" {
		t.Skip("storyflow binary not built")
	}

	dir := testutil.NewTestWorkspace(t)
	h := &Harness{
		Dir:          dir,
		WorkflowsDir: filepath.Join(dir, ".storyflow", "workflows"),
		StateDir:     filepath.Join(dir, ".storyflow", "state"),
		LogsDir:      filepath.Join(dir, ".storyflow", "logs"),
		TemplatesDir: filepath.Join(dir, ".storyflow", "templates"),
		StatusFile:   filepath.Join(dir, "docs", "stories.md"),
		StartedFile:  filepath.Join(dir, "generator.started"),
		HoldFile:     filepath.Join(dir, "generator.hold"),
		t:            t,
		home:         t.TempDir(),
	}

	var b testutil.GeneratorBehavior
	if len(behavior) > 0 {
		b = behavior[0]
	}
	b.StartedFile = h.StartedFile
	b.HoldFile = h.HoldFile
	h.GeneratorPath = testutil.GeneratorScript(t, dir, b)

	testutil.WriteFile(t, filepath.Join(dir, ".storyflow", "config.toml"), fmt.Sprintf(`version = "1"

[engine]
trace = true

[logging]
level = "debug"

[input]
interactive = false

[reflect]
command = %q
model = "fake-1"
timeout = "30s"
`, h.GeneratorPath))

	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup runs registered cleanup functions in reverse order.
func (h *Harness) Cleanup() {
	for i := len(h.cleanupFuncs) - 1; i >= 0; i-- {
		h.cleanupFuncs[i]()
	}
}

// OnCleanup registers a function to be called during cleanup.
func (h *Harness) OnCleanup(fn func()) {
	h.cleanupFuncs = append(h.cleanupFuncs, fn)
}

// WriteWorkflow writes a definition into the project workflows directory.
// A name without extension gets .yaml.
func (h *Harness) WriteWorkflow(name, content string) string {
	if filepath.Ext(name) == "" {
		name += ".yaml"
	}
	return testutil.WriteWorkflow(h.t, h.Dir, name, content)
}

// WriteTemplate writes a template into the project templates directory.
func (h *Harness) WriteTemplate(name, content string) {
	testutil.WriteFile(h.t, filepath.Join(h.TemplatesDir, name), content)
}

// WriteBoard writes the story status document.
func (h *Harness) WriteBoard(content string) {
	testutil.WriteFile(h.t, h.StatusFile, content)
}

// Hold makes the generator wait until Release is called.
func (h *Harness) Hold() {
	testutil.WriteFile(h.t, h.HoldFile, "")
}

// Release lets a held generator answer.
func (h *Harness) Release() {
	os.Remove(h.HoldFile)
}

// Env returns the environment for storyflow processes. HOME points at an
// empty directory so user-level config and workflows do not leak in.
func (h *Harness) Env() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "STORYFLOW_") || strings.HasPrefix(kv, "HOME=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "HOME="+h.home)
}

// Run executes storyflow in the project directory and returns stdout,
// stderr and the exit error.
func (h *Harness) Run(args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, Binary, append([]string{"--no-color"}, args...)...)
	cmd.Dir = h.Dir
	cmd.Env = h.Env()

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// State reads the persisted state for key.
func (h *Harness) State(key string) *types.WorkflowState {
	h.t.Helper()
	return testutil.RequireState(h.t, h.StateDir, key)
}

// WaitForFile polls until path exists.
func (h *Harness) WaitForFile(path string, timeout time.Duration) error {
	return poll(timeout, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, "file %s", path)
}

// WaitForStep polls until the state for key has reached step.
func (h *Harness) WaitForStep(key string, step int, timeout time.Duration) error {
	return poll(timeout, func() bool {
		data, err := os.ReadFile(filepath.Join(h.StateDir, testutil.StateFileName(key)))
		if err != nil {
			return false
		}
		return strings.Contains(string(data), fmt.Sprintf("current_step: %d\n", step))
	}, "%s to reach step %d", key, step)
}

func poll(timeout time.Duration, done func() bool, format string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for "+format, args...)
		case <-ticker.C:
		}
	}
}
