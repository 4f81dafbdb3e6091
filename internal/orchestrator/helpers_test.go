package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meow-stack/storyflow/internal/logging"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

type inputFunc func(ctx context.Context, req ElicitRequest) (string, error)

func (f inputFunc) Elicit(ctx context.Context, req ElicitRequest) (string, error) {
	return f(ctx, req)
}

type generatorFunc func(ctx context.Context, req GenerateRequest) (string, error)

func (f generatorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

type rendererFunc func(ctx context.Context, name string, vars map[string]any) (string, error)

func (f rendererFunc) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	return f(ctx, name, vars)
}

// recordingEmitter keeps every message; onDisplay runs after recording.
type recordingEmitter struct {
	mu        sync.Mutex
	messages  []Message
	onDisplay func(Message)
}

func (r *recordingEmitter) Display(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	if r.onDisplay != nil {
		r.onDisplay(msg)
	}
	return nil
}

func (r *recordingEmitter) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Text
	}
	return out
}

func (r *recordingEmitter) count(text string) int {
	n := 0
	for _, t := range r.texts() {
		if t == text {
			n++
		}
	}
	return n
}

type harness struct {
	st     *storage.FS
	store  *YAMLStateStore
	loader *workflow.Loader
	emit   *recordingEmitter
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := storage.NewMemory()
	store, err := NewYAMLStateStore(context.Background(), st, "/state")
	if err != nil {
		t.Fatalf("NewYAMLStateStore failed: %v", err)
	}
	return &harness{
		st:     st,
		store:  store,
		loader: workflow.NewLoader(st, "/wf", logging.NewForTest()),
		emit:   &recordingEmitter{},
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// write stores content at path. Workflow fixtures under /wf may leave out
// the description; a placeholder one is added after the name line.
func (h *harness) write(t *testing.T, path, content string) {
	t.Helper()
	if strings.HasPrefix(path, "/wf/") && strings.HasPrefix(content, "name:") && !strings.Contains(content, "\ndescription:") {
		if i := strings.Index(content, "\n"); i >= 0 {
			content = content[:i+1] + "description: fixture\n" + content[i+1:]
		}
	}
	if err := h.st.WriteFile(context.Background(), path, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (h *harness) read(t *testing.T, path string) string {
	t.Helper()
	data, err := h.st.ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func (h *harness) now() time.Time {
	h.clock = h.clock.Add(time.Second)
	return h.clock
}

func (h *harness) options() Options {
	return Options{
		Store:      h.store,
		Storage:    h.st,
		Loader:     h.loader,
		Emitter:    h.emit,
		Logger:     logging.NewForTest(),
		BaseDir:    "/project",
		StatusFile: "/project/status.md",
		OutputDir:  "/project/out",
		Now:        h.now,
	}
}

// executor loads the workflow at path and builds an executor for it.
func (h *harness) executor(t *testing.T, path string, configure ...func(*Options)) *Executor {
	t.Helper()
	wf, err := h.loader.LoadPath(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadPath(%s) failed: %v", path, err)
	}
	opts := h.options()
	for _, fn := range configure {
		fn(&opts)
	}
	e, err := New(wf, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func (h *harness) state(t *testing.T, key string) *types.WorkflowState {
	t.Helper()
	st, err := h.store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", key, err)
	}
	return st
}

func mustResume(t *testing.T, e *Executor) types.StepResult {
	t.Helper()
	res := e.Resume(context.Background())
	if !res.Success {
		t.Fatalf("Resume failed: %v", res.Err)
	}
	if !res.Completed {
		t.Fatalf("Resume returned without completing: %+v", res)
	}
	return res
}
