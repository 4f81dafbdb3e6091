package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/meow-stack/storyflow/internal/types"
)

// TraceAction represents the type of action being traced.
type TraceAction string

const (
	TraceActionStart         TraceAction = "start"          // Fresh instance created
	TraceActionResume        TraceAction = "resume"         // Instance loaded from persisted state
	TraceActionDispatch      TraceAction = "dispatch"       // Step dispatched to its handler
	TraceActionConditionEval TraceAction = "condition_eval" // Gate evaluated
	TraceActionSkip          TraceAction = "skip"           // Gate false, pointer advanced
	TraceActionChild         TraceAction = "child"          // Child workflow status change
	TraceActionRoute         TraceAction = "route"          // Routing batch finished
	TraceActionComplete      TraceAction = "complete"       // Last step done
	TraceActionError         TraceAction = "error"          // Step failed
)

// TraceEntry represents a single trace log entry.
type TraceEntry struct {
	Timestamp time.Time      `json:"ts"`
	Action    TraceAction    `json:"action"`
	Workflow  string         `json:"workflow,omitempty"`
	Step      string         `json:"step,omitempty"`
	StepType  string         `json:"step_type,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// TracerInterface defines the interface for execution tracers.
type TracerInterface interface {
	Log(entry TraceEntry) error
	LogStart(stepCount int) error
	LogResume(currentStep int) error
	LogDispatch(step, stepType string, details map[string]any) error
	LogConditionEval(step string, result bool, details map[string]any) error
	LogSkip(step, stepType string) error
	LogChild(step, path string, status types.ChildStatus) error
	LogRoute(step string, result *types.RoutingResult) error
	LogComplete() error
	LogError(step string, err error) error
	// ForWorkflow returns a tracer writing to the same sink that stamps
	// entries with another workflow name.
	ForWorkflow(name string) TracerInterface
	Close() error
	Path() string
}

type traceSink struct {
	mu   sync.Mutex
	file afero.File
	path string
}

// Tracer logs execution traces to a JSONL file.
type Tracer struct {
	sink     *traceSink
	workflow string
	now      func() time.Time
}

// NewTracer creates a tracer appending to <dir>/<key>.trace.jsonl.
func NewTracer(fsys afero.Fs, dir, key, workflow string) (*Tracer, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(dir, key+".trace.jsonl")
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}

	return &Tracer{
		sink:     &traceSink{file: file, path: path},
		workflow: workflow,
		now:      time.Now,
	}, nil
}

// ForWorkflow shares the file with a child workflow.
func (t *Tracer) ForWorkflow(name string) TracerInterface {
	return &Tracer{sink: t.sink, workflow: name, now: t.now}
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()

	if t.sink.file != nil {
		err := t.sink.file.Close()
		t.sink.file = nil
		return err
	}
	return nil
}

// Path returns the trace file path.
func (t *Tracer) Path() string {
	return t.sink.path
}

// Log writes a trace entry to the file.
func (t *Tracer) Log(entry TraceEntry) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()

	if t.sink.file == nil {
		return fmt.Errorf("trace file %s is closed", t.sink.path)
	}

	entry.Timestamp = t.now()
	if entry.Workflow == "" {
		entry.Workflow = t.workflow
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling trace entry: %w", err)
	}

	if _, err := t.sink.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing trace entry: %w", err)
	}

	return nil
}

// LogStart traces creation of a fresh instance.
func (t *Tracer) LogStart(stepCount int) error {
	return t.Log(TraceEntry{
		Action:  TraceActionStart,
		Details: map[string]any{"step_count": stepCount, "resumed": false},
	})
}

// LogResume traces an instance picked up from persisted state.
func (t *Tracer) LogResume(currentStep int) error {
	return t.Log(TraceEntry{
		Action:  TraceActionResume,
		Details: map[string]any{"current_step": currentStep},
	})
}

// LogDispatch traces step dispatch.
func (t *Tracer) LogDispatch(step, stepType string, details map[string]any) error {
	return t.Log(TraceEntry{
		Action:   TraceActionDispatch,
		Step:     step,
		StepType: stepType,
		Details:  details,
	})
}

// LogConditionEval traces gate evaluation.
func (t *Tracer) LogConditionEval(step string, result bool, details map[string]any) error {
	// Copy details to avoid mutating the input
	merged := make(map[string]any)
	for k, v := range details {
		merged[k] = v
	}
	merged["result"] = result
	return t.Log(TraceEntry{
		Action:   TraceActionConditionEval,
		Step:     step,
		StepType: "condition",
		Details:  merged,
	})
}

// LogSkip traces a step skipped by its gate.
func (t *Tracer) LogSkip(step, stepType string) error {
	return t.Log(TraceEntry{
		Action:   TraceActionSkip,
		Step:     step,
		StepType: stepType,
	})
}

// LogChild traces a child workflow status change.
func (t *Tracer) LogChild(step, path string, status types.ChildStatus) error {
	return t.Log(TraceEntry{
		Action:  TraceActionChild,
		Step:    step,
		Details: map[string]any{"path": path, "status": string(status)},
	})
}

// LogRoute traces a finished routing batch.
func (t *Tracer) LogRoute(step string, result *types.RoutingResult) error {
	return t.Log(TraceEntry{
		Action:   TraceActionRoute,
		Step:     step,
		StepType: string(types.ActionRoute),
		Details: map[string]any{
			"level":          result.Level,
			"route_key":      result.RouteKey,
			"executed_count": result.ExecutedCount,
			"success":        result.Success,
		},
	})
}

// LogComplete traces workflow completion.
func (t *Tracer) LogComplete() error {
	return t.Log(TraceEntry{Action: TraceActionComplete})
}

// LogError traces an error.
func (t *Tracer) LogError(step string, err error) error {
	return t.Log(TraceEntry{
		Action: TraceActionError,
		Step:   step,
		Error:  err.Error(),
	})
}

// Compile-time interface checks
var (
	_ TracerInterface = (*Tracer)(nil)
	_ TracerInterface = (*NullTracer)(nil)
)

// NullTracer is a tracer that discards all entries.
type NullTracer struct{}

func (n *NullTracer) Log(_ TraceEntry) error                                    { return nil }
func (n *NullTracer) LogStart(_ int) error                                      { return nil }
func (n *NullTracer) LogResume(_ int) error                                     { return nil }
func (n *NullTracer) LogDispatch(_ string, _ string, _ map[string]any) error    { return nil }
func (n *NullTracer) LogConditionEval(_ string, _ bool, _ map[string]any) error { return nil }
func (n *NullTracer) LogSkip(_ string, _ string) error                          { return nil }
func (n *NullTracer) LogChild(_ string, _ string, _ types.ChildStatus) error    { return nil }
func (n *NullTracer) LogRoute(_ string, _ *types.RoutingResult) error           { return nil }
func (n *NullTracer) LogComplete() error                                        { return nil }
func (n *NullTracer) LogError(_ string, _ error) error                          { return nil }
func (n *NullTracer) ForWorkflow(_ string) TracerInterface                      { return n }
func (n *NullTracer) Close() error                                              { return nil }
func (n *NullTracer) Path() string                                              { return "" }
