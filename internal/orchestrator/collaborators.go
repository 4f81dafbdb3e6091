package orchestrator

import (
	"context"

	"github.com/meow-stack/storyflow/internal/types"
)

// The executor does no I/O of its own beyond state and story files.
// Everything that talks to a person, a model or the template directory
// is injected through these interfaces. A nil collaborator is allowed;
// steps that need it fail with STEP_002.

// TemplateRenderer renders a named template against variables.
type TemplateRenderer interface {
	Render(ctx context.Context, name string, vars map[string]any) (string, error)
}

// GenerateRequest is what a reflect step asks the text generator for.
type GenerateRequest struct {
	Prompt string
	Model  string
	Params map[string]any
}

// TextGenerator produces text for reflect steps.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ElicitRequest is what an elicit step asks the input provider for.
type ElicitRequest struct {
	Step       string
	Prompt     string
	Variable   string
	Validation string
	Default    string
}

// InputProvider supplies values for elicit steps.
type InputProvider interface {
	Elicit(ctx context.Context, req ElicitRequest) (string, error)
}

// MessageKind says which action produced a message.
type MessageKind string

const (
	MessageGuide   MessageKind = "guide"
	MessageDisplay MessageKind = "display"
)

// Message is narration or output meant for whoever is running the workflow.
type Message struct {
	Kind     MessageKind
	Workflow string
	Step     string
	Text     string
}

// Emitter receives guide and display messages.
type Emitter interface {
	Display(ctx context.Context, msg Message) error
}

// WorkflowLoader loads child workflow definitions by absolute path.
type WorkflowLoader interface {
	LoadPath(ctx context.Context, path string) (*types.Workflow, error)
}
