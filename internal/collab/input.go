package collab

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"

	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/workflow"
)

// ErrNoInput is returned by StaticInput when it has no answer and nothing
// to fall back on.
var ErrNoInput = errors.New("no input supplied")

// PromptInput asks for elicit values on a terminal.
type PromptInput struct {
	Stdin  io.ReadCloser  // nil means os.Stdin
	Stdout io.WriteCloser // nil means os.Stdout
}

// NewPromptInput returns a terminal input provider.
func NewPromptInput() *PromptInput {
	return &PromptInput{}
}

// Elicit shows the prompt and re-asks until the answer passes the step's
// validation rule.
func (p *PromptInput) Elicit(ctx context.Context, req orchestrator.ElicitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt := promptui.Prompt{
		Label:    req.Prompt,
		Default:  req.Default,
		Validate: validatorFor(req),
		Stdin:    p.Stdin,
		Stdout:   p.Stdout,
	}
	value, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return "", fmt.Errorf("input for %s: %w", req.Variable, context.Canceled)
		}
		return "", fmt.Errorf("reading input for %s: %w", req.Variable, err)
	}
	return value, nil
}

// validatorFor adapts the step's rule to promptui. A blank answer is left
// to the default. A rule that does not parse accepts anything here; the
// executor reports it.
func validatorFor(req orchestrator.ElicitRequest) promptui.ValidateFunc {
	rule, err := workflow.ParseInputRule(req.Validation)
	if err != nil || rule.Kind == workflow.RuleNone {
		return nil
	}
	return func(value string) error {
		if value == "" && req.Default != "" {
			return nil
		}
		_, err := rule.Check(value)
		return err
	}
}

// StaticInput answers elicit steps from a fixed map keyed by variable name
// (or step name when the step binds no variable). Unanswered requests go to
// Next, or take the step default when Next is nil.
type StaticInput struct {
	Values map[string]string
	Next   orchestrator.InputProvider
}

// NewStaticInput returns a provider that never blocks.
func NewStaticInput(values map[string]string, next orchestrator.InputProvider) *StaticInput {
	if values == nil {
		values = map[string]string{}
	}
	return &StaticInput{Values: values, Next: next}
}

// Elicit returns the configured answer.
func (s *StaticInput) Elicit(ctx context.Context, req orchestrator.ElicitRequest) (string, error) {
	for _, key := range []string{req.Variable, req.Step} {
		if key == "" {
			continue
		}
		if v, ok := s.Values[key]; ok {
			return v, nil
		}
	}
	if s.Next != nil {
		return s.Next.Elicit(ctx, req)
	}
	if req.Default != "" {
		return req.Default, nil
	}
	name := req.Variable
	if name == "" {
		name = req.Step
	}
	return "", fmt.Errorf("%w for %s (pass --input %s=<value>)", ErrNoInput, name, name)
}
