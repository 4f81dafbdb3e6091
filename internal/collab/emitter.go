package collab

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/meow-stack/storyflow/internal/orchestrator"
)

// ConsoleEmitter prints guide and display messages.
type ConsoleEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool

	label   lipgloss.Style
	guide   lipgloss.Style
	display lipgloss.Style
}

// NewConsoleEmitter writes to w. Colors follow what the renderer detects
// for w unless noColor is set.
func NewConsoleEmitter(w io.Writer, noColor bool) *ConsoleEmitter {
	r := lipgloss.NewRenderer(w)
	return &ConsoleEmitter{
		w:       w,
		noColor: noColor,
		label:   r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		guide:   r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Italic(true),
		display: r.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
	}
}

// Display writes one message. Guide text is prefixed with the step it
// belongs to; display text is printed as is.
func (c *ConsoleEmitter) Display(ctx context.Context, msg orchestrator.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := strings.TrimRight(msg.Text, "\n")
	var out string
	switch msg.Kind {
	case orchestrator.MessageGuide:
		label := fmt.Sprintf("[%s/%s]", msg.Workflow, msg.Step)
		out = c.style(c.label, label) + " " + c.style(c.guide, text)
	default:
		out = c.style(c.display, text)
	}
	_, err := fmt.Fprintln(c.w, out)
	return err
}

func (c *ConsoleEmitter) style(s lipgloss.Style, text string) string {
	if c.noColor {
		return text
	}
	// Render pads multi-line blocks to a common width; style each line
	// on its own instead.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = s.Render(line)
	}
	return strings.Join(lines, "\n")
}
