package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/storystate"
	"github.com/meow-stack/storyflow/internal/types"
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor bool
	Quiet   bool
}

var (
	styleGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	styleBlue   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleGray   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleTitle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func paint(s lipgloss.Style, text string, opts FormatOptions) string {
	if opts.NoColor {
		return text
	}
	return s.Render(text)
}

// FormatDetailedWorkflow formats a single instance with full details.
func FormatDetailedWorkflow(summary *WorkflowSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(formatHeader(summary, opts))
	b.WriteString("\n\n")

	b.WriteString(formatProgress(summary, opts))

	if len(summary.Variables) > 0 && !opts.Quiet {
		b.WriteString("\n\nVariables:")
		for _, k := range SortedKeys(summary.Variables) {
			fmt.Fprintf(&b, "\n  %s = %s", k, summary.Variables[k])
		}
	}

	if len(summary.LastHistory) > 0 && !opts.Quiet {
		b.WriteString("\n\n")
		b.WriteString(formatHistory(summary.LastHistory, opts))
	}

	if len(summary.Errors) > 0 {
		b.WriteString("\n\n")
		b.WriteString(formatErrors(summary.Errors, opts))
	}

	b.WriteString("\n")
	return b.String()
}

// FormatWorkflowList formats a list of instances, most recently updated first.
func FormatWorkflowList(summaries []*WorkflowSummary, opts FormatOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Found %d workflow instance(s):\n\n", len(summaries))

	sorted := make([]*WorkflowSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})

	for i, summary := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatWorkflowListItem(summary, opts))
		b.WriteString("\n")
	}

	return b.String()
}

func formatHeader(summary *WorkflowSummary, opts FormatOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Workflow: %s\n", summary.Name)
	fmt.Fprintf(&b, "State:    %s\n", summary.StateKey)
	if summary.Path != "" {
		fmt.Fprintf(&b, "File:     %s\n", summary.Path)
	}
	if summary.Parent != "" {
		fmt.Fprintf(&b, "Parent:   %s\n", summary.Parent)
	}
	fmt.Fprintf(&b, "Status:   %s", statusLabel(summary.Status, opts))
	if summary.Active {
		b.WriteString(paint(styleYellow, " (running)", opts))
	}
	fmt.Fprintf(&b, "\nStarted:  %s", formatTime(summary.CreatedAt))
	if !summary.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "\nUpdated:  %s", formatTime(summary.UpdatedAt))
		if summary.Status == StatusCompleted {
			fmt.Fprintf(&b, " (took %s)", formatDuration(summary.UpdatedAt.Sub(summary.CreatedAt)))
		}
	}
	return b.String()
}

func formatProgress(summary *WorkflowSummary, opts FormatOptions) string {
	var b strings.Builder

	stats := summary.StepStats
	done := stats.Current
	total := stats.Total
	if total < done {
		total = done
	}

	var percentage int
	if total > 0 {
		percentage = (done * 100) / total
	}

	barWidth := 25
	filled := (percentage * barWidth) / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(&b, "Progress: %s %d%% (%d/%d steps)\n", bar, percentage, done, total)

	parts := []string{}
	if stats.Executed > 0 {
		parts = append(parts, paint(styleGreen, fmt.Sprintf("✓ %d executed", stats.Executed), opts))
	}
	if stats.Skipped > 0 {
		parts = append(parts, paint(styleGray, fmt.Sprintf("⊘ %d skipped", stats.Skipped), opts))
	}
	if remaining := total - done; remaining > 0 {
		parts = append(parts, paint(styleGray, fmt.Sprintf("○ %d remaining", remaining), opts))
	}
	if len(parts) == 0 {
		parts = append(parts, "no steps")
	}
	b.WriteString("Steps:    " + strings.Join(parts, ", "))

	if summary.NextStep != "" {
		fmt.Fprintf(&b, "\nNext:     %s", summary.NextStep)
	}

	c := summary.Children
	if c.Running+c.Completed+c.Failed > 0 {
		fmt.Fprintf(&b, "\nChildren: %d completed, %d running, %d failed", c.Completed, c.Running, c.Failed)
	}
	return b.String()
}

func formatHistory(history []types.StepRecord, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString("Recent Steps:")
	for _, rec := range history {
		icon := paint(styleGreen, "✓", opts)
		if rec.Outcome == types.OutcomeSkipped {
			icon = paint(styleGray, "⊘", opts)
		}
		fmt.Fprintf(&b, "\n  %s %d. %s (%s)", icon, rec.Index+1, rec.Name, rec.Action)
		if rec.Message != "" {
			fmt.Fprintf(&b, ": %s", rec.Message)
		}
	}
	return b.String()
}

func formatErrors(errs []string, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString(paint(styleRed, "Errors:", opts))
	for _, err := range errs {
		fmt.Fprintf(&b, "\n  %s %s", paint(styleRed, "✗", opts), err)
	}
	return b.String()
}

func formatWorkflowListItem(summary *WorkflowSummary, opts FormatOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s", statusIcon(summary.Status, opts), summary.StateKey)
	if summary.Active {
		b.WriteString(paint(styleYellow, " (running)", opts))
	}
	if !opts.Quiet {
		fmt.Fprintf(&b, "\n  Workflow: %s", summary.Name)
		fmt.Fprintf(&b, "\n  Status:   %s", statusLabel(summary.Status, opts))
		fmt.Fprintf(&b, "\n  Progress: %d/%d steps", summary.StepStats.Current, summary.StepStats.Total)
		fmt.Fprintf(&b, "\n  Updated:  %s", formatTime(summary.UpdatedAt))
	}
	return b.String()
}

// FormatHierarchy renders an instance tree, one line per instance.
func FormatHierarchy(root *orchestrator.Hierarchy, opts FormatOptions) string {
	var b strings.Builder
	root.Walk(func(node *orchestrator.Hierarchy, depth int) {
		indent := strings.Repeat("  ", depth)
		if depth > 0 {
			indent = strings.Repeat("  ", depth-1) + "└─ "
		}

		name := node.WorkflowName
		if name == "" {
			name = node.Path
		}

		var state string
		switch {
		case node.Missing:
			state = paint(styleRed, "missing state", opts)
		case node.Completed:
			state = paint(styleGreen, "completed", opts)
		default:
			state = paint(styleYellow, fmt.Sprintf("at step %d", node.CurrentStep+1), opts)
		}

		fmt.Fprintf(&b, "%s%s [%s] %s", indent, paint(styleBlue, name, opts), node.StateKey, state)
		if depth > 0 {
			fmt.Fprintf(&b, " (%s)", childStatusLabel(node.Status, opts))
		}
		if node.Error != "" {
			fmt.Fprintf(&b, ": %s", node.Error)
		}
		b.WriteString("\n")
	})
	return b.String()
}

// FormatBoard renders a story status document one section per state, with
// WIP limits and any violations.
func FormatBoard(doc *storystate.Document, violations []storystate.Violation, opts FormatOptions) string {
	var b strings.Builder

	for i, state := range storystate.States {
		if i > 0 {
			b.WriteString("\n")
		}
		stories := doc.Sections[state]
		heading := fmt.Sprintf("%s (%d", state, len(stories))
		if limit := state.WIPLimit(); limit > 0 {
			heading += fmt.Sprintf("/%d", limit)
		}
		heading += ")"
		b.WriteString(paint(styleTitle, heading, opts))
		b.WriteString("\n")

		if len(stories) == 0 {
			b.WriteString("  " + paint(styleGray, "(empty)", opts) + "\n")
			continue
		}
		for _, s := range stories {
			line := fmt.Sprintf("  %s %s", paint(boardStyle(state), s.ID, opts), s.Title)
			if s.HasPoints() {
				line += paint(styleGray, fmt.Sprintf(" [%d pts]", *s.Points), opts)
			}
			b.WriteString(line + "\n")
		}
	}

	if len(violations) > 0 {
		b.WriteString("\n")
		b.WriteString(paint(styleRed, "WIP violations:", opts))
		for _, v := range violations {
			fmt.Fprintf(&b, "\n  %s %s", paint(styleRed, "✗", opts), v.String())
		}
		b.WriteString("\n")
	}
	return b.String()
}

func boardStyle(state storystate.State) lipgloss.Style {
	switch state {
	case storystate.Done:
		return styleGreen
	case storystate.InProgress:
		return styleBlue
	case storystate.Todo:
		return styleYellow
	}
	return styleGray
}

// Formatting helpers

func statusIcon(status InstanceStatus, opts FormatOptions) string {
	switch status {
	case StatusInProgress:
		return paint(styleYellow, "●", opts)
	case StatusCompleted:
		return paint(styleGreen, "✓", opts)
	case StatusFailed:
		return paint(styleRed, "✗", opts)
	case StatusNew:
		return paint(styleGray, "○", opts)
	default:
		return "?"
	}
}

func statusLabel(status InstanceStatus, opts FormatOptions) string {
	return statusIcon(status, opts) + " " + string(status)
}

func childStatusLabel(status types.ChildStatus, opts FormatOptions) string {
	switch status {
	case types.ChildStatusCompleted:
		return paint(styleGreen, string(status), opts)
	case types.ChildStatusError:
		return paint(styleRed, string(status), opts)
	case types.ChildStatusRunning:
		return paint(styleYellow, string(status), opts)
	}
	return string(status)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
