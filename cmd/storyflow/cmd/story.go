package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/status"
	"github.com/meow-stack/storyflow/internal/storystate"
)

var storyFile string

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Inspect and move stories on the status board",
	Long: `Work with the story status board (paths.status_file, default docs/stories.md).

Stories move BACKLOG -> TODO -> IN_PROGRESS -> DONE, may return from TODO to
BACKLOG, and TODO and IN_PROGRESS each hold at most one story.`,
}

var storyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the board",
	Args:  cobra.NoArgs,
	RunE:  runStoryShow,
}

var storyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the board against the WIP limits",
	Args:  cobra.NoArgs,
	RunE:  runStoryValidate,
}

var storyTransitionCmd = &cobra.Command{
	Use:   "transition <story-id> <state>",
	Short: "Move a story to another state",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoryTransition,
}

var storyCanTransitionCmd = &cobra.Command{
	Use:   "can-transition <story-id> <state>",
	Short: "Report whether a transition is allowed (exit 1 if not)",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoryCanTransition,
}

func init() {
	storyCmd.PersistentFlags().StringVarP(&storyFile, "file", "f", "", "status board (default: paths.status_file)")
	storyCmd.AddCommand(storyShowCmd, storyValidateCmd, storyTransitionCmd, storyCanTransitionCmd)
	rootCmd.AddCommand(storyCmd)
}

func loadBoard(ctx context.Context) (*storystate.Machine, *environment, error) {
	env, err := newEnvironment()
	if err != nil {
		return nil, nil, err
	}
	path := env.cfg.StatusFile(env.dir)
	if storyFile != "" {
		path = resolveAgainst(env.dir, storyFile)
	}
	m, err := storystate.Load(ctx, env.st, path)
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return m, env, nil
}

func runStoryShow(cmd *cobra.Command, args []string) error {
	m, env, err := loadBoard(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	fmt.Fprint(cmd.OutOrStdout(), status.FormatBoard(m.Document(), m.Validate(), status.FormatOptions{NoColor: noColor}))
	return nil
}

func runStoryValidate(cmd *cobra.Command, args []string) error {
	m, env, err := loadBoard(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	violations := m.Validate()
	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintf(out, "✓ %s is within WIP limits\n", m.Path())
		return nil
	}
	for _, v := range violations {
		fmt.Fprintf(out, "✗ %s\n", v)
	}
	return &ExitError{Code: 1, Message: fmt.Sprintf("%d WIP violation(s) in %s", len(violations), m.Path())}
}

func runStoryTransition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, err := storystate.LookupState(args[1])
	if err != nil {
		return err
	}
	m, env, err := loadBoard(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	story, _ := m.Story(args[0])
	if err := m.Transition(ctx, args[0], target); err != nil {
		return err
	}
	env.logger.Info("story transitioned", "story", args[0], "from", story.State, "to", target, "file", m.Path())
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", args[0], story.State, target)
	return nil
}

func runStoryCanTransition(cmd *cobra.Command, args []string) error {
	target, err := storystate.LookupState(args[1])
	if err != nil {
		return err
	}
	m, env, err := loadBoard(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	if err := m.Check(args[0], target); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no: %v\n", err)
		return &ExitError{Code: 1}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "yes")
	return nil
}
