package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/status"
)

var hierarchyCmd = &cobra.Command{
	Use:     "hierarchy <workflow>",
	Aliases: []string{"tree"},
	Short:   "Show an instance and its child workflows as a tree",
	Args:    cobra.ExactArgs(1),
	RunE:    runHierarchy,
}

func init() {
	rootCmd.AddCommand(hierarchyCmd)
}

func runHierarchy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	key, err := instanceKey(ctx, env, store, args[0])
	if err != nil {
		return err
	}
	tree, err := orchestrator.LoadHierarchy(ctx, store, key)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), status.FormatHierarchy(tree, status.FormatOptions{NoColor: noColor}))
	return nil
}
