package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/storage"
)

var resetCmd = &cobra.Command{
	Use:   "reset <workflow>",
	Short: "Discard saved progress for a workflow",
	Long: `Delete the saved state of a workflow instance and of every child
instance it started. The next run starts from the first step.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	loc, err := env.loader.ResolveWorkflow(ctx, args[0])
	if err != nil {
		return err
	}
	wf, err := env.loader.LoadPath(ctx, loc.Path)
	if err != nil {
		return err
	}
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	key := orchestrator.StateKey(wf.Name)
	lock, err := storage.AcquireLock(env.stateDir(), key)
	if err != nil {
		return err
	}
	defer lock.Release()

	exec, err := orchestrator.New(wf, orchestrator.Options{
		Store:    store,
		Storage:  env.st,
		Loader:   env.loader,
		Logger:   env.logger,
		StateKey: key,
	})
	if err != nil {
		return err
	}
	if err := exec.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s reset to step 1 of %d.\n", wf.Name, wf.StepCount())
	return nil
}
