package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
	"github.com/meow-stack/storyflow/internal/orchestrator"
	"github.com/meow-stack/storyflow/internal/status"
	"github.com/meow-stack/storyflow/internal/storage"
	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

var (
	statusAll   bool
	statusQuiet bool
)

var statusCmd = &cobra.Command{
	Use:   "status [workflow]",
	Short: "Show workflow instance status",
	Long: `Show the saved progress of workflow instances.

Without arguments, lists every top-level instance in the state directory.
With a workflow name, path or state key, shows that instance in detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "include child workflow instances")
	statusCmd.Flags().BoolVarP(&statusQuiet, "quiet", "q", false, "minimal output")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	opts := status.FormatOptions{NoColor: noColor, Quiet: statusQuiet}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		st, err := loadInstance(ctx, env, store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(out, status.FormatDetailedWorkflow(env.summarize(ctx, st), opts))
		return nil
	}

	keys, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}
	var summaries []*status.WorkflowSummary
	for _, key := range keys {
		st, err := store.Load(ctx, key)
		if err != nil {
			env.logger.Warn("skipping unreadable state", "key", key, "error", err)
			continue
		}
		if st.ParentKey != "" && !statusAll {
			continue
		}
		summaries = append(summaries, env.summarize(ctx, st))
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No workflow instances found.")
		return nil
	}
	fmt.Fprint(out, status.FormatWorkflowList(summaries, opts))
	return nil
}

// loadInstance finds saved state for ref, which may be a state key, a
// workflow name or a workflow path.
func loadInstance(ctx context.Context, env *environment, store orchestrator.StateStore, ref string) (*types.WorkflowState, error) {
	key, err := instanceKey(ctx, env, store, ref)
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, key)
}

func instanceKey(ctx context.Context, env *environment, store orchestrator.StateStore, ref string) (string, error) {
	if _, err := store.Load(ctx, ref); err == nil || !flowerrors.HasCode(err, flowerrors.CodeStateNotFound) {
		return ref, nil
	}
	loc, err := env.loader.ResolveWorkflow(ctx, ref)
	if err != nil {
		return "", err
	}
	wf, _, err := workflow.LoadFile(ctx, env.st, loc.Path)
	if err != nil {
		return "", err
	}
	return orchestrator.StateKey(wf.Name), nil
}

// summarize builds a summary, loading the definition when it can still be
// read.
func (env *environment) summarize(ctx context.Context, st *types.WorkflowState) *status.WorkflowSummary {
	var wf *types.Workflow
	if st.WorkflowPath != "" {
		def, _, err := workflow.LoadFile(ctx, env.st, st.WorkflowPath)
		if err != nil {
			env.logger.Debug("definition unavailable", "path", st.WorkflowPath, "error", err)
		} else {
			wf = def
		}
	}
	summary := status.NewWorkflowSummary(st, wf)
	summary.Active = storage.IsLocked(env.stateDir(), st.StateKey)
	return summary
}
