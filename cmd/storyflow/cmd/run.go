package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/types"
)

var (
	runFlags  executionFlags
	stepFlags executionFlags
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow to completion",
	Long: `Run a workflow from its saved position until it completes or a step fails.

The workflow can be a name (searched in the project, then ~/.storyflow/workflows)
or a path to a .yaml, .yml or .toml file. Progress is saved after every step;
running the same workflow again resumes where it stopped.

Variables passed with --var only apply when a fresh instance is created.

Example:
  storyflow run sprint-planning --var team=core --input goal="ship search"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var stepCmd = &cobra.Command{
	Use:   "step <workflow>",
	Short: "Execute the next step of a workflow",
	Long: `Execute exactly one step of a workflow and save progress.

A step whose condition is false is skipped and still counts as one step.`,
	Args: cobra.ExactArgs(1),
	RunE: runStep,
}

func init() {
	runFlags.register(runCmd)
	stepFlags.register(stepCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	s, err := openSession(ctx, cmd, env, args[0], &runFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.exec.Resume(ctx)
	if !res.Success {
		return stepError(res)
	}

	out := cmd.OutOrStdout()
	if res.Completed {
		fmt.Fprintf(out, "Workflow %s completed.\n", s.exec.Workflow().Name)
	}
	return nil
}

func runStep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	s, err := openSession(ctx, cmd, env, args[0], &stepFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.exec.Initialize(ctx); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if s.exec.GetState().Completed {
		fmt.Fprintf(out, "Workflow %s is already completed (use --reset to start over).\n", s.exec.Workflow().Name)
		return nil
	}

	res := s.exec.ExecuteNextStep(ctx)
	if !res.Success {
		return stepError(res)
	}
	printStepResult(out, res, s.exec.Workflow().StepCount())
	if res.Completed {
		fmt.Fprintf(out, "Workflow %s completed.\n", s.exec.Workflow().Name)
	}
	return nil
}

func printStepResult(w io.Writer, res types.StepResult, total int) {
	outcome := "executed"
	if res.Skipped {
		outcome = "skipped"
	}
	fmt.Fprintf(w, "Step %d/%d %s (%s) %s", res.StepIndex+1, total, res.StepName, res.Action, outcome)
	if res.Message != "" {
		fmt.Fprintf(w, ": %s", res.Message)
	}
	fmt.Fprintln(w)
}

func stepError(res types.StepResult) error {
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("step %d failed: %s", res.StepIndex+1, res.Message)
}
