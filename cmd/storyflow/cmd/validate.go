package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/types"
	"github.com/meow-stack/storyflow/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow...]",
	Short: "Validate workflow definitions",
	Long: `Validate workflow definitions without executing them.

Checks:
- YAML/TOML syntax
- Required fields and step actions
- Condition syntax
- Input validation rules
- Sub-workflow and route targets that do not exist

Without arguments, every workflow in the project and user directories is checked.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	paths, err := validationTargets(ctx, env, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workflows to validate.")
		return nil
	}

	failed := 0
	for _, path := range paths {
		if !validateOne(ctx, cmd.OutOrStdout(), env, path) {
			failed++
		}
	}
	if failed > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d of %d workflow(s) invalid", failed, len(paths))}
	}
	return nil
}

func validationTargets(ctx context.Context, env *environment, args []string) ([]string, error) {
	var paths []string
	if len(args) > 0 {
		for _, ref := range args {
			loc, err := env.loader.ResolveWorkflow(ctx, ref)
			if err != nil {
				return nil, err
			}
			paths = append(paths, loc.Path)
		}
		return paths, nil
	}

	available, err := env.loader.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	for _, source := range []string{"project", "user"} {
		for _, wf := range available[source] {
			paths = append(paths, wf.Path)
		}
	}
	return paths, nil
}

// validateOne reports on one definition and returns whether it is valid.
// Warnings do not make a definition invalid.
func validateOne(ctx context.Context, w io.Writer, env *environment, path string) bool {
	wf, warnings, err := workflow.LoadFile(ctx, env.st, path)
	if err != nil {
		fmt.Fprintf(w, "✗ %s\n    %v\n", path, err)
		return false
	}

	fmt.Fprintf(w, "✓ %s (%s, %d steps)\n", wf.Name, path, wf.StepCount())
	for _, warn := range warnings {
		fmt.Fprintf(w, "    ! %s\n", warn)
	}
	for _, missing := range missingTargets(ctx, env, wf) {
		fmt.Fprintf(w, "    ! %s\n", missing)
	}
	return true
}

// missingTargets lists static child workflow references whose files do
// not exist. References containing placeholders are resolved at run time
// and are not checked.
func missingTargets(ctx context.Context, env *environment, wf *types.Workflow) []string {
	var refs []struct{ step, path string }
	for _, step := range wf.Steps {
		switch {
		case step.SubWorkflow != nil:
			refs = append(refs, struct{ step, path string }{step.Name, step.SubWorkflow.WorkflowPath})
		case step.Route != nil:
			keys := make([]string, 0, len(step.Route.Routing))
			for k := range step.Route.Routing {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if t := step.Route.Routing[k]; t != nil {
					for _, p := range t.Workflows {
						refs = append(refs, struct{ step, path string }{step.Name, p})
					}
				}
			}
		}
	}

	var out []string
	for _, ref := range refs {
		if ref.path == "" || strings.Contains(ref.path, "{") {
			continue
		}
		full := workflow.ResolveRelative(wf.Path, ref.path)
		if ok, err := env.st.Exists(ctx, full); err == nil && !ok {
			out = append(out, fmt.Sprintf("step %q references missing workflow %s", ref.step, ref.path))
		}
	}
	return out
}
