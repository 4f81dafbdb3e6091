package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
	workDir    string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "storyflow",
	Short: "Step-by-step workflows for story-driven development",
	Long: `storyflow runs declarative YAML/TOML workflows one step at a time.

Steps guide, elicit input, reflect through a text generator, render templates,
validate conditions, move stories across the BACKLOG -> TODO -> IN_PROGRESS -> DONE
board and start sub-workflows. Progress is saved after every step, so an
interrupted run resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Without a subcommand, list what can be run.
		return listWorkflows(cmd)
	},
}

// ExitError carries a process exit code. main prints Message, if any,
// and exits with Code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.storyflow/config.toml then .storyflow/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("storyflow {{.Version}}\n")
}

// getWorkDir returns the effective working directory as an absolute path.
func getWorkDir() (string, error) {
	if workDir != "" {
		return filepath.Abs(workDir)
	}
	return os.Getwd()
}

// listWorkflows lists the workflows found in the project and user
// directories.
func listWorkflows(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	available, err := env.loader.ListAvailable(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}

	total := 0
	for _, wfs := range available {
		total += len(wfs)
	}
	if total == 0 {
		fmt.Fprintln(w, "No workflows found.")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Add a workflow to %s or ~/.storyflow/workflows/ to get started.\n", env.cfg.Paths.WorkflowsDir)
		return nil
	}

	fmt.Fprintln(w, "Available workflows:")
	fmt.Fprintln(w)

	sourceOrder := []struct {
		key   string
		label string
		path  string
	}{
		{"project", "Project", env.cfg.Paths.WorkflowsDir},
		{"user", "User", "~/.storyflow/workflows"},
	}

	for _, source := range sourceOrder {
		workflows := available[source.key]
		if len(workflows) == 0 {
			continue
		}
		sort.Slice(workflows, func(i, j int) bool {
			return workflows[i].Name < workflows[j].Name
		})

		fmt.Fprintf(w, "  %s (%s):\n", source.label, source.path)
		for _, wf := range workflows {
			switch {
			case wf.Err != nil:
				fmt.Fprintf(w, "    %-20s (invalid: %v)\n", wf.Name, wf.Err)
			case wf.Description != "":
				fmt.Fprintf(w, "    %-20s %s\n", wf.Name, wf.Description)
			default:
				fmt.Fprintf(w, "    %s\n", wf.Name)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Run: storyflow run <workflow> [--var key=value]")
	return nil
}
