package cmd

import (
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/meow-stack/storyflow/internal/condition"
)

var (
	evalVars       []string
	evalInstance   string
	evalPermissive bool
	evalExplain    bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <condition>",
	Short: "Evaluate a condition expression",
	Long: `Evaluate a condition the way step gates and validate steps do.

Variables come from --var, layered over a saved instance's variables when
--instance is given. Strict mode (the default) fails on unbound variables;
--permissive substitutes undefined instead.

Prints true or false and exits 1 when the result is false.

Example:
  storyflow eval '${points} >= 3 && ${team} === "core"' --var points=5 --var team=core`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringArrayVar(&evalVars, "var", nil, "variable (key=value, repeatable)")
	evalCmd.Flags().StringVar(&evalInstance, "instance", "", "use the variables of a saved workflow instance")
	evalCmd.Flags().BoolVar(&evalPermissive, "permissive", false, "treat unbound variables as undefined")
	evalCmd.Flags().BoolVar(&evalExplain, "explain", false, "print the substituted expression and parse tree")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	expr := args[0]
	vars := make(map[string]any)

	if evalInstance != "" {
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
		st, err := loadInstance(ctx, env, store, evalInstance)
		if err != nil {
			return err
		}
		maps.Copy(vars, st.Variables)
	}
	overrides, err := parseVars(evalVars)
	if err != nil {
		return err
	}
	maps.Copy(vars, overrides)

	mode := condition.Strict
	if evalPermissive {
		mode = condition.Permissive
	}

	out := cmd.OutOrStdout()
	if evalExplain {
		sub, tree, err := condition.Explain(expr, vars, mode)
		if sub != "" {
			fmt.Fprintf(out, "substituted: %s\n", sub)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "tree:        %s\n", tree)
	}

	ok, err := condition.Evaluate(expr, vars, mode)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ok)
	if !ok {
		return &ExitError{Code: 1}
	}
	return nil
}
