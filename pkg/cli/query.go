package cli

import (
	"github.com/spf13/cobra"

	"github.com/nimburion/tabular/pkg/engine"
)

func newGetCommand(g *globalFlags, load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <source> <start> <length> [SORT n (field ALPHA|NUM|REVALPHA|REVNUM)...] [FILTER n (field MATCH|EQUAL|IN operand)...] [STORE key]",
		Short: "Sort, filter and window the records of a collection",
		Example: `  tabular get services 0 10 SORT 1 name ALPHA
  tabular get services 0 10 FILTER 1 state EQUAL up STORE services:up
  tabular get services 5 5 SORT 2 zone ALPHA value REVNUM`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, load, append([]string{engine.CommandGet}, args...))
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newCountCommand(g *globalFlags, load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "count <source> FILTER n (field MATCH|EQUAL|IN operand)... [STORE key]",
		Short:   "Count records grouped by the values of the filter fields",
		Example: `  tabular count services FILTER 2 state MATCH * zone MATCH eu-*`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, load, append([]string{engine.CommandCount}, args...))
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newExecCommand(g *globalFlags, load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exec TABULAR.GET|TABULAR.COUNT <args>...",
		Short:   "Run a raw command vector",
		Example: `  tabular exec TABULAR.COUNT services FILTER 1 state MATCH * STORE stats`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, load, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func runQuery(cmd *cobra.Command, g *globalFlags, load configLoader, argv []string) error {
	cfg, log, err := load(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), cfg, log, func(a *app) error {
		reply, err := a.engine.Execute(cmd.Context(), argv)
		if err != nil {
			return err
		}
		return writeReply(cmd.OutOrStdout(), g.output, reply)
	})
}
