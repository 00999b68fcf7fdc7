package main

import (
	"fmt"
	"os"

	"github.com/aretw0/orchestra/internal/cli"
	"github.com/aretw0/orchestra/internal/presentation/graph"
	"github.com/aretw0/orchestra/pkg/loader"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph FILE",
	Short: "Export the workflow graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the states and transitions in FILE.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sm, err := loader.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Print(graph.GenerateMermaid(sm, nil))
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe FILE",
	Short: "Summarize a workflow definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sm, err := loader.Load(args[0])
		if err != nil {
			return err
		}
		out, err := cli.Describe(sm, cli.IsTerminal(os.Stdout))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(describeCmd)
}
