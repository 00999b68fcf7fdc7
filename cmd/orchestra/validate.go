package main

import (
	"context"
	"fmt"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/internal/cli"
	"github.com/aretw0/orchestra/internal/validator"
	"github.com/aretw0/orchestra/pkg/loader"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check graph definitions for consistency",
	Long: `Loads each definition, runs the engine's structural checks and then
crawls the graph from its initial state, reporting unreachable states,
fork and repeat states without targets and unknown tasks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		tasks, _ := cmd.Flags().GetStringSlice("tasks")

		eng, err := orchestra.New()
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())
		cli.RegisterBuiltinTasks(eng.Registry())
		known := append(eng.Registry().Names(), tasks...)

		failed := 0
		for _, path := range args {
			sm, err := loader.Load(path)
			if err == nil {
				err = eng.Load(cmd.Context(), sm)
			}
			if err != nil {
				fmt.Printf("✗ %s: %v\n", path, err)
				failed++
				continue
			}

			issues := validator.Lint(sm, validator.Options{KnownTasks: known})
			bad := false
			for _, issue := range issues {
				fmt.Printf("  %s\n", issue)
				if issue.Severity == validator.SeverityError || strict {
					bad = true
				}
			}
			if bad {
				fmt.Printf("✗ %s\n", path)
				failed++
				continue
			}
			fmt.Printf("✓ %s\n", path)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d definitions failed validation", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("strict", false, "Treat warnings as errors")
	validateCmd.Flags().StringSlice("tasks", nil, "Task names registered by the host application")
}
