package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/orchestra/internal/cli"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run a workflow to completion",
	Long: `Loads the definition in FILE and runs it with the built-in tasks
(echo, sleep, fail). PAUSE states prompt for approval on a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		opts := cli.RunOptions{Path: args[0]}
		opts.RunID, _ = cmd.Flags().GetString("run-id")
		opts.Elements, _ = cmd.Flags().GetStringSlice("element")
		opts.Approve, _ = cmd.Flags().GetBool("approve")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
		opts.Color = !opts.JSON && cli.IsTerminal(os.Stdout)
		if cli.IsTerminal(os.Stdin) {
			opts.Input = os.Stdin
		}

		rt, err := cli.BuildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Close(ctx); err != nil {
				logger.Warn("Engine did not stop cleanly", "err", err)
			}
		}()

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		result, err := cli.Run(sc, rt, opts, os.Stdout)
		if err != nil {
			if sig := sc.Signal(); sig != nil {
				return fmt.Errorf("interrupted by %v", sig)
			}
			return err
		}
		if result.Status != domain.StatusSuccess {
			return fmt.Errorf("run %s ended in %s: %s", result.RunID, result.Status, result.ErrorMessage)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("run-id", "", "Run id (generated when empty)")
	runCmd.Flags().StringSliceP("element", "e", nil, "Seed context element as TYPE:name (repeatable)")
	runCmd.Flags().Bool("approve", false, "Approve every PAUSE state without prompting")
	runCmd.Flags().Bool("json", false, "Print instances as JSON lines")
	runCmd.Flags().Duration("timeout", 0, "Abandon the run after this long")
}
