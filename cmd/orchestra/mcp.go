package main

import (
	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/internal/cli"
	"github.com/aretw0/orchestra/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine to MCP clients",
	Long: `Starts the engine and exposes it as a Model Context Protocol server,
on stdio by default or over SSE with --sse. Clients start runs, approve
paused states and inspect progress through tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defs, _ := cmd.Flags().GetStringSlice("load")
		sseAddr, _ := cmd.Flags().GetString("sse")
		baseURL, _ := cmd.Flags().GetString("base-url")

		rt, err := cli.BuildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close(cmd.Context())
		cli.RegisterBuiltinTasks(rt.Engine.Registry())

		for _, path := range defs {
			sm, err := rt.Engine.LoadFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			logger.Info("Loaded state machine", "id", sm.ID, "path", path)
		}

		srv := mcp.NewServer(rt.Engine, orchestra.Version, logger)
		if sseAddr == "" {
			return srv.ServeStdio()
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()
		if baseURL == "" {
			baseURL = "http://localhost" + sseAddr
		}
		return srv.ServeSSE(sc, sseAddr, baseURL)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringSlice("load", nil, "Definition files to load at startup")
	mcpCmd.Flags().String("sse", "", "Serve over SSE on this address instead of stdio, e.g. :8081")
	mcpCmd.Flags().String("base-url", "", "Public base URL announced to SSE clients")
}
