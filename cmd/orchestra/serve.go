package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/internal/cli"
	httpAdapter "github.com/aretw0/orchestra/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine with the backends named by the config file and
exposes runs, notifications and events as a JSON API over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		defs, _ := cmd.Flags().GetStringSlice("load")

		streams := httpAdapter.NewStreamManager()
		streams.SetLogger(logger)
		rt, err := cli.BuildEngine(cfg, logger, streams.Hooks())
		if err != nil {
			return err
		}
		cli.RegisterBuiltinTasks(rt.Engine.Registry())

		for _, path := range defs {
			sm, err := rt.Engine.LoadFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			logger.Info("Loaded state machine", "id", sm.ID, "path", path)
		}

		metrics := promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})
		serverOpts := []httpAdapter.Option{
			httpAdapter.WithLogger(logger),
			httpAdapter.WithStreams(streams),
			httpAdapter.WithVersion(orchestra.Version),
		}
		if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
			serverOpts = append(serverOpts, httpAdapter.WithMetricsHandler(metrics))
		}

		servers := []*http.Server{{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpAdapter.NewHandler(rt.Engine, serverOpts...),
			ReadHeaderTimeout: 10 * time.Second,
		}}
		if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics)
			servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
		}

		if cli.IsTerminal(os.Stdout) {
			cli.NewPrinter(os.Stdout, true).PrintBanner()
		}

		// Channel to listen for errors coming from the listeners.
		serverErrors := make(chan error, len(servers))
		for _, srv := range servers {
			go func(srv *http.Server) {
				logger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					serverErrors <- err
				}
			}(srv)
		}

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case err := <-serverErrors:
			runErr = fmt.Errorf("server error: %w", err)
		case sig := <-shutdown:
			logger.Info("Start shutdown", "signal", sig)
		}

		// Give outstanding requests and running states a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "addr", srv.Addr, "err", err)
				_ = srv.Close()
			}
		}
		if err := rt.Close(ctx); err != nil {
			logger.Warn("Engine did not stop cleanly", "err", err)
		}
		logger.Info("Server stopped")
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().StringSlice("load", nil, "Definition files to load at startup")
}
