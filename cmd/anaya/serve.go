package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WebSocket front end",
	Long: `Starts the HTTP server from the config's server.addr, exposing /ws
for JSON turn frames and /health for probes. SIGINT or SIGTERM drains
connections and flushes open sessions before exit.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Engine: a.engine,
		Logger: logger.Named("server"),
	})
	if err != nil {
		closeApp(a)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(a.cfg.Server.Addr)
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		closeApp(a)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return a.Close(ctx)
}
