package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jra3/metafs-projector/internal/config"
	"github.com/jra3/metafs-projector/internal/logging"
	"github.com/jra3/metafs-projector/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metadata projection service and Query API",
	Long:  `serve connects to the metadata store, replays its event log into an in-memory projection, and serves the Query API until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	if debug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Debug)

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("service stopped: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Close(shutdownCtx)
}
