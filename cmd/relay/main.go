package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/internal/app"
	"tutorsync/internal/config"
	"tutorsync/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("relay exited")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("TUTORSYNC_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	application, err := app.NewRelayApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// The relay's own context is already cancelled; shutdown gets a fresh one.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
