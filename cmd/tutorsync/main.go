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
		logrus.WithError(err).Fatal("tutorsync exited")
	}
}

// run keeps the client core connected for as long as a token is stored,
// until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load(os.Getenv("TUTORSYNC_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	done := make(chan error, 1)
	go func() { done <- application.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
