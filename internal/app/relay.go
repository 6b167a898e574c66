package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"tutorsync/internal/config"
	"tutorsync/internal/relay"
)

// RelayApplication serves the push side over HTTP.
type RelayApplication struct {
	config     *config.Config
	relay      *relay.Server
	httpServer *http.Server
	logger     logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener
}

// NewRelayApplication validates cfg, which must carry a JWT secret, and
// builds the relay.
func NewRelayApplication(cfg *config.Config, logger logrus.FieldLogger) (*RelayApplication, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.ValidateRelay(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	server := relay.NewServer(relay.NewAuthenticator(cfg.Relay.JWTSecret), relay.Options{
		AuthTimeout:  cfg.Relay.AuthTimeout,
		PingInterval: cfg.Relay.PingInterval,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		BufferSize:   cfg.Relay.BufferSize,
		RateLimit:    cfg.Relay.RateLimit,
	}, logger)

	// Upgraded connections keep their own deadlines through the heartbeat.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:           server,
		ReadHeaderTimeout: cfg.Relay.HeaderTimeout,
	}

	return &RelayApplication{
		config:     cfg,
		relay:      server,
		httpServer: httpServer,
		logger:     logger.WithField("component", "relay_app"),
	}, nil
}

// Start binds the listen address, then serves in the background. Bind
// errors are returned directly.
func (a *RelayApplication) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	if err := a.relay.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start relay: %w", err)
	}
	a.listener = ln

	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("http server stopped")
		}
	}()

	a.logger.WithField("addr", ln.Addr().String()).Info("relay listening")
	return nil
}

// Stop stops accepting connections, then stops the broadcaster.
func (a *RelayApplication) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.listener != nil
	a.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.relay.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("relay: %w", err))
	}
	a.logger.Info("relay shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one.
func (a *RelayApplication) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// Relay exposes the push API to the process hosting the relay.
func (a *RelayApplication) Relay() *relay.Server {
	return a.relay
}
