package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutorsync/internal/config"
	"tutorsync/internal/logging"
	"tutorsync/internal/relay"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func relayConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = freePort(t)
	cfg.Relay.JWTSecret = "relay-test-secret"
	return cfg
}

func TestNewRelayApplication_RequiresSecret(t *testing.T) {
	r := require.New(t)

	application, err := NewRelayApplication(config.DefaultConfig(), logging.Discard())
	r.ErrorIs(err, config.ErrInvalidConfig)
	r.Nil(application)
}

func TestRelayApplication_Lifecycle(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	application, err := NewRelayApplication(relayConfig(t), logging.Discard())
	r.NoError(err)
	r.ErrorIs(application.Stop(ctx), ErrNotStarted)

	r.NoError(application.Start(ctx))
	r.ErrorIs(application.Start(ctx), ErrAlreadyStarted)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + application.Addr() + "/health")
	r.NoError(err)
	defer resp.Body.Close()
	r.Equal(http.StatusOK, resp.StatusCode)

	var health relay.HealthResponse
	r.NoError(json.NewDecoder(resp.Body).Decode(&health))
	r.Equal("healthy", health.Status)
	r.Equal(0, health.Connections["total_connections"])

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r.NoError(application.Stop(stopCtx))
}

func TestRelayApplication_PortInUse(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	defer ln.Close()

	cfg := relayConfig(t)
	cfg.Relay.Port = ln.Addr().(*net.TCPAddr).Port

	application, err := NewRelayApplication(cfg, logging.Discard())
	r.NoError(err)
	r.Error(application.Start(context.Background()))
	r.ErrorIs(application.Stop(context.Background()), ErrNotStarted)
}
