package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"tutorsync/internal/api"
	"tutorsync/internal/config"
	"tutorsync/internal/connection"
	"tutorsync/internal/notify"
	"tutorsync/internal/reconcile"
	"tutorsync/internal/session"
	"tutorsync/internal/storage"
	"tutorsync/internal/websocket"
	"tutorsync/pkg/database"
	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// Application is the client dependency root. It owns the one connection
// manager every consumer shares.
type Application struct {
	config     *config.Config
	storage    *storage.Store
	api        *api.Client
	bridge     *notify.Bridge
	manager    *connection.Manager
	watcher    *connection.TokenWatcher
	sessions   *session.Store
	reconciler *reconcile.Reconciler
	logger     logrus.FieldLogger

	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	authenticated bool
}

// NewApplication wires the client core. Initialization order:
// storage → REST client → notifications → connection → session store →
// reconciler.
func NewApplication(cfg *config.Config, logger logrus.FieldLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := database.DefaultConfig()
	dbConfig.DatabasePath = cfg.Storage.Path
	dbConfig.MaxConnections = cfg.Storage.MaxConnections

	store, err := storage.Open(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open client storage: %w", err)
	}

	return newApplication(cfg, store, websocket.NewDialer(cfg.Client.RelayURL, cfg.Client.HandshakeTimeout, logger), NewLogNavigator(logger), logger), nil
}

func newApplication(
	cfg *config.Config,
	store *storage.Store,
	dialer interfaces.Dialer,
	navigator interfaces.Navigator,
	logger logrus.FieldLogger,
) *Application {
	client := api.NewClient(cfg.Client.APIBaseURL, cfg.Client.HTTPTimeout, logger)
	bridge := notify.NewBridge(notify.NewLogToaster(logger), cfg.Client.NotifyQueueSize, logger)

	manager := connection.NewManager(dialer, store, client, bridge, connection.Options{
		ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Client.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Client.ReconnectMaxAttempts,
	}, logger)

	sessions := session.NewStore(client, store, bridge, navigator, session.Options{
		JoinSettleDelay: cfg.Client.JoinSettleDelay,
	}, logger)

	reconciler := reconcile.New(sessions, bridge, logger)
	manager.Subscribe(reconciler.Handle)

	return &Application{
		config:     cfg,
		storage:    store,
		api:        client,
		bridge:     bridge,
		manager:    manager,
		watcher:    connection.NewTokenWatcher(manager, store, cfg.Client.TokenPollInterval, logger),
		sessions:   sessions,
		reconciler: reconciler,
		logger:     logger.WithField("component", "app"),
	}
}

// Start checks the local store, then begins delivering notifications and
// following the stored token. Each successful authentication reloads
// requests and sessions.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return ErrAlreadyStarted
	}

	if err := a.storage.HealthCheck(ctx); err != nil {
		return fmt.Errorf("client storage unavailable: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := a.bridge.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start notifications: %w", err)
	}

	a.manager.OnStateChange(func(state connection.State) {
		a.onState(ctx, state)
	})

	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("token watcher stopped")
		}
	}()

	a.logger.Info("client started")
	return nil
}

func (a *Application) onState(ctx context.Context, state connection.State) {
	a.mu.Lock()
	fresh := state.Authenticated && !a.authenticated
	a.authenticated = state.Authenticated
	a.mu.Unlock()

	if !fresh {
		return
	}
	go func() {
		if err := a.sessions.FetchAll(ctx); err != nil {
			a.logger.WithError(err).Warn("initial load failed")
		}
	}()
}

// Stop shuts down in reverse order: connection → notifications → storage.
func (a *Application) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if err := a.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("connection: %w", err))
	}
	if err := a.bridge.Stop(); err != nil && !errors.Is(err, notify.ErrBridgeNotRunning) {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}
	if err := a.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	a.logger.Info("client stopped")
	return errors.Join(errs...)
}

// SignIn stores a credential pair and cached profile. The token watcher
// picks the new access token up and connects.
func (a *Application) SignIn(ctx context.Context, tokens types.Tokens, user *types.User) error {
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := a.storage.Set(ctx, types.KeyUser, string(data)); err != nil {
			return err
		}
	}
	if tokens.RefreshToken != "" {
		if err := a.storage.Set(ctx, types.KeyRefreshToken, tokens.RefreshToken); err != nil {
			return err
		}
	}
	return a.storage.Set(ctx, types.KeyAccessToken, tokens.AccessToken)
}

// SignOut clears the stored credentials; the connection follows.
func (a *Application) SignOut(ctx context.Context) error {
	return a.storage.Remove(ctx, types.KeyAccessToken, types.KeyRefreshToken, types.KeyUser)
}

func (a *Application) Manager() *connection.Manager {
	return a.manager
}

func (a *Application) Sessions() *session.Store {
	return a.sessions
}

func (a *Application) Storage() *storage.Store {
	return a.storage
}
