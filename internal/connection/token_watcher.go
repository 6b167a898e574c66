package connection

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// TokenSyncer is the part of Manager the watcher drives.
type TokenSyncer interface {
	Token() string
	EnsureConnection(ctx context.Context, token string) error
}

// TokenWatcher keeps the manager's credential in step with the stored
// access token. Writes made through the store arrive immediately; the poll
// catches writes made by anything else.
type TokenWatcher struct {
	syncer   TokenSyncer
	tokens   interfaces.TokenStore
	interval time.Duration
	logger   logrus.FieldLogger
}

// NewTokenWatcher creates a watcher polling every interval.
func NewTokenWatcher(syncer TokenSyncer, tokens interfaces.TokenStore, interval time.Duration, logger logrus.FieldLogger) *TokenWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenWatcher{
		syncer:   syncer,
		tokens:   tokens,
		interval: interval,
		logger:   logger.WithField("component", "token_watcher"),
	}
}

// Run blocks until ctx is cancelled.
func (w *TokenWatcher) Run(ctx context.Context) error {
	changes, cancel := w.tokens.Watch(types.KeyAccessToken)
	defer cancel()

	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case token, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			w.sync(ctx, token)
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *TokenWatcher) check(ctx context.Context) {
	token, err := w.tokens.Get(ctx, types.KeyAccessToken)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		w.logger.WithError(err).Debug("reading access token")
		return
	}
	w.sync(ctx, token)
}

func (w *TokenWatcher) sync(ctx context.Context, token string) {
	if token == w.syncer.Token() {
		return
	}
	w.logger.WithField("present", token != "").Info("access token changed")
	if err := w.syncer.EnsureConnection(ctx, token); err != nil {
		w.logger.WithError(err).Warn("connection after token change failed")
	}
}
