package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/database"
	"tutorsync/pkg/interfaces"
)

// Store is the sqlite-backed client state store. Reads go straight to the
// pool; writes are funnelled through a single writer goroutine.
type Store struct {
	db         *sql.DB
	logger     logrus.FieldLogger
	writeCh    chan writeOperation
	shutdown   chan struct{}
	wg         sync.WaitGroup
	retryDelay time.Duration

	mu     sync.RWMutex
	closed bool

	watchMu   sync.Mutex
	watchers  map[string]map[uint64]chan string
	nextWatch uint64
}

var _ interfaces.TokenStore = (*Store)(nil)

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// Open opens (and migrates) the database described by cfg.
func Open(cfg *database.Config, logger logrus.FieldLogger) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger logrus.FieldLogger) *Store {
	s := &Store{
		db:         db,
		logger:     logger.WithField("component", "storage"),
		writeCh:    make(chan writeOperation, 100),
		shutdown:   make(chan struct{}),
		retryDelay: 200 * time.Millisecond,
		watchers:   make(map[string]map[uint64]chan string),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s
}

// writeLoop applies writes one at a time, retrying a failed write once.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(op.ctx, s.db)
			if err != nil && op.ctx.Err() == nil {
				s.logger.WithError(err).Warn("write failed, retrying once")
				time.Sleep(s.retryDelay)
				err = op.operation(op.ctx, s.db)
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// Get returns interfaces.ErrKeyNotFound when key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key and notifies watchers of key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO local_storage (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	s.notify(key, value)
	return nil
}

// Remove deletes keys in one transaction and notifies their watchers.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, key); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to remove keys: %w", err)
	}

	for _, key := range keys {
		s.notify(key, "")
	}
	return nil
}

// Watch subscribes to writes of key made through this Store. Each watcher
// holds at most one pending value; a slow reader only sees the latest.
func (s *Store) Watch(key string) (<-chan string, func()) {
	ch := make(chan string, 1)

	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[uint64]chan string)
	}
	s.watchers[key][id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if w, ok := s.watchers[key][id]; ok {
				delete(s.watchers[key], id)
				close(w)
			}
		})
	}
	return ch, cancel
}

func (s *Store) notify(key, value string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers[key] {
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}

// HealthCheck validates database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM local_storage`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer, closes all watches and the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	s.watchMu.Lock()
	for key, byID := range s.watchers {
		for id, ch := range byID {
			close(ch)
			delete(byID, id)
		}
		delete(s.watchers, key)
	}
	s.watchMu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
