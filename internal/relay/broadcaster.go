package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

const defaultQueueSize = 1000

// delivery is one outbound envelope addressed to rooms or to a user.
type delivery struct {
	rooms  []string
	userID string
	env    types.Envelope
}

// Broadcaster fans envelopes out from a single goroutine so deliveries
// leave in the order they were queued.
type Broadcaster struct {
	queue    chan delivery
	shutdown chan struct{}
	done     chan struct{}
	registry *Registry
	logger   logrus.FieldLogger

	running bool
	mu      sync.RWMutex
}

// NewBroadcaster creates a broadcaster over registry. queueSize <= 0 uses
// 1000.
func NewBroadcaster(registry *Registry, queueSize int, logger logrus.FieldLogger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broadcaster{
		queue:    make(chan delivery, queueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		registry: registry,
		logger:   logger.WithField("component", "broadcaster"),
	}
}

func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrBroadcasterAlreadyRunning
	}
	b.running = true

	go b.run(ctx)
	return nil
}

// Stop delivers what is already queued and stops the loop.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBroadcasterNotRunning
	}
	b.running = false
	close(b.shutdown)
	b.mu.Unlock()

	<-b.done
	return nil
}

// ToRooms queues env for every connection in any of rooms. A connection
// in several of them receives it once.
func (b *Broadcaster) ToRooms(env types.Envelope, rooms ...string) error {
	return b.enqueue(delivery{rooms: rooms, env: env})
}

// ToUser queues env for every connection of userID.
func (b *Broadcaster) ToUser(userID string, env types.Envelope) error {
	return b.enqueue(delivery{userID: userID, env: env})
}

func (b *Broadcaster) enqueue(d delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return ErrBroadcasterNotRunning
	}

	select {
	case b.queue <- d:
		return nil
	default:
		return ErrBroadcastQueueFull
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)
	defer b.logger.Debug("broadcaster stopped")

	for {
		select {
		case d := <-b.queue:
			b.deliver(d)
		case <-b.shutdown:
			b.drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) drain() {
	for {
		select {
		case d := <-b.queue:
			b.deliver(d)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(d delivery) {
	var recipients []interfaces.Connection
	if d.userID != "" {
		recipients = b.registry.UserConnections(d.userID)
	} else {
		recipients = b.registry.Members(d.rooms...)
	}

	for _, conn := range recipients {
		if err := conn.WriteJSON(d.env); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"connection": conn.ID(),
				"event":      d.env.Event,
			}).Debug("delivery failed")
		}
	}
	b.logger.WithFields(logrus.Fields{
		"event":      d.env.Event,
		"rooms":      d.rooms,
		"recipients": len(recipients),
	}).Debug("delivered")
}
