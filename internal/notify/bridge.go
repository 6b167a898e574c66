package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

const defaultQueueSize = 64

type toast struct {
	message  string
	severity types.Severity
}

// Bridge forwards notifications to a Toaster from a single goroutine.
// Notify never blocks: when the queue is full the toast is dropped.
// Delivery failures are logged at debug and otherwise ignored.
type Bridge struct {
	toaster interfaces.Toaster
	queue   chan toast
	logger  logrus.FieldLogger

	mu       sync.RWMutex
	running  bool
	stopped  bool
	shutdown chan struct{}
	done     chan struct{}
}

var _ interfaces.Notifier = (*Bridge)(nil)

// NewBridge creates a bridge buffering up to queueSize toasts.
func NewBridge(toaster interfaces.Toaster, queueSize int, logger logrus.FieldLogger) *Bridge {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bridge{
		toaster:  toaster,
		queue:    make(chan toast, queueSize),
		logger:   logger.WithField("component", "notify"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Toasts queued before Start are
// delivered once it runs.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.stopped {
		return ErrBridgeAlreadyRunning
	}
	b.running = true

	go b.run(ctx)
	return nil
}

// Stop delivers what is already queued and waits for the goroutine to exit.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBridgeNotRunning
	}
	b.running = false
	b.stopped = true
	close(b.shutdown)
	b.mu.Unlock()

	<-b.done
	return nil
}

// Notify queues a toast.
func (b *Bridge) Notify(message string, severity types.Severity) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	select {
	case b.queue <- toast{message: message, severity: severity}:
	default:
		b.logger.WithField("message", message).Debug("notification queue full, dropping toast")
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case t := <-b.queue:
			b.deliver(t)
		case <-b.shutdown:
			b.drain()
			return
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case t := <-b.queue:
			b.deliver(t)
		default:
			return
		}
	}
}

func (b *Bridge) deliver(t toast) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).Debug("toaster panicked")
		}
	}()

	if err := b.toaster.Toast(t.message, t.severity); err != nil {
		b.logger.WithError(err).Debug("toast delivery failed")
	}
}
