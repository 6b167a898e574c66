package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

const (
	defaultBufferSize = 100
	writeWait         = 5 * time.Second
)

// Connection wraps a gorilla connection with a single writer goroutine.
// It is the client transport and the relay-side connection alike.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	finalCh chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	mu        sync.RWMutex
	user      *types.User
	authed    bool
	err       error
}

var (
	_ interfaces.Transport  = (*Connection)(nil)
	_ interfaces.Connection = (*Connection)(nil)
)

// NewConnection starts the writer for conn. bufferSize <= 0 uses 100.
func NewConnection(conn *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, bufferSize),
		finalCh: make(chan []byte, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.closeWithError(err)
				return
			}
		case data := <-c.finalCh:
			c.flushAndClose(data)
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// flushAndClose writes whatever is still queued, then the final frame and
// a normal close.
func (c *Connection) flushAndClose(final []byte) {
drain:
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.closeWithError(err)
				return
			}
		default:
			break drain
		}
	}
	if err := c.write(final); err != nil {
		c.closeWithError(err)
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.closeWithError(nil)
}

// ID returns the instance id assigned at creation.
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Send queues an envelope.
func (c *Connection) Send(env types.Envelope) error {
	return c.WriteJSON(env)
}

// ReadEnvelope blocks for the next text frame. Only one goroutine may read.
// A frame that is not a valid envelope yields ErrInvalidJSON and leaves the
// connection usable.
func (c *Connection) ReadEnvelope() (types.Envelope, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return types.Envelope{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			return types.Envelope{}, ErrInvalidJSON
		}
		return env, nil
	}
}

// Listen reads frames on a new goroutine and hands each envelope to handler
// in arrival order. A read failure closes the connection and is reported
// by Err.
func (c *Connection) Listen(handler interfaces.InboundHandler, logger logrus.FieldLogger) {
	go func() {
		for {
			env, err := c.ReadEnvelope()
			if errors.Is(err, ErrInvalidJSON) {
				logger.WithField("transport", c.id).Warn("dropping malformed frame")
				continue
			}
			if err != nil {
				select {
				case <-c.ctx.Done():
				default:
					c.closeWithError(err)
				}
				return
			}
			handler(env)
		}
	}()
}

// StartHeartbeat arms the read deadline, extends it on every pong and pings
// the peer every pingInterval until the connection closes.
func (c *Connection) StartHeartbeat(pingInterval, readTimeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					c.closeWithError(err)
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// SendAndClose delivers v after everything already queued and then closes
// the connection. Later writes fail with ErrConnectionClosed.
func (c *Connection) SendAndClose(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	select {
	case c.finalCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrConnectionClosing
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	return c.closeWithError(nil)
}

func (c *Connection) closeWithError(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.authed = false
		c.mu.Unlock()

		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err reports why the connection stopped, nil after a local Close.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// SetUser marks the connection authenticated.
func (c *Connection) SetUser(user *types.User) error {
	if user == nil || user.ID == "" {
		return ErrInvalidCredentials
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.authed = true
	return nil
}

func (c *Connection) User() *types.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}
