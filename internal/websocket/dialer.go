package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
)

// Dialer opens client transports to the relay, carrying the access token
// as a bearer credential in the upgrade request.
type Dialer struct {
	url        string
	bufferSize int
	dialer     *websocket.Dialer
	logger     logrus.FieldLogger
}

var _ interfaces.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer for the relay endpoint at url.
func NewDialer(url string, handshakeTimeout time.Duration, logger logrus.FieldLogger) *Dialer {
	return &Dialer{
		url:        url,
		bufferSize: defaultBufferSize,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.WithField("component", "dialer"),
	}
}

// Dial connects and starts delivering inbound envelopes to handler.
func (d *Dialer) Dial(ctx context.Context, token string, handler interfaces.InboundHandler) (interfaces.Transport, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	c := NewConnection(conn, d.bufferSize)
	c.Listen(handler, d.logger)

	d.logger.WithField("transport", c.ID()).Debug("transport opened")
	return c, nil
}
