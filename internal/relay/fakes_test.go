package relay

import (
	"errors"
	"sync"

	"tutorsync/pkg/types"
)

type fakeConn struct {
	id       string
	user     *types.User
	writeErr error

	mu   sync.Mutex
	sent []types.Envelope
}

func newFakeConn(id, userID string) *fakeConn {
	c := &fakeConn{id: id}
	if userID != "" {
		c.user = &types.User{ID: userID}
	}
	return c
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	env, ok := v.(types.Envelope)
	if !ok {
		return errors.New("unexpected payload")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) User() *types.User { return c.user }

func (c *fakeConn) IsAuthenticated() bool { return c.user != nil }

func (c *fakeConn) SetUser(user *types.User) error {
	c.user = user
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, env := range c.sent {
		out = append(out, env.Event)
	}
	return out
}
