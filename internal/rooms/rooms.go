package rooms

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/types"
)

// Role rooms and the forum rooms every forum member shares.
const (
	Tutos        = types.RoomTutos
	Rookies      = types.RoomRookies
	ForumGlobal  = "forum-global"
	DefaultForum = "default-forum"
)

// Session returns the room of a single tutoring session.
func Session(id string) string {
	return "session-" + id
}

// Forum returns the room of a university forum.
func Forum(universityID string) string {
	return "forum-" + universityID
}

// SendFunc writes one control envelope on the current transport.
type SendFunc func(env types.Envelope) error

// Registry tracks the rooms the current connection has joined. The
// tracked set never holds a room whose join message failed to send, nor
// one whose join raced with Clear. No lock is held while sending.
type Registry struct {
	mu      sync.RWMutex
	joined  map[string]struct{}
	pending map[string]struct{}
	epoch   uint64
	send    SendFunc
	logger  logrus.FieldLogger
}

// NewRegistry creates an empty registry sending through send.
func NewRegistry(send SendFunc, logger logrus.FieldLogger) *Registry {
	return &Registry{
		joined:  make(map[string]struct{}),
		pending: make(map[string]struct{}),
		send:    send,
		logger:  logger.WithField("component", "rooms"),
	}
}

// Join sends joinRoom unless name is already tracked or being joined.
func (r *Registry) Join(name string) error {
	r.mu.Lock()
	if _, ok := r.joined[name]; ok {
		r.mu.Unlock()
		r.logger.WithField("room", name).Debug("already joined")
		return nil
	}
	if _, ok := r.pending[name]; ok {
		r.mu.Unlock()
		return nil
	}
	r.pending[name] = struct{}{}
	epoch := r.epoch
	r.mu.Unlock()

	err := r.sendCommand(types.EventJoinRoom, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch {
		delete(r.pending, name)
		if err == nil {
			r.joined[name] = struct{}{}
		}
	}
	if err != nil {
		return err
	}
	r.logger.WithField("room", name).Info("joined room")
	return nil
}

// Leave sends leaveRoom and untracks name whether or not the send worked.
func (r *Registry) Leave(name string) error {
	r.mu.Lock()
	delete(r.joined, name)
	r.mu.Unlock()

	if err := r.sendCommand(types.EventLeaveRoom, name); err != nil {
		return err
	}
	r.logger.WithField("room", name).Info("left room")
	return nil
}

func (r *Registry) sendCommand(event, room string) error {
	env, err := types.NewEnvelope(event, types.RoomCommand{Room: room})
	if err != nil {
		return err
	}
	return r.send(env)
}

// Track records name as joined without sending anything. Used for rooms
// the relay joins on the client's behalf, such as forum rooms.
func (r *Registry) Track(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.joined[name] = struct{}{}
	}
}

// Untrack forgets names without sending anything.
func (r *Registry) Untrack(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		delete(r.joined, name)
	}
}

// Clear empties the set without network traffic.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = make(map[string]struct{})
	r.pending = make(map[string]struct{})
	r.epoch++
}

// Has reports whether name is tracked.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[name]
	return ok
}

// Rooms returns the tracked rooms in sorted order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined))
	for name := range r.joined {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
