package relay

import (
	"sort"
	"sync"

	"tutorsync/pkg/interfaces"
)

// Registry tracks live relay connections and their room memberships. A
// user may hold several connections at once; each joins rooms on its own.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connID -> Connection
	users       map[string]map[string]interfaces.Connection // userID -> connID -> Connection
	rooms       map[string]map[string]interfaces.Connection // room -> connID -> Connection
	memberships map[string]map[string]struct{}              // connID -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		users:       make(map[string]map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register adds an authenticated connection.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() || conn.User() == nil {
		return ErrConnectionNotAuthenticated
	}

	id := conn.ID()
	userID := conn.User().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[id] = conn
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]interfaces.Connection)
	}
	r.users[userID][id] = conn
	if r.memberships[id] == nil {
		r.memberships[id] = make(map[string]struct{})
	}
	return nil
}

// Unregister removes the connection and all of its memberships. It only
// removes the exact instance registered under the connection's id.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.connections[id]
	if !ok || registered != conn {
		return
	}
	delete(r.connections, id)

	if user := conn.User(); user != nil {
		if conns, ok := r.users[user.ID]; ok {
			delete(conns, id)
			if len(conns) == 0 {
				delete(r.users, user.ID)
			}
		}
	}

	for room := range r.memberships[id] {
		r.removeMemberLocked(room, id)
	}
	delete(r.memberships, id)
}

// Join adds the connection to room. Joining twice is a no-op.
func (r *Registry) Join(conn interfaces.Connection, room string) error {
	if room == "" {
		return ErrEmptyRoom
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[id]; !ok {
		return ErrNotRegistered
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]interfaces.Connection)
	}
	r.rooms[room][id] = conn
	r.memberships[id][room] = struct{}{}
	return nil
}

// Leave removes the connection from room. Leaving a room never joined is
// a no-op.
func (r *Registry) Leave(conn interfaces.Connection, room string) error {
	if room == "" {
		return ErrEmptyRoom
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[id]; !ok {
		return ErrNotRegistered
	}
	delete(r.memberships[id], room)
	r.removeMemberLocked(room, id)
	return nil
}

func (r *Registry) removeMemberLocked(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns the connections in any of the given rooms, each once.
func (r *Registry) Members(rooms ...string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []interfaces.Connection
	for _, room := range rooms {
		for id, conn := range r.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, conn)
		}
	}
	return out
}

// UserConnections returns every live connection of userID.
func (r *Registry) UserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.users[userID]))
	for _, conn := range r.users[userID] {
		out = append(out, conn)
	}
	return out
}

// RoomsOf returns the sorted rooms the connection has joined.
func (r *Registry) RoomsOf(conn interfaces.Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberships[conn.ID()]))
	for room := range r.memberships[conn.ID()] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"connected_users":   len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
