package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tutorsync/pkg/interfaces"
)

func ids(conns []interfaces.Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestRegistry_RegisterRequiresAuthentication(t *testing.T) {
	r := require.New(t)
	reg := NewRegistry()

	r.ErrorIs(reg.Register(nil), ErrNilConnection)
	r.ErrorIs(reg.Register(newFakeConn("c1", "")), ErrConnectionNotAuthenticated)
	r.NoError(reg.Register(newFakeConn("c2", "u1")))
	r.Equal(1, reg.Stats()["total_connections"])
}

func TestRegistry_JoinLeaveMembers(t *testing.T) {
	r := require.New(t)
	reg := NewRegistry()
	a := newFakeConn("a", "u1")
	b := newFakeConn("b", "u2")
	r.NoError(reg.Register(a))
	r.NoError(reg.Register(b))

	r.NoError(reg.Join(a, "tutos"))
	r.NoError(reg.Join(a, "tutos"))
	r.NoError(reg.Join(a, "session-1"))
	r.NoError(reg.Join(b, "rookies"))
	r.ErrorIs(reg.Join(a, ""), ErrEmptyRoom)
	r.ErrorIs(reg.Join(newFakeConn("ghost", "u9"), "tutos"), ErrNotRegistered)

	r.Equal([]string{"a"}, ids(reg.Members("tutos", "session-1")))
	r.ElementsMatch([]string{"a", "b"}, ids(reg.Members("tutos", "rookies")))
	r.Equal([]string{"session-1", "tutos"}, reg.RoomsOf(a))

	r.NoError(reg.Leave(a, "tutos"))
	r.NoError(reg.Leave(a, "never-joined"))
	r.Equal([]string{"session-1"}, reg.RoomsOf(a))
	r.Empty(reg.Members("tutos"))
	r.Equal(2, reg.Stats()["active_rooms"])
}

func TestRegistry_UnregisterDropsMemberships(t *testing.T) {
	r := require.New(t)
	reg := NewRegistry()
	a := newFakeConn("a", "u1")
	a2 := newFakeConn("a2", "u1")
	r.NoError(reg.Register(a))
	r.NoError(reg.Register(a2))
	r.NoError(reg.Join(a, "tutos"))
	r.NoError(reg.Join(a2, "tutos"))

	r.ElementsMatch([]string{"a", "a2"}, ids(reg.UserConnections("u1")))

	reg.Unregister(a)
	reg.Unregister(a)

	r.Equal([]string{"a2"}, ids(reg.Members("tutos")))
	r.Equal([]string{"a2"}, ids(reg.UserConnections("u1")))
	r.Equal(map[string]int{
		"total_connections": 1,
		"connected_users":   1,
		"active_rooms":      1,
	}, reg.Stats())
}

func TestRegistry_UnregisterIgnoresStaleInstance(t *testing.T) {
	r := require.New(t)
	reg := NewRegistry()
	current := newFakeConn("same", "u1")
	stale := newFakeConn("same", "u1")
	r.NoError(reg.Register(current))

	reg.Unregister(stale)
	r.Equal([]string{"same"}, ids(reg.UserConnections("u1")))
}
