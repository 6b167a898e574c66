package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutorsync/internal/logging"
	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

type fakeTransport struct {
	id      string
	handler interfaces.InboundHandler

	mu      sync.Mutex
	sent    []types.Envelope
	done    chan struct{}
	once    sync.Once
	closed  bool
	dropErr error
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Send(env types.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.dropErr = errors.New("peer went away")
	t.mu.Unlock()
	_ = t.Close()
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropErr
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, env := range t.sent {
		var cmd types.RoomCommand
		if env.Decode(&cmd) == nil && cmd.Room != "" {
			out = append(out, env.Event+":"+cmd.Room)
			continue
		}
		out = append(out, env.Event)
	}
	return out
}

func (t *fakeTransport) deliver(event string, payload interface{}) {
	env, _ := types.NewEnvelope(event, payload)
	t.handler(env)
}

type fakeDialer struct {
	mu         sync.Mutex
	tokens     []string
	transports []*fakeTransport
	failures   int
}

func (d *fakeDialer) Dial(_ context.Context, token string, handler interfaces.InboundHandler) (interfaces.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	tr := &fakeTransport{
		id:      fmt.Sprintf("t%d", len(d.transports)+1),
		handler: handler,
		done:    make(chan struct{}),
	}
	d.transports = append(d.transports, tr)
	return tr, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

type memoryTokens struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryTokens(kv ...string) *memoryTokens {
	m := &memoryTokens{values: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.values[kv[i]] = kv[i+1]
	}
	return m
}

func (m *memoryTokens) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return v, nil
}

func (m *memoryTokens) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryTokens) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryTokens) Watch(string) (<-chan string, func()) {
	return make(chan string), func() {}
}

func (m *memoryTokens) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	result *types.RefreshResult
	err    error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*types.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshToken)
	return f.result, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(msg string, sev types.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, string(sev)+":"+msg)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func userJSON(t *testing.T, role types.Role) string {
	t.Helper()
	raw, err := json.Marshal(types.User{ID: "u1", Username: "ana", Role: role})
	require.NoError(t, err)
	return string(raw)
}

type harness struct {
	manager   *Manager
	dialer    *fakeDialer
	tokens    *memoryTokens
	refresher *fakeRefresher
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, tokens *memoryTokens) *harness {
	t.Helper()
	h := &harness{
		dialer:    &fakeDialer{},
		tokens:    tokens,
		refresher: &fakeRefresher{},
		notifier:  &recordingNotifier{},
	}
	h.manager = NewManager(h.dialer, h.tokens, h.refresher, h.notifier, Options{
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}, logging.Discard())
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

func TestManager_EnsureConnectionSameTokenKeepsTransport(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())
	ctx := context.Background()

	r.NoError(h.manager.EnsureConnection(ctx, "tok-a"))
	r.NoError(h.manager.EnsureConnection(ctx, "tok-a"))

	r.Equal(1, h.dialer.dials())
	r.False(h.dialer.last().isClosed())
	r.True(h.manager.State().Connected)
}

func TestManager_EmptyTokenStaysDisconnected(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	r.NoError(h.manager.EnsureConnection(context.Background(), ""))

	r.Zero(h.dialer.dials())
	r.False(h.manager.State().Connected)
}

func TestManager_AuthSuccessJoinsRoleRooms(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens(types.KeyUser, userJSON(t, types.RoleBoth)))

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok-a"))
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Success: true})

	state := h.manager.State()
	r.True(state.Authenticated)
	r.Equal([]string{"rookies", "tutos"}, state.Rooms)
	r.Equal([]string{"joinRoom:tutos", "joinRoom:rookies"}, h.dialer.last().events())
}

func TestManager_StateListenersFollowLifecycle(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	var (
		mu     sync.Mutex
		states []State
	)
	record := func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}
	h.manager.OnStateChange(record)
	h.manager.OnStateChange(func(State) {})

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok-a"))
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{
		Success: true,
		User:    &types.User{ID: "u1", Role: types.RoleRookie},
	})

	mu.Lock()
	defer mu.Unlock()
	r.Len(states, 2)
	r.True(states[0].Connected)
	r.False(states[0].Authenticated)
	r.True(states[1].Authenticated)
	r.Equal([]string{"rookies"}, states[1].Rooms)
}

func TestManager_AuthSuccessFallsBackToHandshakeUser(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok-a"))
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{
		Success: true,
		User:    &types.User{ID: "u1", Role: types.RoleRookie},
	})

	r.Equal([]string{"rookies"}, h.manager.State().Rooms)
}

func TestManager_TokenChangeReplacesTransport(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens(types.KeyUser, userJSON(t, types.RoleRookie)))
	ctx := context.Background()

	r.NoError(h.manager.EnsureConnection(ctx, "tok-a"))
	first := h.dialer.last()
	first.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.Equal([]string{"rookies"}, h.manager.State().Rooms)

	r.NoError(h.manager.EnsureConnection(ctx, "tok-b"))
	second := h.dialer.last()

	r.True(first.isClosed())
	r.NotSame(first, second)
	r.Equal([]string{"tok-a", "tok-b"}, h.dialer.tokens)

	state := h.manager.State()
	r.True(state.Connected)
	r.False(state.Authenticated)
	r.Empty(state.Rooms)

	// Late frames from the replaced transport are ignored.
	first.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.False(h.manager.State().Authenticated)

	second.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.Equal([]string{"rookies"}, h.manager.State().Rooms)
	r.Equal([]string{"joinRoom:rookies"}, second.events())
}

func TestManager_SendRequiresAuthentication(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	r.ErrorIs(h.manager.Send("ping", nil), ErrNotReady)

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok-a"))
	r.ErrorIs(h.manager.Send("ping", nil), ErrNotReady)
	r.ErrorIs(h.manager.JoinRoom("tutos"), ErrNotReady)
	r.Empty(h.manager.State().Rooms)

	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.NoError(h.manager.Send("ping", nil))
	r.Equal([]string{"ping"}, h.dialer.last().events())
}

func TestManager_RefreshOnExpiredToken(t *testing.T) {
	r := require.New(t)
	tokens := newMemoryTokens(types.KeyAccessToken, "old", types.KeyRefreshToken, "refresh-1")
	h := newHarness(t, tokens)
	h.refresher.result = &types.RefreshResult{
		Tokens: types.Tokens{AccessToken: "new", RefreshToken: "refresh-2"},
		User:   &types.User{ID: "u1", Role: types.RoleTuto},
	}
	ctx := context.Background()

	r.NoError(h.manager.EnsureConnection(ctx, "old"))
	first := h.dialer.last()
	first.deliver(types.EventAuthStatus, types.AuthStatus{Error: "jwt expired"})

	r.Equal([]string{"refresh-1"}, h.refresher.calls)
	r.True(first.isClosed())
	r.Equal([]string{"old", "new"}, h.dialer.tokens)
	r.Equal("new", h.manager.Token())

	stored, err := tokens.Get(ctx, types.KeyAccessToken)
	r.NoError(err)
	r.Equal("new", stored)
	stored, err = tokens.Get(ctx, types.KeyRefreshToken)
	r.NoError(err)
	r.Equal("refresh-2", stored)

	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.Equal([]string{"tutos"}, h.manager.State().Rooms)
	r.Empty(h.notifier.all())
}

func TestManager_RefreshFailureLogsOut(t *testing.T) {
	r := require.New(t)
	tokens := newMemoryTokens(
		types.KeyAccessToken, "old",
		types.KeyRefreshToken, "refresh-1",
		types.KeyUser, userJSON(t, types.RoleRookie),
	)
	h := newHarness(t, tokens)
	h.refresher.err = errors.New("refresh rejected")

	r.NoError(h.manager.EnsureConnection(context.Background(), "old"))
	tr := h.dialer.last()
	tr.deliver(types.EventAuthStatus, types.AuthStatus{Error: "Invalid token"})

	r.True(tr.isClosed())
	r.Equal([]string{"error:" + SessionExpiredMessage}, h.notifier.all())
	r.False(tokens.has(types.KeyAccessToken))
	r.False(tokens.has(types.KeyRefreshToken))
	r.False(tokens.has(types.KeyUser))

	state := h.manager.State()
	r.False(state.Connected)
	r.Empty(state.Token)
	r.Equal(1, h.dialer.dials())
}

func TestManager_SecondCredentialFailureAfterRefreshLogsOut(t *testing.T) {
	r := require.New(t)
	tokens := newMemoryTokens(types.KeyRefreshToken, "refresh-1")
	h := newHarness(t, tokens)
	h.refresher.result = &types.RefreshResult{Tokens: types.Tokens{AccessToken: "new"}}

	r.NoError(h.manager.EnsureConnection(context.Background(), "old"))
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Error: "jwt expired"})
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Error: "jwt expired"})

	r.Len(h.refresher.calls, 1)
	r.Equal([]string{"error:" + SessionExpiredMessage}, h.notifier.all())
	r.Empty(h.manager.Token())
}

func TestManager_NonCredentialFailureKeepsSession(t *testing.T) {
	r := require.New(t)
	tokens := newMemoryTokens(types.KeyAccessToken, "tok")
	h := newHarness(t, tokens)

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok"))
	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Error: "Auth timeout"})

	r.Empty(h.refresher.calls)
	r.Empty(h.notifier.all())
	r.True(tokens.has(types.KeyAccessToken))
	r.False(h.manager.State().Authenticated)
}

func TestManager_DropReconnectsWithBackoff(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens(types.KeyUser, userJSON(t, types.RoleTuto)))

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok"))
	first := h.dialer.last()
	first.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})

	first.drop()

	r.Eventually(func() bool { return h.dialer.dials() == 2 }, time.Second, 5*time.Millisecond)
	r.Eventually(func() bool { return h.manager.State().Connected }, time.Second, 5*time.Millisecond)
	r.Empty(h.manager.State().Rooms)

	h.dialer.last().deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	r.Equal([]string{"tutos"}, h.manager.State().Rooms)
}

func TestManager_ExhaustedUntilReconnect(t *testing.T) {
	r := require.New(t)
	tokens := newMemoryTokens(types.KeyAccessToken, "tok")
	h := newHarness(t, tokens)
	h.dialer.setFailures(100)
	ctx := context.Background()

	r.Error(h.manager.EnsureConnection(ctx, "tok"))
	r.Eventually(func() bool { return h.manager.State().Exhausted }, time.Second, 5*time.Millisecond)
	r.Equal(4, h.dialer.dials())

	// Same token does not restart the cycle.
	r.NoError(h.manager.EnsureConnection(ctx, "tok"))
	r.Equal(4, h.dialer.dials())

	h.dialer.setFailures(0)
	r.NoError(h.manager.Reconnect(ctx))

	state := h.manager.State()
	r.True(state.Connected)
	r.False(state.Exhausted)
	r.Equal(5, h.dialer.dials())
}

func TestManager_ForumMembershipFollowsAcknowledgment(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok"))
	tr := h.dialer.last()
	tr.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})

	r.NoError(h.manager.JoinForum("u42"))
	r.Empty(h.manager.State().Rooms)

	tr.deliver(types.EventForumJoined, types.ForumJoined{UniversityID: "u42", Timestamp: 1})
	r.Equal([]string{"forum-global", "forum-u42"}, h.manager.State().Rooms)

	r.NoError(h.manager.LeaveForum("u42"))
	r.Empty(h.manager.State().Rooms)
	r.Equal([]string{"joinForum", "leaveForum"}, tr.events())
}

func TestManager_ListenersReceiveLifecycleEventsInOrder(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	var mu sync.Mutex
	var seen []string
	h.manager.Subscribe(func(env types.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, env.Event)
	})

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok"))
	tr := h.dialer.last()
	tr.deliver(types.EventAuthStatus, types.AuthStatus{Success: true})
	tr.deliver(types.EventSessionRequestAccepted, types.RequestAccepted{RequestID: "r1"})
	tr.deliver(types.EventSessionStarted, types.SessionStarted{SessionID: "r1"})

	mu.Lock()
	defer mu.Unlock()
	r.Equal([]string{types.EventSessionRequestAccepted, types.EventSessionStarted}, seen)
}

func TestManager_CloseStopsEverything(t *testing.T) {
	r := require.New(t)
	h := newHarness(t, newMemoryTokens())

	r.NoError(h.manager.EnsureConnection(context.Background(), "tok"))
	tr := h.dialer.last()

	r.NoError(h.manager.Close())
	r.True(tr.isClosed())
	r.ErrorIs(h.manager.EnsureConnection(context.Background(), "other"), ErrManagerClosed)
	r.Equal(1, h.dialer.dials())
}

func TestIsCredentialError(t *testing.T) {
	r := require.New(t)
	r.True(IsCredentialError("jwt expired"))
	r.True(IsCredentialError("Invalid token"))
	r.True(IsCredentialError("Token EXPIRED"))
	r.False(IsCredentialError("Auth timeout"))
	r.False(IsCredentialError(""))
}
