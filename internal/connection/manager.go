package connection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/internal/rooms"
	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// Options configures reconnect backoff.
type Options struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// Listener receives inbound envelopes other than authStatus, in arrival
// order, on the transport's read goroutine.
type Listener func(env types.Envelope)

// State is a snapshot of the connection for status display.
type State struct {
	Connected     bool     `json:"connected"`
	Authenticated bool     `json:"authenticated"`
	Token         string   `json:"-"`
	Rooms         []string `json:"rooms"`
	Exhausted     bool     `json:"exhausted"`
	Attempt       int      `json:"attempt"`
}

// Manager owns the single live transport to the relay. One Manager is
// created by the application root and shared by reference.
type Manager struct {
	dialer    interfaces.Dialer
	tokens    interfaces.TokenStore
	refresher interfaces.AuthRefresher
	notifier  interfaces.Notifier
	logger    logrus.FieldLogger
	rooms     *rooms.Registry

	// mu guards transport (re)creation and every field below it.
	mu             sync.Mutex
	recon          *reconnector
	transport      interfaces.Transport
	token          string
	connected      bool
	authenticated  bool
	exhausted      bool
	generation     uint64
	retryTimer     *time.Timer
	refreshedToken string
	closed         bool

	subMu          sync.RWMutex
	listeners      []Listener
	stateListeners []func(State)
}

// NewManager creates a disconnected manager.
func NewManager(
	dialer interfaces.Dialer,
	tokens interfaces.TokenStore,
	refresher interfaces.AuthRefresher,
	notifier interfaces.Notifier,
	opts Options,
	logger logrus.FieldLogger,
) *Manager {
	m := &Manager{
		dialer:    dialer,
		tokens:    tokens,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger.WithField("component", "connection"),
		recon:     newReconnector(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay, opts.ReconnectMaxAttempts),
	}
	m.rooms = rooms.NewRegistry(m.controlSend, logger)
	return m
}

// Subscribe registers l for inbound lifecycle events.
func (m *Manager) Subscribe(l Listener) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnStateChange registers fn to observe connection status changes.
func (m *Manager) OnStateChange(fn func(State)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.stateListeners = append(m.stateListeners, fn)
}

// EnsureConnection makes token the active credential. It is a no-op when
// a transport (or a pending reconnect) already exists for the same token.
// Otherwise the current transport is torn down and, for a non-empty token,
// a new one is dialled. Dial failures are retried in the background and
// also returned.
func (m *Manager) EnsureConnection(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if token == m.token && (token == "" || m.transport != nil || m.retryTimer != nil || m.exhausted) {
		m.mu.Unlock()
		return nil
	}

	err := m.connectLocked(ctx, token)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publishState(state)
	return err
}

// Reconnect forces a fresh dial with the stored token and restores the
// full retry budget.
func (m *Manager) Reconnect(ctx context.Context) error {
	token, err := m.storedToken(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	err = m.connectLocked(ctx, token)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publishState(state)
	return err
}

// HandleAuthResult applies the relay's handshake acknowledgment to the
// current transport.
func (m *Manager) HandleAuthResult(ctx context.Context, status types.AuthStatus) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	m.handleAuth(ctx, gen, status)
}

// Send forwards an event when connected and authenticated.
func (m *Manager) Send(event string, payload interface{}) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return m.sendEnvelope(env, true)
}

// JoinRoom joins name once per connection.
func (m *Manager) JoinRoom(name string) error {
	return m.rooms.Join(name)
}

// LeaveRoom leaves name.
func (m *Manager) LeaveRoom(name string) error {
	return m.rooms.Leave(name)
}

// JoinForum asks the relay to add this connection to a university forum.
// The forum rooms are tracked once the relay acknowledges with forumJoined.
func (m *Manager) JoinForum(universityID string) error {
	return m.Send(types.EventJoinForum, types.ForumCommand{UniversityID: universityID})
}

// LeaveForum leaves a university forum and the global forum room.
func (m *Manager) LeaveForum(universityID string) error {
	err := m.Send(types.EventLeaveForum, types.ForumCommand{UniversityID: universityID})
	m.rooms.Untrack(rooms.Forum(universityID), rooms.ForumGlobal)
	return err
}

// Rooms exposes the membership registry.
func (m *Manager) Rooms() *rooms.Registry {
	return m.rooms
}

// Token returns the credential the manager is currently using.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// State returns a snapshot of the connection.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Close tears the transport down and stops reconnecting.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.teardownLocked()
	return nil
}

func (m *Manager) connectLocked(ctx context.Context, token string) error {
	m.teardownLocked()
	m.token = token
	m.exhausted = false
	m.recon.reset()

	if token == "" {
		m.logger.Info("no access token, staying disconnected")
		return nil
	}
	return m.dialLocked(ctx)
}

func (m *Manager) teardownLocked() {
	m.generation++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.WithError(err).Debug("closing transport")
		}
		m.transport = nil
	}
	m.connected = false
	m.authenticated = false
	m.rooms.Clear()
}

func (m *Manager) dialLocked(ctx context.Context) error {
	gen := m.generation
	tr, err := m.dialer.Dial(ctx, m.token, m.inbound(gen))
	if err != nil {
		m.logger.WithError(err).Warn("dial failed")
		m.scheduleRetryLocked(gen)
		return err
	}

	m.transport = tr
	m.connected = true
	m.logger.WithField("transport", tr.ID()).Info("connected")

	go m.watch(gen, tr)
	return nil
}

// watch waits for tr to stop and, unless it was replaced on purpose,
// schedules a reconnect.
func (m *Manager) watch(gen uint64, tr interfaces.Transport) {
	<-tr.Done()

	m.mu.Lock()
	if m.closed || gen != m.generation || m.transport != tr {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.connected = false
	m.authenticated = false
	m.rooms.Clear()
	m.logger.WithError(tr.Err()).Warn("transport dropped")
	m.scheduleRetryLocked(gen)
	state := m.stateLocked()
	m.mu.Unlock()

	m.publishState(state)
}

func (m *Manager) scheduleRetryLocked(gen uint64) {
	if !m.recon.shouldReconnect() {
		m.exhausted = true
		m.logger.WithField("attempts", m.recon.attempt).Error("reconnect attempts exhausted, staying disconnected")
		return
	}

	delay := m.recon.nextDelay()
	m.logger.WithFields(logrus.Fields{
		"attempt": m.recon.attempt,
		"delay":   delay,
	}).Info("scheduling reconnect")
	m.retryTimer = time.AfterFunc(delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation || m.transport != nil {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	_ = m.dialLocked(context.Background())
	state := m.stateLocked()
	m.mu.Unlock()

	m.publishState(state)
}

func (m *Manager) inbound(gen uint64) interfaces.InboundHandler {
	return func(env types.Envelope) {
		if !m.isCurrent(gen) {
			return
		}

		switch env.Event {
		case types.EventAuthStatus:
			var status types.AuthStatus
			if err := env.Decode(&status); err != nil {
				m.logger.WithError(err).Warn("malformed authStatus")
				return
			}
			m.handleAuth(context.Background(), gen, status)
			return

		case types.EventForumJoined:
			var ack types.ForumJoined
			if err := env.Decode(&ack); err == nil && ack.UniversityID != "" {
				m.mu.Lock()
				if gen == m.generation && m.connected {
					m.rooms.Track(rooms.Forum(ack.UniversityID), rooms.ForumGlobal)
				}
				m.mu.Unlock()
			}

		case types.EventForumError:
			var payload types.ErrorPayload
			_ = env.Decode(&payload)
			m.logger.WithField("error", payload.Message).Warn("forum join refused")
		}

		m.dispatch(env)
	}
}

func (m *Manager) handleAuth(ctx context.Context, gen uint64, status types.AuthStatus) {
	if status.Success {
		m.mu.Lock()
		if gen != m.generation || !m.connected {
			m.mu.Unlock()
			return
		}
		m.authenticated = true
		m.refreshedToken = ""
		m.recon.reset()
		m.mu.Unlock()

		m.logger.Info("authenticated")
		for _, room := range m.cachedUser(ctx, status.User).DefaultRooms() {
			if err := m.JoinRoom(room); err != nil {
				m.logger.WithError(err).WithField("room", room).Warn("failed to join default room")
			}
		}
		m.publishState(m.State())
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.authenticated = false
	alreadyRefreshed := m.token != "" && m.token == m.refreshedToken
	m.mu.Unlock()

	m.logger.WithField("error", status.Error).Warn("authentication failed")
	if !IsCredentialError(status.Error) {
		return
	}
	if alreadyRefreshed {
		m.expireSession(ctx)
		return
	}
	m.refreshAndReconnect(ctx)
}

// refreshAndReconnect makes the single refresh attempt allowed per
// credential failure.
func (m *Manager) refreshAndReconnect(ctx context.Context) {
	refreshToken, err := m.tokens.Get(ctx, types.KeyRefreshToken)
	if err != nil || refreshToken == "" || m.refresher == nil {
		m.expireSession(ctx)
		return
	}

	result, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil || result == nil || result.Tokens.AccessToken == "" {
		m.logger.WithError(err).Warn("token refresh failed")
		m.expireSession(ctx)
		return
	}

	m.mu.Lock()
	m.refreshedToken = result.Tokens.AccessToken
	m.mu.Unlock()

	if err := m.persistRefresh(ctx, result); err != nil {
		m.logger.WithError(err).Error("failed to persist refreshed tokens")
	}

	m.logger.Info("token refreshed, reconnecting")
	if err := m.EnsureConnection(ctx, result.Tokens.AccessToken); err != nil {
		m.logger.WithError(err).Warn("reconnect after refresh failed")
	}
}

func (m *Manager) persistRefresh(ctx context.Context, result *types.RefreshResult) error {
	if err := m.tokens.Set(ctx, types.KeyAccessToken, result.Tokens.AccessToken); err != nil {
		return err
	}
	if result.Tokens.RefreshToken != "" {
		if err := m.tokens.Set(ctx, types.KeyRefreshToken, result.Tokens.RefreshToken); err != nil {
			return err
		}
	}
	if result.User != nil {
		raw, err := json.Marshal(result.User)
		if err != nil {
			return err
		}
		if err := m.tokens.Set(ctx, types.KeyUser, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

// expireSession logs the user out: the transport is torn down and every
// credential key is cleared.
func (m *Manager) expireSession(ctx context.Context) {
	m.notifier.Notify(SessionExpiredMessage, types.SeverityError)

	m.mu.Lock()
	m.teardownLocked()
	m.token = ""
	m.refreshedToken = ""
	state := m.stateLocked()
	m.mu.Unlock()

	if err := m.tokens.Remove(ctx, types.KeyAccessToken, types.KeyRefreshToken, types.KeyUser); err != nil {
		m.logger.WithError(err).Error("failed to clear credentials")
	}
	m.publishState(state)
}

// cachedUser prefers the locally cached profile and falls back to the one
// carried by authStatus.
func (m *Manager) cachedUser(ctx context.Context, fallback *types.User) *types.User {
	raw, err := m.tokens.Get(ctx, types.KeyUser)
	if err != nil {
		return fallback
	}
	var user types.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.WithError(err).Warn("cached user profile is unreadable")
		return fallback
	}
	return &user
}

func (m *Manager) storedToken(ctx context.Context) (string, error) {
	token, err := m.tokens.Get(ctx, types.KeyAccessToken)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return "", nil
	}
	return token, err
}

// controlSend is the registry's path to the wire. Leaving only needs a
// live transport; everything else also needs authentication.
func (m *Manager) controlSend(env types.Envelope) error {
	return m.sendEnvelope(env, env.Event != types.EventLeaveRoom)
}

func (m *Manager) sendEnvelope(env types.Envelope, requireAuth bool) error {
	m.mu.Lock()
	tr := m.transport
	ready := tr != nil && m.connected && (!requireAuth || m.authenticated)
	m.mu.Unlock()

	if !ready {
		m.logger.WithField("event", env.Event).Warn("not connected or not authenticated, dropping message")
		return ErrNotReady
	}
	return tr.Send(env)
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) dispatch(env types.Envelope) {
	m.subMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.subMu.RUnlock()

	for _, l := range listeners {
		l(env)
	}
}

func (m *Manager) publishState(state State) {
	m.subMu.RLock()
	fns := append([]func(State){}, m.stateListeners...)
	m.subMu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (m *Manager) stateLocked() State {
	return State{
		Connected:     m.connected,
		Authenticated: m.authenticated,
		Token:         m.token,
		Rooms:         m.rooms.Rooms(),
		Exhausted:     m.exhausted,
		Attempt:       m.recon.attempt,
	}
}

// IsCredentialError reports whether an authStatus error means the access
// token is expired or invalid.
func IsCredentialError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "jwt expired") ||
		strings.Contains(lower, "invalid token") ||
		strings.Contains(lower, "expired")
}
