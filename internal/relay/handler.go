package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tutorsync/internal/rooms"
	"tutorsync/internal/websocket"
	"tutorsync/pkg/types"
)

var upgrader = gorilla.Upgrader{
	// Browser and daemon clients connect from arbitrary origins; the
	// token is the gate.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades relay connections, authenticates them and applies their
// control messages to the registry.
type Handler struct {
	registry *Registry
	auth     *Authenticator
	limiter  *RateLimiter
	opts     Options
	logger   logrus.FieldLogger
}

func NewHandler(registry *Registry, auth *Authenticator, limiter *RateLimiter, opts Options, logger logrus.FieldLogger) *Handler {
	return &Handler{
		registry: registry,
		auth:     auth,
		limiter:  limiter,
		opts:     opts.withDefaults(),
		logger:   logger.WithField("component", "relay_handler"),
	}
}

// handshake settles authentication exactly once, either by a verified
// token or by the auth timeout.
type handshake struct {
	mu      sync.Mutex
	settled bool
}

func (hs *handshake) settle() bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.settled {
		return false
	}
	hs.settled = true
	return true
}

// HandleWebSocket upgrades the request and serves the connection until the
// peer goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := websocket.NewConnection(raw, h.opts.BufferSize)
	h.serve(conn, token)
}

func (h *Handler) serve(conn *websocket.Connection, token string) {
	log := h.logger.WithField("connection", conn.ID())
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		log.Debug("connection closed")
	}()

	if err := conn.StartHeartbeat(h.opts.PingInterval, h.opts.ReadTimeout); err != nil {
		log.WithError(err).Warn("failed to arm heartbeat")
		return
	}

	hs := &handshake{}
	timer := time.AfterFunc(h.opts.AuthTimeout, func() {
		if hs.settle() {
			log.Warn("auth timeout")
			h.reject(conn, ErrAuthTimeout)
		}
	})
	defer timer.Stop()

	if token != "" {
		h.authenticate(conn, hs, token)
	}

	for {
		env, err := conn.ReadEnvelope()
		if errors.Is(err, websocket.ErrInvalidJSON) {
			log.Debug("dropping malformed frame")
			continue
		}
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseNormalClosure) {
				log.WithError(err).Debug("read failed")
			}
			return
		}
		h.dispatch(conn, hs, env)
	}
}

func (h *Handler) authenticate(conn *websocket.Connection, hs *handshake, token string) {
	user, err := h.auth.Verify(token)
	if !hs.settle() {
		return
	}

	log := h.logger.WithField("connection", conn.ID())
	if err == nil {
		err = conn.SetUser(user)
	}
	if err == nil {
		err = h.registry.Register(conn)
	}
	if err != nil {
		log.WithError(err).Warn("authentication failed")
		h.reject(conn, err)
		return
	}

	log.WithField("user", user.ID).Info("authenticated")
	h.reply(conn, types.EventAuthStatus, types.AuthStatus{Success: true, User: user})
}

// reject sends the failed authStatus and closes once it is written.
func (h *Handler) reject(conn *websocket.Connection, cause error) {
	env, err := types.NewEnvelope(types.EventAuthStatus, types.AuthStatus{Error: authFailureMessage(cause)})
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := conn.SendAndClose(env); err != nil {
		_ = conn.Close()
	}
}

func (h *Handler) dispatch(conn *websocket.Connection, hs *handshake, env types.Envelope) {
	if env.Event == types.EventAuthenticate {
		if conn.IsAuthenticated() {
			h.logger.WithField("connection", conn.ID()).Debug("already authenticated, ignoring authenticate")
			return
		}
		h.authenticate(conn, hs, authenticateToken(env))
		return
	}

	user := conn.User()
	if !conn.IsAuthenticated() || user == nil {
		if env.Event == types.EventJoinForum {
			h.reply(conn, types.EventForumError, types.ErrorPayload{Message: MsgNotAuthenticated})
		}
		return
	}

	if !h.limiter.Allow(user.ID) {
		h.reply(conn, types.EventRelayError, types.ErrorPayload{Message: MsgRateLimitExceeded})
		return
	}

	switch env.Event {
	case types.EventJoinRoom, types.EventLeaveRoom:
		h.roomCommand(conn, env)
	case types.EventJoinForum:
		h.joinForum(conn, user, env)
	case types.EventLeaveForum:
		h.leaveForum(conn, env)
	default:
		h.logger.WithField("event", env.Event).Debug("ignoring unsupported event")
	}
}

func (h *Handler) roomCommand(conn *websocket.Connection, env types.Envelope) {
	var cmd types.RoomCommand
	if err := env.Decode(&cmd); err != nil {
		h.logger.WithError(err).WithField("event", env.Event).Debug("malformed room command")
		return
	}
	if !types.IsValidID(cmd.Room) {
		h.logger.WithField("room", cmd.Room).Debug("rejecting invalid room name")
		return
	}

	var err error
	if env.Event == types.EventJoinRoom {
		err = h.registry.Join(conn, cmd.Room)
	} else {
		err = h.registry.Leave(conn, cmd.Room)
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"event": env.Event,
			"room":  cmd.Room,
		}).Debug("room command failed")
	}
}

func (h *Handler) joinForum(conn *websocket.Connection, user *types.User, env types.Envelope) {
	var cmd types.ForumCommand
	if err := env.Decode(&cmd); err != nil || cmd.UniversityID == "" {
		h.reply(conn, types.EventForumError, types.ErrorPayload{Message: MsgForumJoinFailed})
		return
	}

	// Every user may join the default forum; any other forum belongs to
	// the members of that university.
	if cmd.UniversityID != rooms.DefaultForum && cmd.UniversityID != user.UniversityID {
		h.reply(conn, types.EventForumError, types.ErrorPayload{Message: MsgForumUnauthorized})
		return
	}

	for _, room := range []string{rooms.Forum(cmd.UniversityID), rooms.ForumGlobal} {
		if err := h.registry.Join(conn, room); err != nil {
			h.logger.WithError(err).WithField("room", room).Warn("forum join failed")
			h.reply(conn, types.EventForumError, types.ErrorPayload{Message: MsgForumJoinFailed})
			return
		}
	}

	h.reply(conn, types.EventForumJoined, types.ForumJoined{
		UniversityID: cmd.UniversityID,
		Timestamp:    time.Now().UnixMilli(),
	})
}

func (h *Handler) leaveForum(conn *websocket.Connection, env types.Envelope) {
	var cmd types.ForumCommand
	if err := env.Decode(&cmd); err != nil {
		return
	}
	for _, room := range []string{rooms.Forum(cmd.UniversityID), rooms.ForumGlobal} {
		_ = h.registry.Leave(conn, room)
	}
}

func (h *Handler) reply(conn *websocket.Connection, event string, payload interface{}) {
	env, err := types.NewEnvelope(event, payload)
	if err == nil {
		err = conn.Send(env)
	}
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Debug("reply failed")
	}
}

// requestToken reads the bearer header, falling back to the token query
// parameter used by browser clients.
func requestToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// authenticateToken accepts the token as a bare JSON string or as
// {"token": "..."}.
func authenticateToken(env types.Envelope) string {
	var token string
	if err := json.Unmarshal(env.Data, &token); err == nil {
		return token
	}
	var body struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(env.Data, &body)
	return body.Token
}
