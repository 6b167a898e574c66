package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Inbound lifecycle events pushed by the relay.
const (
	EventAuthStatus             = "authStatus"
	EventSessionRequestAccepted = "sessionRequestAccepted"
	EventSessionStarted         = "sessionStarted"
	EventSessionStatusChanged   = "sessionStatusChanged"
	EventSessionRequestRejected = "sessionRequestRejected"
	EventGracePeriodExpired     = "gracePeriodExpired"
	EventNewSessionRequest      = "newSessionRequest"
	EventForumJoined            = "forumJoined"
	EventForumError             = "forumError"
	EventNewForumPost           = "newForumPost"
	EventRelayError             = "error"
)

// Outbound control messages sent by clients.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventJoinForum    = "joinForum"
	EventLeaveForum   = "leaveForum"
)

// Status is the lifecycle state shared by requests and active sessions.
type Status string

const (
	StatusRequested                  Status = "REQUESTED"
	StatusAccepted                   Status = "ACCEPTED"
	StatusPendingConfirmation        Status = "PENDING_CONFIRMATION"
	StatusInProgress                 Status = "IN_PROGRESS"
	StatusCompleted                  Status = "COMPLETED"
	StatusCancelled                  Status = "CANCELLED"
	StatusExpiredPendingReassignment Status = "EXPIRED_PENDING_REASSIGNMENT"
)

// Rank orders statuses along the forward lifecycle path. Statuses sharing a
// rank may replace each other; a lower rank never replaces a higher one.
// Unknown statuses rank -1 and are never applied over a known status.
func (s Status) Rank() int {
	switch s {
	case StatusRequested:
		return 0
	case StatusAccepted, StatusPendingConfirmation:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusCancelled, StatusExpiredPendingReassignment:
		return 3
	default:
		return -1
	}
}

// Advances reports whether moving from s to next keeps the lifecycle forward.
func (s Status) Advances(next Status) bool {
	if next.Rank() < 0 {
		return false
	}
	return next.Rank() >= s.Rank()
}

// IsMatched reports whether a tutor has been attached to the request.
func (s Status) IsMatched() bool {
	return s == StatusAccepted || s == StatusPendingConfirmation
}

// TutorRef identifies the tutor matched to a request or session.
type TutorRef struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
}

// CourseRef identifies the course a request is about.
type CourseRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
	Department string `json:"department"`
}

// SessionRequest is a rookie's outstanding request for help.
// Only Status and Tutor change after creation.
type SessionRequest struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	StartTime *time.Time `json:"startTime,omitempty"`
	Notes     string     `json:"notes"`
	Tutor     *TutorRef  `json:"tuto,omitempty"`
	Course    *CourseRef `json:"course,omitempty"`
}

// ActiveSession is a request that has been matched to a tutor. It shares
// its ID with the request it was promoted from.
type ActiveSession struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	Notes     string     `json:"notes"`
	Tutor     TutorRef   `json:"tuto"`
	Course    *CourseRef `json:"course,omitempty"`
}

// Role is the platform role carried in the cached user profile.
type Role string

const (
	RoleTuto   Role = "TUTO"
	RoleRookie Role = "ROOKIE"
	RoleBoth   Role = "BOTH"
)

// Default rooms joined after a successful handshake.
const (
	RoomTutos   = "tutos"
	RoomRookies = "rookies"
)

// User is the locally cached profile of the signed-in user.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Role         Role   `json:"role"`
	UniversityID string `json:"universityId,omitempty"`
}

// DefaultRooms returns the role rooms a connection joins once authenticated.
func (u *User) DefaultRooms() []string {
	if u == nil {
		return nil
	}
	switch Role(strings.ToUpper(string(u.Role))) {
	case RoleTuto:
		return []string{RoomTutos}
	case RoleRookie:
		return []string{RoomRookies}
	case RoleBoth:
		return []string{RoomTutos, RoomRookies}
	default:
		return nil
	}
}

// Envelope is the frame exchanged over the real-time connection in both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Data, v)
}

// AuthStatus is the server's handshake acknowledgment.
type AuthStatus struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestAccepted is the payload of sessionRequestAccepted. Older servers
// send the id as "id".
type RequestAccepted struct {
	RequestID string `json:"requestId"`
	ID        string `json:"id,omitempty"`
}

// Target returns the referenced request id.
func (p RequestAccepted) Target() string {
	if p.RequestID != "" {
		return p.RequestID
	}
	return p.ID
}

// RequestRejected is the payload of sessionRequestRejected.
type RequestRejected struct {
	RequestID string `json:"requestId"`
	ID        string `json:"id,omitempty"`
}

// Target returns the referenced request id.
func (p RequestRejected) Target() string {
	if p.RequestID != "" {
		return p.RequestID
	}
	return p.ID
}

// SessionStarted is the payload of sessionStarted.
type SessionStarted struct {
	SessionID string         `json:"sessionId"`
	Session   *ActiveSession `json:"session,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// StatusChanged is the payload of sessionStatusChanged. Session is present
// when the server includes the full entity.
type StatusChanged struct {
	SessionID string         `json:"sessionId"`
	Status    Status         `json:"status"`
	Session   *ActiveSession `json:"session,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// GracePeriodExpired is the payload of gracePeriodExpired.
type GracePeriodExpired struct {
	SessionID string         `json:"sessionId"`
	Session   *ActiveSession `json:"session,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// RoomCommand is the payload of joinRoom and leaveRoom.
type RoomCommand struct {
	Room string `json:"room"`
}

// ForumCommand is the payload of joinForum and leaveForum.
type ForumCommand struct {
	UniversityID string `json:"universityId"`
}

// ForumJoined acknowledges a joinForum command.
type ForumJoined struct {
	UniversityID string `json:"universityId"`
	Timestamp    int64  `json:"timestamp"`
}

// ErrorPayload is the body of relay-side error events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CreateRequestInput is the body of a request-creation call.
type CreateRequestInput struct {
	Subject     string `json:"subject" validate:"required,max=200"`
	Topic       string `json:"topic" validate:"max=200"`
	Description string `json:"description" validate:"max=2000"`
	Urgency     string `json:"urgency" validate:"omitempty,oneof=low medium high"`
	CourseID    string `json:"courseId,omitempty"`
}

// Tokens is the credential pair issued by the auth collaborator.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshResult is the body returned by the token refresh endpoint.
type RefreshResult struct {
	Tokens Tokens `json:"tokens"`
	User   *User  `json:"user,omitempty"`
}

// Well-known keys of the local client state store.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Severity classifies a user-facing notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// ActionResult is the body returned by session accept and start calls.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Session *ActiveSession `json:"session,omitempty"`
}
