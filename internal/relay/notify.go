package relay

import (
	"time"

	"tutorsync/internal/rooms"
	"tutorsync/pkg/types"
)

// SendToRoom pushes event to every connection in room.
func (s *Server) SendToRoom(room, event string, payload interface{}) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return s.broadcaster.ToRooms(env, room)
}

// SendToUser pushes event to every connection of userID.
func (s *Server) SendToUser(userID, event string, payload interface{}) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return s.broadcaster.ToUser(userID, env)
}

func (s *Server) toRooms(event string, payload interface{}, names ...string) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return s.broadcaster.ToRooms(env, names...)
}

// NotifyNewSessionRequest announces a created request to both roles.
func (s *Server) NotifyNewSessionRequest(req types.SessionRequest) error {
	return s.toRooms(types.EventNewSessionRequest, req, rooms.Tutos, rooms.Rookies)
}

func (s *Server) NotifySessionRequestAccepted(requestID string) error {
	return s.toRooms(types.EventSessionRequestAccepted, types.RequestAccepted{RequestID: requestID}, rooms.Tutos, rooms.Rookies)
}

func (s *Server) NotifySessionRequestRejected(requestID string) error {
	return s.toRooms(types.EventSessionRequestRejected, types.RequestRejected{RequestID: requestID}, rooms.Tutos, rooms.Rookies)
}

// NotifySessionStarted reaches the session's room and both role rooms.
func (s *Server) NotifySessionStarted(sessionID string, session *types.ActiveSession) error {
	return s.toRooms(types.EventSessionStarted, types.SessionStarted{
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now(),
	}, sessionAudience(sessionID)...)
}

func (s *Server) NotifySessionStatusChanged(sessionID string, status types.Status, session *types.ActiveSession) error {
	return s.toRooms(types.EventSessionStatusChanged, types.StatusChanged{
		SessionID: sessionID,
		Status:    status,
		Session:   session,
		Timestamp: time.Now(),
	}, sessionAudience(sessionID)...)
}

func (s *Server) NotifyGracePeriodExpired(sessionID string, session *types.ActiveSession) error {
	return s.toRooms(types.EventGracePeriodExpired, types.GracePeriodExpired{
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now(),
	}, sessionAudience(sessionID)...)
}

// NotifyNewForumPost reaches the university's forum and the global forum.
// Posts of a real university also reach the default forum.
func (s *Server) NotifyNewForumPost(universityID string, post interface{}) error {
	targets := []string{rooms.Forum(universityID), rooms.ForumGlobal}
	if universityID != rooms.DefaultForum {
		targets = append(targets, rooms.Forum(rooms.DefaultForum))
	}
	return s.toRooms(types.EventNewForumPost, post, targets...)
}

func sessionAudience(sessionID string) []string {
	return []string{rooms.Session(sessionID), rooms.Tutos, rooms.Rookies}
}
