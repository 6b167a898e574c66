package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/types"
)

const maxIngestBody = 1 << 20

var validate = validator.New()

// IngestRequest is one event published by the backend. Rooms or UserID
// address it directly; otherwise the event name selects the audience.
type IngestRequest struct {
	Event  string          `json:"event" validate:"required"`
	Data   json.RawMessage `json:"data"`
	Rooms  []string        `json:"rooms,omitempty" validate:"omitempty,dive,required"`
	UserID string          `json:"userId,omitempty"`
}

type IngestResponse struct {
	Status string `json:"status"`
	Event  string `json:"event"`
}

// handleEvents accepts POST /events from holders of a service token.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.auth.Verify(bearerToken(r))
	if err != nil {
		s.sendError(w, authFailureMessage(err), http.StatusUnauthorized)
		return
	}
	if user.Role != ServiceRole {
		s.sendError(w, ErrServiceTokenRequired.Error(), http.StatusForbidden)
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Publish(req); err != nil {
		log := s.logger.WithError(err).WithFields(logrus.Fields{"event": req.Event, "publisher": user.ID})
		switch {
		case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrInvalidPayload):
			log.Debug("rejected published event")
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrBroadcastQueueFull), errors.Is(err, ErrBroadcasterNotRunning):
			log.Warn("could not queue published event")
			s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			log.Error("failed to publish event")
			s.sendError(w, "Failed to publish event", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(IngestResponse{Status: "queued", Event: req.Event})
}

// Publish routes req to its explicit targets or to the audience of its
// event.
func (s *Server) Publish(req IngestRequest) error {
	env := types.Envelope{Event: req.Event, Data: req.Data}
	if len(req.Rooms) > 0 {
		return s.broadcaster.ToRooms(env, req.Rooms...)
	}
	if req.UserID != "" {
		return s.broadcaster.ToUser(req.UserID, env)
	}

	switch req.Event {
	case types.EventNewSessionRequest:
		var p types.SessionRequest
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.ID); err != nil {
			return err
		}
		return s.NotifyNewSessionRequest(p)

	case types.EventSessionRequestAccepted:
		var p types.RequestAccepted
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.Target()); err != nil {
			return err
		}
		return s.NotifySessionRequestAccepted(p.Target())

	case types.EventSessionRequestRejected:
		var p types.RequestRejected
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.Target()); err != nil {
			return err
		}
		return s.NotifySessionRequestRejected(p.Target())

	case types.EventSessionStarted:
		var p types.SessionStarted
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.SessionID); err != nil {
			return err
		}
		return s.NotifySessionStarted(p.SessionID, p.Session)

	case types.EventSessionStatusChanged:
		var p types.StatusChanged
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.SessionID); err != nil {
			return err
		}
		if p.Status.Rank() < 0 {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, p.Status)
		}
		return s.NotifySessionStatusChanged(p.SessionID, p.Status, p.Session)

	case types.EventGracePeriodExpired:
		var p types.GracePeriodExpired
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.SessionID); err != nil {
			return err
		}
		return s.NotifyGracePeriodExpired(p.SessionID, p.Session)

	case types.EventNewForumPost:
		var p struct {
			UniversityID string `json:"universityId"`
		}
		if err := decodeIngest(env, &p); err != nil {
			return err
		}
		if err := requireID(p.UniversityID); err != nil {
			return err
		}
		return s.NotifyNewForumPost(p.UniversityID, req.Data)
	}

	return fmt.Errorf("%w: %q", ErrUnknownEvent, req.Event)
}

func decodeIngest(env types.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func requireID(id string) error {
	if !types.IsValidID(id) {
		return fmt.Errorf("%w: invalid id %q", ErrInvalidPayload, id)
	}
	return nil
}
