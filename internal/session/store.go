package session

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// ChangeKind names a store mutation.
type ChangeKind string

const (
	ChangeRequestsLoaded ChangeKind = "requests_loaded"
	ChangeSessionsLoaded ChangeKind = "sessions_loaded"
	ChangeRequestAdded   ChangeKind = "request_added"
	ChangeRequestRemoved ChangeKind = "request_removed"
	ChangeRequestStatus  ChangeKind = "request_status"
	ChangeSessionAdded   ChangeKind = "session_added"
	ChangeSessionRemoved ChangeKind = "session_removed"
	ChangeSessionStatus  ChangeKind = "session_status"
	ChangePromoted       ChangeKind = "promoted"
	ChangeError          ChangeKind = "error"
)

// Change describes one mutation for subscribers.
type Change struct {
	Kind   ChangeKind
	ID     string
	Status types.Status
}

// Entry locates an id in the store.
type Entry struct {
	ID     string
	Status types.Status
	Active bool
}

// Snapshot is a copy of the store's state.
type Snapshot struct {
	Requests       []types.SessionRequest `json:"requests"`
	ActiveSessions []types.ActiveSession  `json:"activeSessions"`
	Loading        bool                   `json:"loading"`
	Error          string                 `json:"error,omitempty"`
}

// Options configures the store's actions.
type Options struct {
	JoinSettleDelay time.Duration
}

// Store is the single source of truth for the signed-in user's pending
// requests and active sessions. An id is never present in both
// collections and a status never moves backwards.
type Store struct {
	api       interfaces.SessionAPI
	tokens    interfaces.TokenStore
	notifier  interfaces.Notifier
	navigator interfaces.Navigator
	settle    time.Duration
	logger    logrus.FieldLogger

	mu        sync.RWMutex
	requests  []types.SessionRequest
	active    []types.ActiveSession
	loading   int
	lastError string

	subMu       sync.RWMutex
	subscribers []func(Change)
}

// NewStore creates an empty store.
func NewStore(
	api interfaces.SessionAPI,
	tokens interfaces.TokenStore,
	notifier interfaces.Notifier,
	navigator interfaces.Navigator,
	opts Options,
	logger logrus.FieldLogger,
) *Store {
	return &Store{
		api:       api,
		tokens:    tokens,
		notifier:  notifier,
		navigator: navigator,
		settle:    opts.JoinSettleDelay,
		logger:    logger.WithField("component", "session_store"),
		requests:  []types.SessionRequest{},
		active:    []types.ActiveSession{},
	}
}

// Subscribe registers fn to observe every mutation. fn runs on the
// mutating goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	subs := append([]func(Change){}, s.subscribers...)
	s.subMu.RUnlock()

	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

// Requests returns a copy of the pending requests, newest first.
func (s *Store) Requests() []types.SessionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.SessionRequest{}, s.requests...)
}

// ActiveSessions returns a copy of the active sessions.
func (s *Store) ActiveSessions() []types.ActiveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ActiveSession{}, s.active...)
}

// Find locates id in either collection.
func (s *Store) Find(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

func (s *Store) findLocked(id string) (Entry, bool) {
	if sess, ok := lo.Find(s.active, func(a types.ActiveSession) bool { return a.ID == id }); ok {
		return Entry{ID: id, Status: sess.Status, Active: true}, true
	}
	if req, ok := lo.Find(s.requests, func(r types.SessionRequest) bool { return r.ID == id }); ok {
		return Entry{ID: id, Status: req.Status}, true
	}
	return Entry{}, false
}

// FindRequest returns the pending request with id.
func (s *Store) FindRequest(id string) (types.SessionRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.requests, func(r types.SessionRequest) bool { return r.ID == id })
}

// FindActive returns the active session with id.
func (s *Store) FindActive(id string) (types.ActiveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.active, func(a types.ActiveSession) bool { return a.ID == id })
}

// Error returns the message of the last failed action, "" after a success.
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// FormattedRequests derives display rows for the pending requests. It is
// recomputed on every call.
func (s *Store) FormattedRequests(now time.Time) []types.FormattedRequest {
	return lo.Map(s.Requests(), func(r types.SessionRequest, _ int) types.FormattedRequest {
		return types.FormatRequest(r, now)
	})
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Requests:       append([]types.SessionRequest{}, s.requests...),
		ActiveSessions: append([]types.ActiveSession{}, s.active...),
		Loading:        s.loading > 0,
		Error:          s.lastError,
	}
}

// ReplaceRequests swaps the request collection wholesale. Ids that are
// already active stay active.
func (s *Store) ReplaceRequests(requests []types.SessionRequest) {
	s.mu.Lock()
	s.requests = lo.Filter(requests, func(r types.SessionRequest, _ int) bool {
		return !s.hasActiveLocked(r.ID)
	})
	s.requests = lo.UniqBy(s.requests, func(r types.SessionRequest) string { return r.ID })
	s.lastError = ""
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeRequestsLoaded})
}

// ReplaceActiveSessions swaps the active collection wholesale and drops
// any pending request the server now reports as active.
func (s *Store) ReplaceActiveSessions(sessions []types.ActiveSession) {
	s.mu.Lock()
	s.active = lo.UniqBy(append([]types.ActiveSession{}, sessions...), func(a types.ActiveSession) string { return a.ID })
	s.requests = lo.Filter(s.requests, func(r types.SessionRequest, _ int) bool {
		return !s.hasActiveLocked(r.ID)
	})
	s.lastError = ""
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSessionsLoaded})
}

// AddRequest inserts req at the front unless its id is already present in
// either collection.
func (s *Store) AddRequest(req types.SessionRequest) bool {
	s.mu.Lock()
	if s.hasRequestLocked(req.ID) || s.hasActiveLocked(req.ID) {
		s.mu.Unlock()
		s.logger.WithField("id", req.ID).Debug("request already present, skipping insert")
		return false
	}
	s.requests = append([]types.SessionRequest{req}, s.requests...)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeRequestAdded, ID: req.ID, Status: req.Status})
	return true
}

// RemoveRequest drops id from the requests.
func (s *Store) RemoveRequest(id string) bool {
	s.mu.Lock()
	removed := s.removeRequestLocked(id)
	s.mu.Unlock()

	if removed {
		s.publish(Change{Kind: ChangeRequestRemoved, ID: id})
	}
	return removed
}

// SetRequestStatus moves a pending request forward to status.
func (s *Store) SetRequestStatus(id string, status types.Status) bool {
	s.mu.Lock()
	changed := s.setRequestStatusLocked(id, status)
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: ChangeRequestStatus, ID: id, Status: status})
	}
	return changed
}

// AddActiveSession inserts or replaces sess and removes its id from the
// requests. A known status is never replaced by an earlier one.
func (s *Store) AddActiveSession(sess types.ActiveSession) bool {
	s.mu.Lock()
	changes := s.addActiveLocked(sess)
	s.mu.Unlock()

	s.publish(changes...)
	return len(changes) > 0
}

// RemoveActiveSession drops id from the active sessions.
func (s *Store) RemoveActiveSession(id string) bool {
	s.mu.Lock()
	removed := s.removeActiveLocked(id)
	s.mu.Unlock()

	if removed {
		s.publish(Change{Kind: ChangeSessionRemoved, ID: id})
	}
	return removed
}

// SetActiveStatus moves an active session forward to status. Terminal
// statuses such as CANCELLED keep the session in place.
func (s *Store) SetActiveStatus(id string, status types.Status) bool {
	s.mu.Lock()
	changed := s.setActiveStatusLocked(id, status)
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: ChangeSessionStatus, ID: id, Status: status})
	}
	return changed
}

// Promote turns the pending request id into an active session with
// status, copying what the request knows. It reports false when no such
// request exists.
func (s *Store) Promote(id string, status types.Status) bool {
	s.mu.Lock()
	req, ok := lo.Find(s.requests, func(r types.SessionRequest) bool { return r.ID == id })
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.removeRequestLocked(id)

	var changes []Change
	if s.hasActiveLocked(id) {
		if s.setActiveStatusLocked(id, status) {
			changes = append(changes, Change{Kind: ChangeSessionStatus, ID: id, Status: status})
		}
	} else {
		s.active = append([]types.ActiveSession{promoted(req, status)}, s.active...)
		changes = append(changes, Change{Kind: ChangePromoted, ID: id, Status: status})
	}
	s.mu.Unlock()

	s.publish(changes...)
	return true
}

func promoted(req types.SessionRequest, status types.Status) types.ActiveSession {
	if !req.Status.Advances(status) {
		status = req.Status
	}
	sess := types.ActiveSession{
		ID:        req.ID,
		Status:    status,
		StartTime: req.CreatedAt,
		Notes:     req.Notes,
		Course:    req.Course,
	}
	if req.StartTime != nil {
		sess.StartTime = *req.StartTime
	}
	if req.Tutor != nil {
		sess.Tutor = *req.Tutor
	}
	return sess
}

// SetStatusAnywhere moves id forward to status in whichever collection
// holds it.
func (s *Store) SetStatusAnywhere(id string, status types.Status) bool {
	s.mu.Lock()
	var change Change
	changed := false
	switch {
	case s.hasActiveLocked(id):
		changed = s.setActiveStatusLocked(id, status)
		change = Change{Kind: ChangeSessionStatus, ID: id, Status: status}
	case s.hasRequestLocked(id):
		changed = s.setRequestStatusLocked(id, status)
		change = Change{Kind: ChangeRequestStatus, ID: id, Status: status}
	}
	s.mu.Unlock()

	if changed {
		s.publish(change)
	}
	return changed
}

// Remove drops id from both collections.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	fromRequests := s.removeRequestLocked(id)
	fromActive := s.removeActiveLocked(id)
	s.mu.Unlock()

	var changes []Change
	if fromRequests {
		changes = append(changes, Change{Kind: ChangeRequestRemoved, ID: id})
	}
	if fromActive {
		changes = append(changes, Change{Kind: ChangeSessionRemoved, ID: id})
	}
	s.publish(changes...)
	return fromRequests || fromActive
}

func (s *Store) hasRequestLocked(id string) bool {
	return lo.ContainsBy(s.requests, func(r types.SessionRequest) bool { return r.ID == id })
}

func (s *Store) hasActiveLocked(id string) bool {
	return lo.ContainsBy(s.active, func(a types.ActiveSession) bool { return a.ID == id })
}

func (s *Store) removeRequestLocked(id string) bool {
	before := len(s.requests)
	s.requests = lo.Reject(s.requests, func(r types.SessionRequest, _ int) bool { return r.ID == id })
	return len(s.requests) != before
}

func (s *Store) removeActiveLocked(id string) bool {
	before := len(s.active)
	s.active = lo.Reject(s.active, func(a types.ActiveSession, _ int) bool { return a.ID == id })
	return len(s.active) != before
}

func (s *Store) setRequestStatusLocked(id string, status types.Status) bool {
	_, i, ok := lo.FindIndexOf(s.requests, func(r types.SessionRequest) bool { return r.ID == id })
	if !ok || s.requests[i].Status == status || !s.requests[i].Status.Advances(status) {
		return false
	}
	s.requests[i].Status = status
	return true
}

func (s *Store) setActiveStatusLocked(id string, status types.Status) bool {
	_, i, ok := lo.FindIndexOf(s.active, func(a types.ActiveSession) bool { return a.ID == id })
	if !ok || s.active[i].Status == status || !s.active[i].Status.Advances(status) {
		return false
	}
	s.active[i].Status = status
	return true
}

func (s *Store) addActiveLocked(sess types.ActiveSession) []Change {
	var changes []Change

	if req, ok := lo.Find(s.requests, func(r types.SessionRequest) bool { return r.ID == sess.ID }); ok {
		if !req.Status.Advances(sess.Status) {
			sess.Status = req.Status
		}
		s.removeRequestLocked(sess.ID)
		changes = append(changes, Change{Kind: ChangeRequestRemoved, ID: sess.ID})
	}

	_, i, ok := lo.FindIndexOf(s.active, func(a types.ActiveSession) bool { return a.ID == sess.ID })
	if !ok {
		s.active = append([]types.ActiveSession{sess}, s.active...)
		return append(changes, Change{Kind: ChangeSessionAdded, ID: sess.ID, Status: sess.Status})
	}

	if !s.active[i].Status.Advances(sess.Status) {
		sess.Status = s.active[i].Status
	}
	if activeEqual(s.active[i], sess) {
		return changes
	}
	s.active[i] = sess
	return append(changes, Change{Kind: ChangeSessionAdded, ID: sess.ID, Status: sess.Status})
}

func activeEqual(a, b types.ActiveSession) bool {
	if a.ID != b.ID || a.Status != b.Status || !a.StartTime.Equal(b.StartTime) || a.Notes != b.Notes || a.Tutor != b.Tutor {
		return false
	}
	if a.Course == nil || b.Course == nil {
		return a.Course == b.Course
	}
	return *a.Course == *b.Course
}
