package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tutorsync/internal/api"
	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// StatusParamActive is passed to the navigator when the session is known
// to be in progress.
const StatusParamActive = "active"

// FetchRequests reloads the pending requests. Without a token it does
// nothing. On failure the current requests are kept.
func (s *Store) FetchRequests(ctx context.Context) error {
	token, ok := s.token(ctx)
	if !ok {
		s.logger.Debug("no token, skipping request fetch")
		return nil
	}

	s.beginLoad()
	defer s.endLoad()

	requests, err := s.api.MyRequests(ctx, token)
	if err != nil {
		s.fail(err, MsgFetchRequestsFail)
		return fmt.Errorf("fetch requests: %w", err)
	}
	s.ReplaceRequests(requests)
	s.logger.WithField("count", len(requests)).Debug("requests loaded")
	return nil
}

// FetchActiveSessions reloads the active sessions. Without a token it does
// nothing. On failure the current sessions are kept.
func (s *Store) FetchActiveSessions(ctx context.Context) error {
	token, ok := s.token(ctx)
	if !ok {
		s.logger.Debug("no token, skipping active session fetch")
		return nil
	}

	s.beginLoad()
	defer s.endLoad()

	sessions, err := s.api.MyActiveSessions(ctx, token)
	if err != nil {
		s.fail(err, MsgFetchSessionsFail)
		return fmt.Errorf("fetch active sessions: %w", err)
	}
	s.ReplaceActiveSessions(sessions)
	s.logger.WithField("count", len(sessions)).Debug("active sessions loaded")
	return nil
}

// FetchAll runs both fetches concurrently.
func (s *Store) FetchAll(ctx context.Context) error {
	var (
		wg         sync.WaitGroup
		reqErr     error
		sessionErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		reqErr = s.FetchRequests(ctx)
	}()
	go func() {
		defer wg.Done()
		sessionErr = s.FetchActiveSessions(ctx)
	}()
	wg.Wait()
	return errors.Join(reqErr, sessionErr)
}

// CreateRequest validates input, posts it and inserts the server's copy
// at the front of the requests unless a pushed event got there first.
// A copy without notes gets them rendered from input.
func (s *Store) CreateRequest(ctx context.Context, input types.CreateRequestInput) (*types.SessionRequest, error) {
	if err := input.Validate(); err != nil {
		s.reject(err, MsgCreateFailed)
		return nil, err
	}

	token, ok := s.token(ctx)
	if !ok {
		s.logger.Debug("no token, skipping request creation")
		return nil, ErrNoToken
	}

	req, err := s.api.CreateRequest(ctx, token, input)
	if err != nil {
		s.reject(err, MsgCreateFailed)
		return nil, err
	}

	if req.Notes == "" {
		req.Notes = types.BuildNotes(input)
	}
	s.AddRequest(*req)
	s.notifier.Notify(MsgRequestCreated, types.SeveritySuccess)
	s.logger.WithField("id", req.ID).Info("request created")
	return req, nil
}

// WithdrawRequest deletes a pending request. The request is only removed
// locally once the server has confirmed.
func (s *Store) WithdrawRequest(ctx context.Context, id string) error {
	token, ok := s.token(ctx)
	if !ok {
		s.logger.Debug("no token, skipping withdrawal")
		return ErrNoToken
	}

	if err := s.api.WithdrawRequest(ctx, token, id); err != nil {
		s.reject(err, MsgWithdrawFailed)
		return err
	}

	s.RemoveRequest(id)
	s.notifier.Notify(MsgRequestWithdrawn, types.SeveritySuccess)
	s.logger.WithField("id", id).Info("request withdrawn")
	return nil
}

// JoinSession confirms and starts the session id as needed, then opens
// the session workspace. Any failed step aborts the rest.
func (s *Store) JoinSession(ctx context.Context, id string) error {
	token, ok := s.token(ctx)
	if !ok {
		s.logger.Debug("no token, skipping join")
		return ErrNoToken
	}

	entry, found := s.Find(id)
	if !found {
		s.notifier.Notify(MsgSessionNotFound, types.SeverityError)
		return ErrSessionNotFound
	}

	if entry.Status == types.StatusPendingConfirmation {
		if _, err := s.api.AcceptSession(ctx, token, id); err != nil {
			s.reject(err, MsgAcceptFailed)
			return fmt.Errorf("accept session: %w", err)
		}
		s.notifier.Notify(MsgSessionAccepted, types.SeveritySuccess)
	}

	var started *types.ActionResult
	if entry.Status.IsMatched() {
		result, err := s.api.StartSessionAsRookie(ctx, token, id)
		if err != nil {
			s.reject(err, MsgStartFailed)
			return fmt.Errorf("start session: %w", err)
		}
		started = result
		s.notifier.Notify(MsgSessionStarted, types.SeveritySuccess)

		if err := s.wait(ctx); err != nil {
			return err
		}
	}

	// The wait may have outlived the session.
	current, found := s.Find(id)
	if !found {
		s.logger.WithField("id", id).Warn("session disappeared before navigation")
		s.notifier.Notify(MsgSessionNotFound, types.SeverityError)
		return ErrSessionGone
	}

	statusParam := ""
	if current.Status == types.StatusInProgress ||
		(started != nil && started.Session != nil && started.Session.Status == types.StatusInProgress) {
		statusParam = StatusParamActive
	}

	if err := s.navigator.OpenSession(id, statusParam); err != nil {
		s.logger.WithError(err).WithField("id", id).Warn("failed to open session")
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.settle <= 0 {
		return nil
	}
	timer := time.NewTimer(s.settle)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) token(ctx context.Context) (string, bool) {
	token, err := s.tokens.Get(ctx, types.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.WithError(err).Warn("failed to read access token")
		}
		return "", false
	}
	return token, token != ""
}

// fail records err as the last error and notifies the user.
func (s *Store) fail(err error, fallback string) {
	msg := userMessage(err, fallback)
	s.setError(msg)
	s.notifier.Notify(msg, types.SeverityError)
	s.logger.WithError(err).Warn(fallback)
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeError})
}

// reject notifies a failed mutation. The error banner is left to fetches.
func (s *Store) reject(err error, fallback string) {
	s.notifier.Notify(userMessage(err, fallback), types.SeverityError)
	s.logger.WithError(err).Warn(fallback)
}

func (s *Store) beginLoad() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
}

func (s *Store) endLoad() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}

// userMessage prefers the server's own text, then validation detail, then
// fallback.
func userMessage(err error, fallback string) string {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	if errors.Is(err, types.ErrInvalidInput) {
		return err.Error()
	}
	return fallback
}
