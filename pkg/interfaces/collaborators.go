package interfaces

import (
	"context"
	"tutorsync/pkg/types"
)

// SessionAPI is the REST collaborator owning request and session records.
// Every call carries the caller's bearer token.
type SessionAPI interface {
	MyRequests(ctx context.Context, token string) ([]types.SessionRequest, error)
	MyActiveSessions(ctx context.Context, token string) ([]types.ActiveSession, error)
	CreateRequest(ctx context.Context, token string, input types.CreateRequestInput) (*types.SessionRequest, error)
	WithdrawRequest(ctx context.Context, token, requestID string) error
	AcceptSession(ctx context.Context, token, sessionID string) (*types.ActionResult, error)
	StartSessionAsRookie(ctx context.Context, token, sessionID string) (*types.ActionResult, error)
}

// AuthRefresher exchanges a refresh token for a new credential pair.
type AuthRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*types.RefreshResult, error)
}

// Toaster displays a notification to the user.
type Toaster interface {
	Toast(message string, severity types.Severity) error
}

// Notifier accepts fire-and-forget notifications. It never blocks.
type Notifier interface {
	Notify(message string, severity types.Severity)
}

// Navigator opens the session workspace. statusParam is "active" when the
// session is known to be in progress, else empty.
type Navigator interface {
	OpenSession(sessionID, statusParam string) error
}
