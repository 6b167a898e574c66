package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// Client talks to the REST collaborator that owns requests, sessions and
// credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

var (
	_ interfaces.SessionAPI    = (*Client)(nil)
	_ interfaces.AuthRefresher = (*Client)(nil)
)

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.WithField("component", "api"),
	}
}

type requestsResponse struct {
	Requests []types.SessionRequest `json:"requests"`
}

type activeSessionsResponse struct {
	ActiveSessions []types.ActiveSession `json:"activeSessions"`
}

type createResponse struct {
	Request *types.SessionRequest `json:"request"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MyRequests lists the caller's pending requests.
func (c *Client) MyRequests(ctx context.Context, token string) ([]types.SessionRequest, error) {
	var out requestsResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions/my-requests", token, nil, &out, "Failed to fetch requests"); err != nil {
		return nil, err
	}
	if out.Requests == nil {
		out.Requests = []types.SessionRequest{}
	}
	return out.Requests, nil
}

// MyActiveSessions lists the caller's matched sessions.
func (c *Client) MyActiveSessions(ctx context.Context, token string) ([]types.ActiveSession, error) {
	var out activeSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions/my-active-sessions", token, nil, &out, "Failed to fetch active sessions"); err != nil {
		return nil, err
	}
	if out.ActiveSessions == nil {
		out.ActiveSessions = []types.ActiveSession{}
	}
	return out.ActiveSessions, nil
}

// CreateRequest posts a new help request and returns the server's copy.
func (c *Client) CreateRequest(ctx context.Context, token string, input types.CreateRequestInput) (*types.SessionRequest, error) {
	var out createResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions/requests", token, input, &out, "Failed to create request"); err != nil {
		return nil, err
	}
	if out.Request == nil || out.Request.ID == "" {
		return nil, ErrEmptyResponse
	}
	return out.Request, nil
}

// WithdrawRequest deletes a pending request.
func (c *Client) WithdrawRequest(ctx context.Context, token, requestID string) error {
	p, err := resourcePath("/api/sessions/requests/", requestID, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, token, nil, nil, "Failed to withdraw request")
}

// AcceptSession confirms a session the tutor has accepted.
func (c *Client) AcceptSession(ctx context.Context, token, sessionID string) (*types.ActionResult, error) {
	p, err := resourcePath("/api/sessions/", sessionID, "/accept")
	if err != nil {
		return nil, err
	}
	var out types.ActionResult
	if err := c.do(ctx, http.MethodPost, p, token, nil, &out, "Failed to accept session"); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSessionAsRookie starts a confirmed session from the rookie's side.
func (c *Client) StartSessionAsRookie(ctx context.Context, token, sessionID string) (*types.ActionResult, error) {
	p, err := resourcePath("/api/sessions/", sessionID, "/start-as-rookie")
	if err != nil {
		return nil, err
	}
	var out types.ActionResult
	if err := c.do(ctx, http.MethodPost, p, token, nil, &out, "Failed to start session"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new credential pair. It is the
// only call made without an access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*types.RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrMissingToken
	}
	var out types.RefreshResult
	if err := c.send(ctx, http.MethodPost, "/api/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &out, "Failed to refresh token"); err != nil {
		return nil, err
	}
	if out.Tokens.AccessToken == "" {
		return nil, ErrEmptyResponse
	}
	return &out, nil
}

// resourcePath embeds id between prefix and suffix, refusing ids that are
// not plain server identifiers.
func resourcePath(prefix, id, suffix string) (string, error) {
	if !types.IsValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return prefix + url.PathEscape(id) + suffix, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}, fallback string) error {
	if token == "" {
		return ErrMissingToken
	}
	return c.send(ctx, method, path, token, body, out, fallback)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out interface{}, fallback string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, Message: errorMessage(respBody, fallback)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage prefers the body's "error" field, then "message", then the
// raw text, then fallback.
func errorMessage(body []byte, fallback string) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
		return fallback
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fallback
}
