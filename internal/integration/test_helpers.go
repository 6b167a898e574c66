package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"tutorsync/internal/relay"
	"tutorsync/pkg/types"
)

const testSecret = "integration-secret"

// TestRelay is a relay served over httptest.
type TestRelay struct {
	*relay.Server
	Auth *relay.Authenticator
	URL  string
}

// StartRelay serves a relay until the test ends.
func StartRelay(t *testing.T, logger logrus.FieldLogger) *TestRelay {
	t.Helper()
	auth := relay.NewAuthenticator(testSecret)
	server := relay.NewServer(auth, relay.Options{}, logger)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		_ = server.Stop()
	})

	return &TestRelay{
		Server: server,
		Auth:   auth,
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// Token issues a relay access token for user.
func (tr *TestRelay) Token(t *testing.T, user types.User) string {
	t.Helper()
	token, err := tr.Auth.Issue(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// FakeBackend answers the REST listing endpoints the client loads on
// authentication.
type FakeBackend struct {
	URL string

	mu       sync.Mutex
	requests []types.SessionRequest
	sessions []types.ActiveSession
	auth     []string
}

func StartBackend(t *testing.T) *FakeBackend {
	t.Helper()
	b := &FakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/my-requests", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"requests": b.requests})
	})
	mux.HandleFunc("GET /api/sessions/my-active-sessions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"activeSessions": b.sessions})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	b.URL = srv.URL
	return b
}

func (b *FakeBackend) SetRequests(reqs ...types.SessionRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = reqs
}

// Authorizations returns the Authorization headers seen so far.
func (b *FakeBackend) Authorizations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auth...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
