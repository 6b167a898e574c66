package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"tutorsync/internal/app"
	"tutorsync/internal/config"
	"tutorsync/internal/logging"
	"tutorsync/internal/reconcile"
	"tutorsync/pkg/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var rookie = types.User{
	ID:           "u1",
	Username:     "ada",
	FirstName:    "Ada",
	LastName:     "Lovelace",
	Role:         types.RoleRookie,
	UniversityID: "uni-1",
}

func startClient(t *testing.T, tr *TestRelay, backend *FakeBackend, logger logrus.FieldLogger) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Client.RelayURL = tr.URL
	cfg.Client.APIBaseURL = backend.URL
	cfg.Client.TokenPollInterval = 20 * time.Millisecond
	cfg.Client.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.Client.ReconnectMaxDelay = 100 * time.Millisecond
	cfg.Client.JoinSettleDelay = 0
	cfg.Storage.Path = filepath.Join(t.TempDir(), "client.db")

	application, err := app.NewApplication(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop() })
	return application
}

func toasts(hook *logtest.Hook) []string {
	var out []string
	for _, entry := range hook.AllEntries() {
		if entry.Data["component"] == "toast" {
			out = append(out, entry.Message)
		}
	}
	return out
}

func TestClientRelay_SessionLifecycle(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	logger, hook := logtest.NewNullLogger()
	tr := StartRelay(t, logging.Discard())
	backend := StartBackend(t)
	backend.SetRequests(types.SessionRequest{
		ID:        "r1",
		Status:    types.StatusRequested,
		CreatedAt: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
		Notes:     "Subject: Physics | Topic: Optics",
		Tutor:     &types.TutorRef{ID: "t1", FirstName: "Sam"},
	})
	client := startClient(t, tr, backend, logger)

	token := tr.Token(t, rookie)
	user := rookie
	r.NoError(client.SignIn(ctx, types.Tokens{AccessToken: token, RefreshToken: "refresh"}, &user))

	// Authenticated, joined the role room and loaded the backlog.
	r.Eventually(func() bool {
		return client.Manager().State().Authenticated &&
			len(tr.Registry().Members(types.RoomRookies)) == 1 &&
			len(client.Sessions().Requests()) == 1
	}, waitFor, tick)
	r.Contains(backend.Authorizations(), "Bearer "+token)

	r.NoError(tr.NotifySessionRequestAccepted("r1"))
	r.Eventually(func() bool {
		req, ok := client.Sessions().FindRequest("r1")
		return ok && req.Status == types.StatusPendingConfirmation
	}, waitFor, tick)

	r.NoError(tr.NotifySessionStatusChanged("r1", types.StatusAccepted, nil))
	r.Eventually(func() bool {
		_, ok := client.Sessions().FindActive("r1")
		return ok && len(client.Sessions().Requests()) == 0
	}, waitFor, tick)

	r.NoError(tr.NotifyGracePeriodExpired("r1", nil))
	r.Eventually(func() bool {
		sess, ok := client.Sessions().FindActive("r1")
		return ok && sess.Status == types.StatusCancelled
	}, waitFor, tick)

	r.Eventually(func() bool { return len(toasts(hook)) == 3 }, waitFor, tick)
	r.Equal([]string{
		reconcile.MsgRequestAccepted,
		reconcile.MsgSessionJoinable,
		reconcile.MsgGracePeriodEnded,
	}, toasts(hook))
}

func TestClientRelay_SignOutDisconnects(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	tr := StartRelay(t, logging.Discard())
	client := startClient(t, tr, StartBackend(t), logging.Discard())

	user := rookie
	r.NoError(client.SignIn(ctx, types.Tokens{AccessToken: tr.Token(t, rookie)}, &user))
	r.Eventually(func() bool {
		return client.Manager().State().Authenticated && tr.Registry().Stats()["total_connections"] == 1
	}, waitFor, tick)

	r.NoError(client.SignOut(ctx))
	r.Eventually(func() bool {
		state := client.Manager().State()
		return !state.Connected && tr.Registry().Stats()["total_connections"] == 0
	}, waitFor, tick)
}

func TestClientRelay_ForumJoin(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	tr := StartRelay(t, logging.Discard())
	client := startClient(t, tr, StartBackend(t), logging.Discard())

	user := rookie
	r.NoError(client.SignIn(ctx, types.Tokens{AccessToken: tr.Token(t, rookie)}, &user))
	r.Eventually(func() bool { return client.Manager().State().Authenticated }, waitFor, tick)

	r.NoError(client.Manager().JoinForum("uni-1"))
	r.Eventually(func() bool {
		return len(tr.Registry().Members("forum-uni-1")) == 1 &&
			client.Manager().Rooms().Has("forum-global")
	}, waitFor, tick)
}
