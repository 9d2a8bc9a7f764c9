package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmeterbn/usms/internal/portal"
	"github.com/smartmeterbn/usms/internal/portal/portaltest"
	"github.com/smartmeterbn/usms/internal/transport"
	"github.com/smartmeterbn/usms/usmserr"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(t *testing.T, srv *portaltest.Server, creds Credentials) *Manager {
	t.Helper()
	client, err := transport.New(transport.Options{BaseURL: srv.URL()}, testLogger())
	require.NoError(t, err)
	return NewManager(client, creds, nil, testLogger())
}

func newTestServer() *portaltest.Server {
	return portaltest.NewServer("alice", "secret",
		portaltest.AccountFixture{RegNo: "00123456", Name: "ALICE TEST"},
		portaltest.MeterFixture{
			No:            "00012345678",
			Type:          "ELECTRIC",
			RemainingUnit: 100,
			LastUpdate:    time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		})
}

func TestInitializeLogsIn(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	assert.Equal(t, Authenticated, m.State())
	assert.False(t, m.LastAuth().IsZero())
}

func TestInitializeRejectedCredentials(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "wrong"})
	err := m.Initialize(context.Background())

	assert.True(t, usmserr.IsAuthentication(err), "expected AuthenticationError, got %v", err)
	assert.Equal(t, Uninitialized, m.State())
}

func TestRequestsRequireInitialization(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})

	_, err := m.Get(context.Background(), portal.AccountInfoPath)
	assert.True(t, usmserr.IsNotInitialized(err))

	err = m.EnsureValid(context.Background())
	assert.True(t, usmserr.IsNotInitialized(err))
}

func TestExpiredSessionRecoversOnce(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	srv.ExpireSession()
	srv.ResetHits()

	resp, err := m.Get(context.Background(), portal.AccountInfoPath)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, Authenticated, m.State())

	// One failed attempt, one re-login, one retry.
	assert.Equal(t, 1, srv.Hits("POST", "/ResLogin"))
	assert.Equal(t, 2, srv.Hits("GET", "/AccountInfo"))
}

func TestExpiryWithFailingReauthSurfaces(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	srv.ExpireSession()
	srv.RejectLogin(true)

	_, err := m.Get(context.Background(), portal.AccountInfoPath)
	assert.True(t, usmserr.IsSessionExpired(err), "expected SessionExpiredError, got %v", err)
	assert.Equal(t, Expired, m.State())

	// A later call after the portal recovers succeeds again.
	srv.RejectLogin(false)
	_, err = m.Get(context.Background(), portal.AccountInfoPath)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, m.State())
}

func TestEnsureValidReauthenticatesExpired(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	m.setState(Expired)
	require.NoError(t, m.EnsureValid(context.Background()))
	assert.Equal(t, Authenticated, m.State())
}

func TestCancelledReauthRevertsToExpired(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	m.setState(Expired)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.EnsureValid(ctx)
	assert.True(t, usmserr.IsSessionExpired(err))
	assert.Equal(t, Expired, m.State())
}

func TestIsAuthenticatedProbe(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	assert.False(t, m.IsAuthenticated(context.Background()))

	require.NoError(t, m.Initialize(context.Background()))
	assert.True(t, m.IsAuthenticated(context.Background()))

	srv.ExpireSession()
	assert.False(t, m.IsAuthenticated(context.Background()))
}

func TestLogoutIsTerminal(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Logout(context.Background()))

	assert.Equal(t, LoggedOut, m.State())

	_, err := m.Get(context.Background(), portal.AccountInfoPath)
	assert.True(t, usmserr.IsNotInitialized(err))

	err = m.Initialize(context.Background())
	assert.True(t, usmserr.IsNotInitialized(err))
}

func TestPostEchoesHiddenState(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	m := newTestManager(t, srv, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, m.Initialize(context.Background()))

	// The login pages carried __VIEWSTATE; a later postback must echo it.
	resp, err := m.PostForm(context.Background(), portal.AccountInfoPath, portal.MeterNodeForm("N0_0_0"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
