package client

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juceramics/sessiond/pkg/activity"
	"github.com/juceramics/sessiond/pkg/api"
	"github.com/juceramics/sessiond/pkg/broadcast"
	"github.com/juceramics/sessiond/pkg/cookies"
	"github.com/juceramics/sessiond/pkg/hydrate"
	"github.com/juceramics/sessiond/pkg/identity"
	"github.com/juceramics/sessiond/pkg/identity/local"
	"github.com/juceramics/sessiond/pkg/monitor"
	"github.com/juceramics/sessiond/pkg/session"
	"github.com/juceramics/sessiond/pkg/validator"
)

const (
	clientTestThreshold = 30 * time.Minute
	clientTestEmail     = "anna@juceramics.com"
	clientTestPassword  = "correct horse battery staple"
)

type testBackend struct {
	server      *httptest.Server
	hub         *broadcast.Hub
	logoutCalls atomic.Int64
}

// newTestBackend assembles a real auth API behind httptest.
func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	hash, err := local.HashPassword(clientTestPassword)
	require.NoError(t, err)

	provider, err := local.New(local.Config{
		Issuer:     "sessiond-test",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:  time.Hour,
		Users: []local.UserRecord{{
			ID:           "user-1",
			Email:        clientTestEmail,
			PasswordHash: hash,
		}},
	})
	require.NoError(t, err)

	recorder := activity.NewMemoryRecorder(7 * 24 * time.Hour)
	transport := cookies.New(false)
	hydrator := hydrate.New(hydrate.Config{
		Validator: validator.New(provider),
		Cookies:   transport,
		Recorder:  recorder,
		Threshold: clientTestThreshold,
	})

	b := &testBackend{hub: broadcast.NewHub()}

	authAPI := api.NewHandler(api.Config{
		Provider: provider,
		Cookies:  transport,
		Recorder: recorder,
		Hydrator: hydrator,
	})

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/logout" {
			b.logoutCalls.Add(1)
		}
		authAPI.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		b.server.Close()
		_ = recorder.Close()
		_ = b.hub.Close()
	})
	return b
}

// newTab creates a client sharing the backend's hub and, when jar is non-nil,
// the given cookie jar, matching how sibling tabs share one browser profile.
func newTab(t *testing.T, b *testBackend, jar http.CookieJar, reasons *[]session.Reason) *Client {
	t.Helper()

	var httpc *http.Client
	if jar != nil {
		httpc = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	}

	c, err := New(Config{
		BaseURL:    b.server.URL,
		Channel:    b.hub,
		Threshold:  clientTestThreshold,
		HTTPClient: httpc,
		OnLogout: func(r session.Reason) {
			if reasons != nil {
				*reasons = append(*reasons, r)
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.stop() })
	return c
}

func TestClient_LoginSuccess(t *testing.T) {
	b := newTestBackend(t)
	c := newTab(t, b, nil, nil)

	user, err := c.Login(context.Background(), clientTestEmail, clientTestPassword)

	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.True(t, c.Store().Current().Authenticated)
	assert.Equal(t, monitor.Active, c.Monitor().State())
}

func TestClient_LoginBadCredentials(t *testing.T) {
	b := newTestBackend(t)
	c := newTab(t, b, nil, nil)

	_, err := c.Login(context.Background(), clientTestEmail, "wrong")

	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.False(t, c.Store().Current().Authenticated)
}

func TestClient_MeRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	c := newTab(t, b, nil, nil)

	_, authenticated, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.False(t, authenticated)

	_, err = c.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)

	user, authenticated, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.True(t, authenticated)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
}

func TestClient_LogoutRevokesServerSession(t *testing.T) {
	b := newTestBackend(t)
	var reasons []session.Reason
	c := newTab(t, b, nil, &reasons)

	_, err := c.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)

	c.Logout(context.Background())

	assert.Equal(t, monitor.LoggedOut, c.Monitor().State())
	assert.False(t, c.Store().Current().Authenticated)
	assert.Equal(t, int64(1), b.logoutCalls.Load())
	require.Len(t, reasons, 1)
	assert.Equal(t, session.ReasonManual, reasons[0])

	// The server cleared the cookies, so a live check is anonymous.
	_, authenticated, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.False(t, authenticated)
}

func TestClient_RequireAuth(t *testing.T) {
	b := newTestBackend(t)
	c := newTab(t, b, nil, nil)

	assert.False(t, c.RequireAuth(context.Background()), "anonymous navigation is blocked")

	_, err := c.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)

	assert.True(t, c.RequireAuth(context.Background()))
}

func TestClient_RequireAuthRecoversFromCookies(t *testing.T) {
	b := newTestBackend(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	first := newTab(t, b, jar, nil)
	_, err = first.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)

	// A fresh tab in the same browser has cookies but no local state; the
	// live check hydrates it.
	second := newTab(t, b, jar, nil)
	assert.False(t, second.Store().Current().Authenticated)

	assert.True(t, second.RequireAuth(context.Background()))
	assert.True(t, second.Store().Current().Authenticated)
	assert.Equal(t, monitor.Active, second.Monitor().State())
}

func TestClient_CrossTabLogout(t *testing.T) {
	b := newTestBackend(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	var reasonsA, reasonsB []session.Reason
	tabA := newTab(t, b, jar, &reasonsA)
	tabB := newTab(t, b, jar, &reasonsB)

	_, err = tabA.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)
	require.True(t, tabB.RequireAuth(context.Background()))

	tabA.Logout(context.Background())

	assert.Equal(t, monitor.LoggedOut, tabA.Monitor().State())
	assert.Equal(t, monitor.LoggedOut, tabB.Monitor().State())
	assert.False(t, tabB.Store().Current().Authenticated)

	assert.Equal(t, int64(1), b.logoutCalls.Load(),
		"the receiving tab must not issue its own logout call")

	require.Len(t, reasonsB, 1)
	assert.Equal(t, session.ReasonBroadcast, reasonsB[0])
}

func TestClient_CloseBroadcasts(t *testing.T) {
	b := newTestBackend(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	tabA := newTab(t, b, jar, nil)
	tabB := newTab(t, b, jar, nil)

	_, err = tabA.Login(context.Background(), clientTestEmail, clientTestPassword)
	require.NoError(t, err)
	require.True(t, tabB.RequireAuth(context.Background()))

	tabA.Close(context.Background())

	assert.Equal(t, monitor.LoggedOut, tabB.Monitor().State())
}

func TestClient_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "://bad"})
	assert.Error(t, err)
}
