// Package client is the browser-side session runtime expressed as a Go SDK:
// a cookie-jar HTTP client for the auth endpoints, a per-tab session store,
// the activity monitor enforcing the auto-logout policies, and the cross-tab
// logout channel. One Client corresponds to one tab.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/juceramics/sessiond/pkg/broadcast"
	"github.com/juceramics/sessiond/pkg/identity"
	"github.com/juceramics/sessiond/pkg/monitor"
	"github.com/juceramics/sessiond/pkg/session"
)

const defaultRequestTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the auth server origin, e.g. "https://admin.juceramics.com".
	BaseURL string

	// Channel is the shared logout channel for tabs of this origin.
	// Optional; without it cross-tab logout is disabled.
	Channel broadcast.Channel

	// Threshold is the inactivity window. Must match the server policy.
	Threshold time.Duration

	// HTTPClient overrides the underlying client. A cookie jar is
	// installed when the override has none.
	HTTPClient *http.Client

	// OnLogout is invoked with the logout reason for user-facing
	// messaging.
	OnLogout func(reason session.Reason)
}

// Client is one tab's session runtime.
type Client struct {
	base    *url.URL
	httpc   *http.Client
	store   *session.Store
	monitor *monitor.Monitor
	stop    func()
}

// New creates a client runtime and starts its monitor. Close must be called
// on teardown.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultRequestTimeout}
	}
	if httpc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpc.Jar = jar
	}

	c := &Client{
		base:  base,
		httpc: httpc,
	}

	c.store = session.NewStore(c.revoke)
	c.monitor = monitor.New(monitor.Config{
		Store:     c.store,
		Channel:   cfg.Channel,
		Threshold: cfg.Threshold,
		OnLogout:  cfg.OnLogout,
	})
	c.stop = c.monitor.Start()

	return c, nil
}

// Store returns the tab's session store.
func (c *Client) Store() *session.Store {
	return c.store
}

// Monitor returns the tab's activity monitor.
func (c *Client) Monitor() *monitor.Monitor {
	return c.monitor
}

// Login authenticates and enters the Active state on success.
func (c *Client) Login(ctx context.Context, email, password string) (*identity.User, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/auth/login"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, identity.ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var result struct {
		Success bool           `json:"success"`
		User    *identity.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	if !result.Success || result.User == nil {
		return nil, fmt.Errorf("login failed: malformed response")
	}

	c.store.HydrateFromServer(result.User, true)
	c.monitor.Login()
	return result.User, nil
}

// Logout signs out explicitly: revokes server-side, clears local state, and
// broadcasts to sibling tabs.
func (c *Client) Logout(ctx context.Context) {
	c.monitor.SignOut(ctx, session.ReasonManual)
}

// Me performs the live session check against the server, applying any cookie
// rotation the server responds with.
func (c *Client) Me(ctx context.Context) (*identity.User, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/auth/me"), nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating session check request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("session check request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("session check failed: status %d", resp.StatusCode)
	}

	var result struct {
		User          *identity.User `json:"user"`
		Authenticated bool           `json:"isAuthenticated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("decoding session check response: %w", err)
	}

	return result.User, result.Authenticated, nil
}

// RequireAuth is the client-side route guard: it reports whether navigation
// to a protected page may proceed. The local store is trusted optimistically;
// otherwise a live server check decides. Any failure of the live check is
// treated as unauthenticated (fail closed).
func (c *Client) RequireAuth(ctx context.Context) bool {
	c.monitor.RouteChanged(ctx)

	if c.store.Current().Authenticated {
		return true
	}

	user, authenticated, err := c.Me(ctx)
	if err != nil || !authenticated {
		c.store.HydrateFromServer(nil, false)
		return false
	}

	c.store.HydrateFromServer(user, true)
	c.monitor.Login()
	return true
}

// Close tears the tab down: best-effort logout broadcast, timer cancellation,
// and channel unsubscription.
func (c *Client) Close(ctx context.Context) {
	c.monitor.TabClosed(ctx)
	if c.stop != nil {
		c.stop()
	}
}

// revoke is the store's revoke callback: the provider-level sign-out goes
// through the server's logout endpoint, which owns cookie clearing and the
// broadcast record.
func (c *Client) revoke(ctx context.Context, _ session.Reason) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/auth/logout"), nil)
	if err != nil {
		return fmt.Errorf("creating logout request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = path
	return u.String()
}
