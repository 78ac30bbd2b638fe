// Package cookies implements the HTTP cookie transport for session tokens.
// Cookie names and attributes are part of the wire contract with existing
// browser sessions and must not change.
package cookies

import (
	"net/http"
	"time"

	"github.com/juceramics/sessiond/pkg/identity"
)

// Cookie names fixed by the wire contract.
const (
	AccessTokenCookie  = "ju_access_token"
	RefreshTokenCookie = "ju_refresh_token"
	SessionIDCookie    = "ju_session_id"
)

// MaxAge is the cookie lifetime.
const MaxAge = 7 * 24 * time.Hour

// Transport writes and clears session cookies with the contract attributes.
type Transport struct {
	// Secure sets the Secure attribute; disabled for local development.
	Secure bool
}

// New creates a cookie transport.
func New(secure bool) *Transport {
	return &Transport{Secure: secure}
}

// ReadTokens extracts the token pair from the request cookie jar. Missing
// cookies yield empty strings.
func (*Transport) ReadTokens(r *http.Request) identity.TokenPair {
	return identity.TokenPair{
		AccessToken:  cookieValue(r, AccessTokenCookie),
		RefreshToken: cookieValue(r, RefreshTokenCookie),
	}
}

// ReadSessionID extracts the session ID cookie, or empty if absent.
func (*Transport) ReadSessionID(r *http.Request) string {
	return cookieValue(r, SessionIDCookie)
}

// WriteTokens sets the access and refresh token cookies. Empty values are
// skipped so callers can rewrite only the tokens that changed.
func (t *Transport) WriteTokens(w http.ResponseWriter, tokens identity.TokenPair) {
	if tokens.AccessToken != "" {
		http.SetCookie(w, t.newCookie(AccessTokenCookie, tokens.AccessToken))
	}
	if tokens.RefreshToken != "" {
		http.SetCookie(w, t.newCookie(RefreshTokenCookie, tokens.RefreshToken))
	}
}

// WriteSessionID sets the session ID cookie.
func (t *Transport) WriteSessionID(w http.ResponseWriter, id string) {
	http.SetCookie(w, t.newCookie(SessionIDCookie, id))
}

// Clear expires all three session cookies. The session ID cookie is cleared
// alongside the token cookies even when it was never set, so stale jars from
// older deployments converge to the same logged-out state.
func (t *Transport) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, SessionIDCookie} {
		c := t.newCookie(name, "")
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// newCookie builds a cookie with the contract attributes.
func (t *Transport) newCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
