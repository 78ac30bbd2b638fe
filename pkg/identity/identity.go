// Package identity defines the contract with the external identity provider
// and the sanitized user projection allowed to cross the server/client
// boundary. Tokens never leave this package except through the cookie
// transport.
package identity

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors classifying provider outcomes. Callers branch on these to
// distinguish a genuine rejection from a provider outage; both downgrade the
// caller to an anonymous state but they are logged differently.
var (
	// ErrInvalidSession indicates the provider rejected the token pair.
	ErrInvalidSession = errors.New("identity: invalid or expired session")

	// ErrInvalidCredentials indicates a failed password sign-in.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrProviderUnavailable indicates the provider could not be reached.
	ErrProviderUnavailable = errors.New("identity: provider unavailable")
)

// User is the sanitized projection of a provider user. It contains no tokens
// or secrets and is the only user shape permitted in session state or API
// responses.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TokenPair is the opaque credential exchanged with the provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no access token is present.
func (t TokenPair) Empty() bool {
	return t.AccessToken == ""
}

// ProviderUser is the raw user record returned by a provider. Extra fields a
// real provider attaches (app metadata, identities, phone, role) are captured
// in Extra and stripped by Sanitize.
type ProviderUser struct {
	ID        string
	Email     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	Extra     map[string]any
}

// SessionResult is a successful provider validation or sign-in. Tokens holds
// the pair currently valid for the session; on validation it may differ from
// the input pair when the provider rotated tokens.
type SessionResult struct {
	User   ProviderUser
	Tokens TokenPair
}

// Provider is the identity provider contract. Implementations wrap a hosted
// auth backend; the local package provides an embedded implementation for
// development and tests.
type Provider interface {
	// ValidateSession checks a token pair and returns the current session.
	// The returned Tokens reflect any rotation performed as a side effect.
	ValidateSession(ctx context.Context, tokens TokenPair) (*SessionResult, error)

	// SignInWithPassword authenticates credentials and issues a new session.
	SignInWithPassword(ctx context.Context, email, password string) (*SessionResult, error)

	// SignOut revokes the session identified by the token pair. Revoking an
	// unknown or already-revoked session is not an error.
	SignOut(ctx context.Context, tokens TokenPair) error

	// ResetPasswordForEmail triggers a provider-side password reset email.
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}

// Sanitize reduces a provider user to the projection allowed past the
// validator: id, email, user_metadata, created_at, updated_at. Everything
// else on the provider record is dropped.
func Sanitize(pu ProviderUser) *User {
	return &User{
		ID:        pu.ID,
		Email:     pu.Email,
		Metadata:  pu.Metadata,
		CreatedAt: pu.CreatedAt,
		UpdatedAt: pu.UpdatedAt,
	}
}
