// Package local provides an embedded identity provider for development and
// tests. Users are configured with bcrypt password hashes, access tokens are
// HS256 JWTs, and refresh tokens are opaque UUIDs rotated when the access
// token is close to expiry.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/juceramics/sessiond/pkg/identity"
)

const (
	// defaultAccessTTL is the lifetime of issued access tokens.
	defaultAccessTTL = 1 * time.Hour

	// rotationWindow is how close to expiry an access token must be before
	// validation rotates the pair.
	rotationWindow = 10 * time.Minute
)

// UserRecord is a configured provider user.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string // bcrypt
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Config configures the local provider.
type Config struct {
	// Issuer is the iss claim on issued access tokens.
	Issuer string

	// SigningKey is the HMAC key for access token signatures.
	SigningKey []byte

	// AccessTTL overrides the default access token lifetime.
	AccessTTL time.Duration

	// Users are the accounts the provider knows about, keyed by email.
	Users []UserRecord
}

// Provider implements identity.Provider entirely in memory.
type Provider struct {
	cfg       Config
	accessTTL time.Duration

	mu       sync.RWMutex
	users    map[string]UserRecord // email -> record
	sessions map[string]*sessionEntry
}

// sessionEntry tracks one live session keyed by refresh token.
type sessionEntry struct {
	userEmail string
	access    string
	expiresAt time.Time
}

// New creates a local provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("local provider issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("local provider signing key is required")
	}

	ttl := cfg.AccessTTL
	if ttl == 0 {
		ttl = defaultAccessTTL
	}

	users := make(map[string]UserRecord, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Email] = u
	}

	return &Provider{
		cfg:       cfg,
		accessTTL: ttl,
		users:     users,
		sessions:  make(map[string]*sessionEntry),
	}, nil
}

// HashPassword produces a bcrypt hash suitable for UserRecord.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// SignInWithPassword authenticates credentials and issues a new session.
func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*identity.SessionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.users[email]
	if !ok {
		return nil, identity.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, identity.ErrInvalidCredentials
	}

	return p.issueSessionLocked(rec)
}

// ValidateSession checks a token pair and returns the current session,
// rotating the pair when the access token is close to expiry.
func (p *Provider) ValidateSession(_ context.Context, tokens identity.TokenPair) (*identity.SessionResult, error) {
	if tokens.Empty() {
		return nil, identity.ErrInvalidSession
	}

	claims, err := p.parseAccessToken(tokens.AccessToken)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		// Expired access token with a live refresh token rotates the pair.
		if tokens.RefreshToken != "" {
			if entry, ok := p.sessions[tokens.RefreshToken]; ok {
				rec, found := p.users[entry.userEmail]
				if !found {
					return nil, identity.ErrInvalidSession
				}
				delete(p.sessions, tokens.RefreshToken)
				slog.Debug("local provider: rotating expired access token", "email", rec.Email)
				return p.issueSessionLocked(rec)
			}
		}
		return nil, identity.ErrInvalidSession
	}

	email, _ := claims["email"].(string)
	rec, ok := p.users[email]
	if !ok {
		return nil, identity.ErrInvalidSession
	}

	// Rotate proactively when close to expiry.
	if exp, ok := claims["exp"].(float64); ok {
		if time.Until(time.Unix(int64(exp), 0)) < rotationWindow {
			delete(p.sessions, tokens.RefreshToken)
			return p.issueSessionLocked(rec)
		}
	}

	return &identity.SessionResult{
		User:   providerUser(rec),
		Tokens: tokens,
	}, nil
}

// SignOut revokes the session for the token pair. Unknown sessions are a
// no-op.
func (p *Provider) SignOut(_ context.Context, tokens identity.TokenPair) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokens.RefreshToken != "" {
		delete(p.sessions, tokens.RefreshToken)
	}
	return nil
}

// ResetPasswordForEmail logs the reset request. The embedded provider has no
// mail pipeline; unknown addresses are deliberately indistinguishable from
// known ones.
func (p *Provider) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	p.mu.RLock()
	_, known := p.users[email]
	p.mu.RUnlock()

	slog.Info("local provider: password reset requested",
		"email", email, "known", known, "redirect_to", redirectTo)
	return nil
}

// issueSessionLocked mints a fresh token pair for a user. Caller holds mu.
func (p *Provider) issueSessionLocked(rec UserRecord) (*identity.SessionResult, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.cfg.Issuer,
		"sub":   rec.ID,
		"email": rec.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(p.accessTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, err := token.SignedString(p.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refresh := uuid.NewString()
	p.sessions[refresh] = &sessionEntry{
		userEmail: rec.Email,
		access:    access,
		expiresAt: now.Add(p.accessTTL),
	}

	return &identity.SessionResult{
		User: providerUser(rec),
		Tokens: identity.TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
		},
	}, nil
}

// parseAccessToken verifies the JWT signature and standard claims.
func (p *Provider) parseAccessToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if iss, ok := claims["iss"].(string); !ok || iss != p.cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	return claims, nil
}

// providerUser converts a user record to the raw provider shape. Extra mimics
// the noise a hosted provider attaches so sanitization is exercised end to
// end.
func providerUser(rec UserRecord) identity.ProviderUser {
	return identity.ProviderUser{
		ID:        rec.ID,
		Email:     rec.Email,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Extra: map[string]any{
			"aud":  "authenticated",
			"role": "authenticated",
		},
	}
}

// Verify interface compliance.
var _ identity.Provider = (*Provider)(nil)
