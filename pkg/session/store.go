package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juceramics/sessiond/pkg/identity"
)

// RevokeFunc revokes the session server-side. It is invoked at most once per
// logout episode; a fresh HydrateFromServer with authenticated=true starts a
// new episode.
type RevokeFunc func(ctx context.Context, reason Reason) error

// Store owns one Session and serializes mutation. A cross-tab broadcast can
// arrive asynchronously, so the store is safe for concurrent use even though
// the owning tab is single-threaded.
type Store struct {
	mu      sync.Mutex
	sess    Session
	revoke  RevokeFunc
	revoked bool

	now func() time.Time
}

// NewStore creates a session store. revoke may be nil when no server-side
// revocation applies (e.g. request-scoped stores on the server).
func NewStore(revoke RevokeFunc) *Store {
	return &Store{
		revoke: revoke,
		now:    time.Now,
		sess:   Session{TabVisible: true},
		// Nothing to revoke until a login opens an episode.
		revoked: true,
	}
}

// WithClock overrides the store's clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Current returns a copy of the session state.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// HydrateFromServer unconditionally overwrites identity state. The caller
// guarantees user is already sanitized. Transitioning into the authenticated
// state resets LastActivity and opens a new logout episode.
func (s *Store) HydrateFromServer(user *identity.User, authenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasAuthenticated := s.sess.Authenticated

	if authenticated && user == nil {
		// Never allow the authenticated-without-user state.
		authenticated = false
	}

	s.sess.User = user
	s.sess.Authenticated = authenticated

	if authenticated && !wasAuthenticated {
		s.sess.LastActivity = s.now()
		s.revoked = false
	}
	if !authenticated {
		s.sess.User = nil
	}
}

// ResetActivity moves LastActivity to now. Called on every tracked user
// interaction. LastActivity never moves backward.
func (s *Store) ResetActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now(); now.After(s.sess.LastActivity) {
		s.sess.LastActivity = now
	}
}

// LastActivity returns the current last-activity timestamp.
func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.LastActivity
}

// SetTabVisibility updates the tab visibility flag.
func (s *Store) SetTabVisibility(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.TabVisible = visible
}

// SignOut clears identity state and revokes the session server-side. It is
// idempotent: signing out an already-signed-out session is a no-op, and the
// revoke callback fires at most once per logout episode.
func (s *Store) SignOut(ctx context.Context, reason Reason) error {
	s.mu.Lock()
	needRevoke := !s.revoked
	s.sess.User = nil
	s.sess.Authenticated = false
	s.revoked = true
	s.mu.Unlock()

	if !needRevoke || s.revoke == nil {
		return nil
	}

	slog.Info("session: signing out", "reason", string(reason))
	if err := s.revoke(ctx, reason); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// SignOutLocal clears identity state without invoking the revoke callback.
// Used when another tab already revoked the session server-side: absorbing
// its broadcast must not trigger a second provider-level sign-out.
func (s *Store) SignOutLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sess.User = nil
	s.sess.Authenticated = false
	s.revoked = true
}

// Snapshot captures persistable state for browser-local storage.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Authenticated: s.sess.Authenticated,
		User:          s.sess.User,
		LastActivity:  s.sess.LastActivity.UnixMilli(),
	}
}

// Restore loads a persisted snapshot, re-validating the inactivity window
// before trusting it. A snapshot whose last activity is older than threshold
// restores as anonymous.
func (s *Store) Restore(snap Snapshot, threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := time.UnixMilli(snap.LastActivity)
	if snap.Authenticated && s.now().Sub(last) <= threshold && snap.User != nil {
		s.sess.Authenticated = true
		s.sess.User = snap.User
		s.sess.LastActivity = last
		s.revoked = false
		return
	}

	s.sess.Authenticated = false
	s.sess.User = nil
	s.sess.LastActivity = last
}
