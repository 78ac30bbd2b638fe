// Package session holds the authentication state for one browser tab or one
// server-rendered request. The Store is a controlled-mutation container: the
// only operation with I/O is SignOut, which invokes an injected revoke
// callback exactly once per logout episode.
package session

import (
	"time"

	"github.com/juceramics/sessiond/pkg/identity"
)

// Reason identifies why a session ended. Reasons drive user-facing messaging
// and telemetry only, never control flow.
type Reason string

// Logout reasons.
const (
	ReasonManual     Reason = "manual"
	ReasonInactivity Reason = "inactivity"
	ReasonTabHidden  Reason = "tab_hidden"
	ReasonTabClosed  Reason = "tab_closed"
	ReasonBroadcast  Reason = "broadcast"
)

// Session is the authoritative authentication fact for a tab or request.
type Session struct {
	// Authenticated reports whether a valid identity is attached. When
	// true, User is always non-nil.
	Authenticated bool

	// User is the sanitized identity projection, never tokens.
	User *identity.User

	// LastActivity is the most recent tracked user interaction. It only
	// moves forward, except on re-authentication.
	LastActivity time.Time

	// TabVisible reports whether the owning tab is currently visible.
	TabVisible bool
}

// Snapshot is the persistable subset of session state. Restored snapshots are
// never trusted without re-checking the inactivity window.
type Snapshot struct {
	Authenticated bool           `json:"isAuthenticated"`
	User          *identity.User `json:"user,omitempty"`
	LastActivity  int64          `json:"lastActivity"` // milliseconds since epoch
}
