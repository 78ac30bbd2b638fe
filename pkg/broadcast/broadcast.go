// Package broadcast propagates logout events across tabs sharing a session.
// The contract is a single well-known key holding a millisecond timestamp
// with last-write-wins semantics: any observer seeing a value newer than the
// last one it processed treats it as a logout signal, without re-publishing.
package broadcast

import (
	"context"
	"time"
)

// LogoutKey is the well-known shared key carrying the logout timestamp.
const LogoutKey = "ju_logout_broadcast"

// Observer is invoked with the logout timestamp when a newer value than the
// observer has already processed is published. Observers must be idempotent;
// delivery is at-least-once and unordered beyond last-write-wins.
type Observer func(ts time.Time)

// Channel is the publish/observe primitive over the shared namespace.
type Channel interface {
	// Publish records a logout at ts. Older timestamps than the current
	// value are dropped (last write wins).
	Publish(ctx context.Context, ts time.Time) error

	// Subscribe registers an observer and returns its disposer. The
	// disposer must be invoked on teardown to prevent handler leaks.
	Subscribe(obs Observer) (unsubscribe func())

	// Last returns the most recent published timestamp, or the zero time.
	Last(ctx context.Context) (time.Time, error)

	// Close releases resources and stops delivery.
	Close() error
}
