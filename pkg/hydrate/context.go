package hydrate

import (
	"context"

	"github.com/juceramics/sessiond/pkg/session"
)

// contextKey is a private type for context keys in the hydrate package.
type contextKey string

const sessionKey contextKey = "session_store"

// WithSession attaches a request-scoped session store to the context.
func WithSession(ctx context.Context, store *session.Store) context.Context {
	return context.WithValue(ctx, sessionKey, store)
}

// FromContext returns the request's session store, or nil when the hydration
// middleware did not run.
func FromContext(ctx context.Context) *session.Store {
	store, _ := ctx.Value(sessionKey).(*session.Store)
	return store
}
