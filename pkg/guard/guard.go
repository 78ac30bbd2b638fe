// Package guard gates navigation to protected pages. The server-side guard
// trusts the session store hydrated earlier in the middleware chain; there is
// no partial state to consider because hydration always leaves the store
// definite.
package guard

import (
	"log/slog"
	"net/http"

	"github.com/juceramics/sessiond/pkg/hydrate"
)

// Guard redirects unauthenticated requests to the login route.
type Guard struct {
	// LoginPath is the redirect target for unauthenticated requests.
	LoginPath string
}

// New creates a guard.
func New(loginPath string) *Guard {
	return &Guard{LoginPath: loginPath}
}

// RequireAuth wraps a protected handler. A request without a hydrated,
// authenticated session is redirected to the login route. A missing store
// means the hydration middleware did not run; that is treated as
// unauthenticated rather than an error (fail closed).
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := hydrate.FromContext(r.Context())
		if store == nil {
			slog.Warn("guard: no session store in context", "path", r.URL.Path)
			g.redirect(w, r)
			return
		}

		if !store.Current().Authenticated {
			g.redirect(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
}
