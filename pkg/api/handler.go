// Package api provides the REST endpoints for the authentication handshake:
// login, logout, session introspection, and password reset. Responses never
// carry tokens or raw provider errors; tokens travel only in HTTP-only
// cookies.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/juceramics/sessiond/pkg/activity"
	"github.com/juceramics/sessiond/pkg/audit"
	"github.com/juceramics/sessiond/pkg/broadcast"
	"github.com/juceramics/sessiond/pkg/cookies"
	"github.com/juceramics/sessiond/pkg/hydrate"
	"github.com/juceramics/sessiond/pkg/identity"
	"github.com/juceramics/sessiond/pkg/session"
)

// Handler serves the /api/auth endpoints.
type Handler struct {
	mux      *http.ServeMux
	provider identity.Provider
	cookies  *cookies.Transport
	recorder activity.Recorder
	auditor  audit.Logger
	channel  broadcast.Channel
	hydrator *hydrate.Hydrator
	recTTL   time.Duration

	now func() time.Time
}

// Config configures the auth API handler.
type Config struct {
	Provider identity.Provider
	Cookies  *cookies.Transport
	Recorder activity.Recorder
	Auditor  audit.Logger
	Channel  broadcast.Channel
	Hydrator *hydrate.Hydrator

	// RecordTTL is the lifetime of activity records created on login.
	RecordTTL time.Duration

	// Clock overrides time.Now. Test hook.
	Clock func() time.Time
}

// NewHandler creates the auth API handler.
func NewHandler(cfg Config) *Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recTTL := cfg.RecordTTL
	if recTTL == 0 {
		recTTL = cookies.MaxAge
	}

	h := &Handler{
		mux:      http.NewServeMux(),
		provider: cfg.Provider,
		cookies:  cfg.Cookies,
		recorder: cfg.Recorder,
		auditor:  cfg.Auditor,
		channel:  cfg.Channel,
		hydrator: cfg.Hydrator,
		recTTL:   recTTL,
		now:      clock,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all auth API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/auth/login", h.Login)
	h.mux.HandleFunc("POST /api/auth/logout", h.Logout)
	h.mux.HandleFunc("GET /api/auth/me", h.Me)
	h.mux.HandleFunc("POST /api/auth/reset-password", h.ResetPassword)
}

// loginRequest is the POST /api/auth/login body.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates credentials and establishes the cookie session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := h.provider.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.audit(r, audit.Event{
			Action:       audit.ActionLogin,
			UserEmail:    req.Email,
			Success:      false,
			ErrorMessage: classifyLoginError(err),
		})

		if errors.Is(err, identity.ErrProviderUnavailable) {
			slog.Warn("login: provider unreachable", "error", err)
		}
		// Bad credentials and provider outages are indistinguishable to
		// the caller; no provider error text leaks.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user := identity.Sanitize(res.User)
	sessionID := uuid.NewString()

	h.cookies.WriteTokens(w, res.Tokens)
	h.cookies.WriteSessionID(w, sessionID)
	h.createActivityRecord(r, sessionID, user.ID)

	h.audit(r, audit.Event{
		Action:    audit.ActionLogin,
		SessionID: sessionID,
		UserID:    user.ID,
		UserEmail: user.Email,
		Success:   true,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// Logout revokes the session, clears cookies, and records the cross-tab
// broadcast. It always succeeds, even when no session existed.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tokens := h.cookies.ReadTokens(r)
	sessionID := h.cookies.ReadSessionID(r)

	if !tokens.Empty() {
		if err := h.provider.SignOut(r.Context(), tokens); err != nil {
			slog.Warn("logout: provider sign-out failed", "error", err)
		}
	}

	h.cookies.Clear(w)

	if h.recorder != nil && sessionID != "" {
		if err := h.recorder.Delete(r.Context(), sessionID); err != nil {
			slog.Debug("logout: activity delete failed", "error", err)
		}
	}

	if h.channel != nil {
		if err := h.channel.Publish(r.Context(), h.now()); err != nil {
			slog.Debug("logout: broadcast publish failed", "error", err)
		}
	}

	h.audit(r, audit.Event{
		Action:    audit.ActionLogout,
		SessionID: sessionID,
		Reason:    string(session.ReasonManual),
		Success:   true,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Me reports the current session state, applying the full hydration sequence
// including the inactivity policy and cookie rotation.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	store := h.hydrator.Run(w, r)
	sess := store.Current()

	writeJSON(w, http.StatusOK, map[string]any{
		"user":            sess.User,
		"isAuthenticated": sess.Authenticated,
	})
}

// resetRequest is the POST /api/auth/reset-password body.
type resetRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

// ResetPassword triggers a provider-side reset email.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	if err := h.provider.ResetPasswordForEmail(r.Context(), req.Email, req.RedirectTo); err != nil {
		slog.Warn("reset-password: provider call failed", "error", err)
		// Deliberately indistinguishable from success so the endpoint
		// cannot be used to probe for registered addresses.
	}

	h.audit(r, audit.Event{
		Action:    audit.ActionResetPassword,
		UserEmail: req.Email,
		Success:   true,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// createActivityRecord seeds the server-side activity record on login.
func (h *Handler) createActivityRecord(r *http.Request, sessionID, userID string) {
	if h.recorder == nil {
		return
	}

	now := h.now()
	err := h.recorder.Create(r.Context(), &activity.Record{
		SessionID:    sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(h.recTTL),
	})
	if err != nil {
		slog.Warn("login: activity create failed", "error", err)
	}
}

// audit records an event when auditing is configured.
func (h *Handler) audit(r *http.Request, event audit.Event) {
	if h.auditor == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = h.now()
	event.RemoteAddr = r.RemoteAddr
	if err := h.auditor.Log(r.Context(), event); err != nil {
		slog.Debug("api: audit log failed", "error", err)
	}
}

// classifyLoginError keeps provider outage and rejection distinguishable in
// the audit trail without leaking provider error text to clients.
func classifyLoginError(err error) string {
	if errors.Is(err, identity.ErrProviderUnavailable) {
		return "provider_error"
	}
	return "invalid_credentials"
}

// validEmail performs a minimal shape check; the provider remains the
// authority on address validity.
func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
