// Package hydrate populates a request-scoped session store from cookies and
// the identity provider before any protected content is produced. The hook
// fails closed: rejections, provider outages, stale activity and panics all
// end in a definite anonymous state, never an indeterminate one.
package hydrate

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/juceramics/sessiond/pkg/activity"
	"github.com/juceramics/sessiond/pkg/audit"
	"github.com/juceramics/sessiond/pkg/cookies"
	"github.com/juceramics/sessiond/pkg/identity"
	"github.com/juceramics/sessiond/pkg/session"
	"github.com/juceramics/sessiond/pkg/validator"
)

// Hydrator runs the session hydration sequence once per server-rendered
// request.
type Hydrator struct {
	validator *validator.Validator
	cookies   *cookies.Transport
	recorder  activity.Recorder
	auditor   audit.Logger
	threshold time.Duration
	recordTTL time.Duration

	now func() time.Time
}

// Config configures a Hydrator.
type Config struct {
	Validator *validator.Validator
	Cookies   *cookies.Transport
	Recorder  activity.Recorder
	Auditor   audit.Logger

	// Threshold is the inactivity window.
	Threshold time.Duration

	// RecordTTL is the lifetime of newly created activity records.
	RecordTTL time.Duration

	// Clock overrides time.Now. Test hook.
	Clock func() time.Time
}

// New creates a Hydrator.
func New(cfg Config) *Hydrator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recordTTL := cfg.RecordTTL
	if recordTTL == 0 {
		recordTTL = cookies.MaxAge
	}

	return &Hydrator{
		validator: cfg.Validator,
		cookies:   cfg.Cookies,
		recorder:  cfg.Recorder,
		auditor:   cfg.Auditor,
		threshold: cfg.Threshold,
		recordTTL: recordTTL,
		now:       clock,
	}
}

// Middleware hydrates a session store and attaches it to the request context
// before invoking next.
func (h *Hydrator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := h.Run(w, r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), store)))
	})
}

// Run executes the hydration sequence and returns the populated store. The
// store is always in a definite state when Run returns.
func (h *Hydrator) Run(w http.ResponseWriter, r *http.Request) *session.Store {
	store := session.NewStore(nil)

	// Fail closed on anything unexpected.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("hydrate: panic during hydration", "panic", rec)
			store.HydrateFromServer(nil, false)
		}
	}()

	tokens := h.cookies.ReadTokens(r)
	if tokens.Empty() {
		store.HydrateFromServer(nil, false)
		return store
	}

	result, err := h.validator.Validate(r.Context(), tokens)
	if err != nil {
		reason := validator.Classify(err)
		if reason == validator.ReasonProviderError {
			slog.Warn("hydrate: provider unreachable", "error", err)
		} else {
			slog.Debug("hydrate: session rejected", "reason", string(reason))
		}
		h.audit(r, audit.Event{
			Action:       audit.ActionValidateReject,
			Reason:       string(reason),
			Success:      false,
			ErrorMessage: err.Error(),
		})

		h.cookies.Clear(w)
		store.HydrateFromServer(nil, false)
		return store
	}

	sessionID := h.cookies.ReadSessionID(r)
	if expired := h.checkInactivity(w, r, sessionID, result.User); expired {
		store.HydrateFromServer(nil, false)
		return store
	}

	store.HydrateFromServer(result.User, true)

	// Rewrite only the cookies whose tokens actually changed.
	if result.Rotated.Changed() {
		h.cookies.WriteTokens(w, identity.TokenPair{
			AccessToken:  result.Rotated.AccessToken,
			RefreshToken: result.Rotated.RefreshToken,
		})
	}

	h.trackActivity(w, r, sessionID, result.User.ID)
	return store
}

// checkInactivity applies the inactivity policy against the previously
// persisted activity record. A stale record clears the session cookies and
// reports true.
func (h *Hydrator) checkInactivity(w http.ResponseWriter, r *http.Request, sessionID string, user *identity.User) bool {
	if h.recorder == nil || sessionID == "" {
		return false
	}

	rec, err := h.recorder.Get(r.Context(), sessionID)
	if err != nil {
		slog.Warn("hydrate: activity lookup failed", "error", err)
		return false
	}
	if rec == nil {
		return false
	}

	if h.now().Sub(rec.LastActiveAt) <= h.threshold {
		return false
	}

	slog.Info("hydrate: session expired by inactivity",
		"session_id", sessionID, "user_id", user.ID)
	h.audit(r, audit.Event{
		Action:    audit.ActionLogout,
		SessionID: sessionID,
		UserID:    user.ID,
		UserEmail: user.Email,
		Reason:    string(session.ReasonInactivity),
		Success:   true,
	})

	h.cookies.Clear(w)
	_ = h.recorder.Delete(r.Context(), sessionID)
	return true
}

// trackActivity touches the session's activity record, creating the record
// and the session ID cookie on first sight.
func (h *Hydrator) trackActivity(w http.ResponseWriter, r *http.Request, sessionID, userID string) {
	if h.recorder == nil {
		return
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
		h.cookies.WriteSessionID(w, sessionID)
	}

	rec, err := h.recorder.Get(r.Context(), sessionID)
	if err != nil {
		slog.Warn("hydrate: activity lookup failed", "error", err)
		return
	}

	now := h.now()
	if rec == nil {
		err = h.recorder.Create(r.Context(), &activity.Record{
			SessionID:    sessionID,
			UserID:       userID,
			CreatedAt:    now,
			LastActiveAt: now,
			ExpiresAt:    now.Add(h.recordTTL),
		})
		if err != nil {
			slog.Warn("hydrate: activity create failed", "error", err)
		}
		return
	}

	if err := h.recorder.Touch(r.Context(), sessionID); err != nil {
		slog.Warn("hydrate: activity touch failed", "error", err)
	}
}

// audit records an event when auditing is configured.
func (h *Hydrator) audit(r *http.Request, event audit.Event) {
	if h.auditor == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = h.now()
	event.RemoteAddr = r.RemoteAddr
	if err := h.auditor.Log(r.Context(), event); err != nil {
		slog.Debug("hydrate: audit log failed", "error", err)
	}
}
