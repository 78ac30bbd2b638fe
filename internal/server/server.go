// Package server wires the session subsystem into an HTTP server: identity
// provider, validator, cookie transport, hydration, route guard, auth API,
// audit, and the cross-tab logout channel.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	// Postgres driver, registered for database/sql.
	_ "github.com/lib/pq"

	"github.com/juceramics/sessiond/pkg/activity"
	activitypg "github.com/juceramics/sessiond/pkg/activity/postgres"
	"github.com/juceramics/sessiond/pkg/api"
	"github.com/juceramics/sessiond/pkg/audit"
	auditpg "github.com/juceramics/sessiond/pkg/audit/postgres"
	"github.com/juceramics/sessiond/pkg/broadcast"
	broadcastpg "github.com/juceramics/sessiond/pkg/broadcast/postgres"
	"github.com/juceramics/sessiond/pkg/config"
	"github.com/juceramics/sessiond/pkg/cookies"
	"github.com/juceramics/sessiond/pkg/database/migrate"
	"github.com/juceramics/sessiond/pkg/guard"
	"github.com/juceramics/sessiond/pkg/health"
	"github.com/juceramics/sessiond/pkg/hydrate"
	"github.com/juceramics/sessiond/pkg/identity"
	"github.com/juceramics/sessiond/pkg/identity/local"
	"github.com/juceramics/sessiond/pkg/validator"
)

// Version is set at build time.
var Version = "dev"

// Server is the assembled sessiond service.
type Server struct {
	cfg     *config.Config
	handler http.Handler
	checker *health.Checker

	db       *sql.DB
	recorder activity.Recorder
	auditor  audit.Logger
	channel  broadcast.Channel
}

// New assembles a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("building identity provider: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		checker: health.NewChecker(),
	}

	if err := s.buildStores(); err != nil {
		return nil, err
	}

	transport := cookies.New(cfg.Session.SecureCookies)
	v := validator.New(provider)

	hydrator := hydrate.New(hydrate.Config{
		Validator: v,
		Cookies:   transport,
		Recorder:  s.recorder,
		Auditor:   s.auditor,
		Threshold: cfg.Session.InactivityThreshold,
		RecordTTL: cfg.Session.RecordTTL,
	})

	authAPI := api.NewHandler(api.Config{
		Provider:  provider,
		Cookies:   transport,
		Recorder:  s.recorder,
		Auditor:   s.auditor,
		Channel:   s.channel,
		Hydrator:  hydrator,
		RecordTTL: cfg.Session.RecordTTL,
	})

	g := guard.New(cfg.Server.LoginPath)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.Handle("/api/auth/", authAPI)

	// Server-rendered session view: what a protected admin layout reads
	// after hydration.
	mux.Handle("GET /admin/session",
		hydrator.Middleware(g.RequireAuth(http.HandlerFunc(sessionView))))

	s.handler = mux
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.checker.SetReady()
	slog.Info("sessiond listening", "address", s.cfg.Server.Address, "version", Version)

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Close releases stores and database resources.
func (s *Server) Close() error {
	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
	}
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}
	if s.auditor != nil {
		errs = append(errs, s.auditor.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// buildStores selects Postgres or in-memory backends for activity records,
// the audit log, and the broadcast channel.
func (s *Server) buildStores() error {
	cfg := s.cfg

	if cfg.Database.DSN == "" {
		rec := activity.NewMemoryRecorder(cfg.Session.RecordTTL)
		rec.StartCleanupRoutine(cfg.Session.CleanupInterval)
		s.recorder = rec
		s.channel = broadcast.NewHub()
		if cfg.Audit.Enabled {
			s.auditor = audit.NewMemoryLogger(0)
		}
		return nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrating database: %w", err)
	}
	s.db = db

	rec := activitypg.New(db, activitypg.Config{TTL: cfg.Session.RecordTTL})
	rec.StartCleanupRoutine(cfg.Session.CleanupInterval)
	s.recorder = rec

	s.channel = broadcastpg.New(db, broadcastpg.Config{
		PollInterval: cfg.Session.BroadcastPollInterval,
	})

	if cfg.Audit.Enabled {
		store := auditpg.New(db, auditpg.Config{RetentionDays: cfg.Audit.RetentionDays})
		store.StartCleanupRoutine()
		s.auditor = store
	}
	return nil
}

// buildProvider constructs the embedded identity provider from config.
func buildProvider(cfg *config.Config) (identity.Provider, error) {
	users := make([]local.UserRecord, 0, len(cfg.Provider.Users))
	now := time.Now()
	for _, u := range cfg.Provider.Users {
		users = append(users, local.UserRecord{
			ID:           u.ID,
			Email:        u.Email,
			PasswordHash: u.PasswordHash,
			Metadata:     u.Metadata,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	return local.New(local.Config{
		Issuer:     cfg.Provider.Issuer,
		SigningKey: []byte(cfg.Provider.SigningKey),
		AccessTTL:  cfg.Provider.AccessTTL,
		Users:      users,
	})
}

// sessionView renders the hydrated session as JSON. Stands in for the
// server-rendered admin layout, which reads exactly this state.
func sessionView(w http.ResponseWriter, r *http.Request) {
	store := hydrate.FromContext(r.Context())
	sess := store.Current()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"isAuthenticated":%t,"userId":%q}`, sess.Authenticated, sess.User.ID)
}
