// Package postgres provides PostgreSQL storage for activity records.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juceramics/sessiond/pkg/activity"
)

// Recorder implements activity.Recorder using PostgreSQL.
type Recorder struct {
	db     *sql.DB
	ttl    time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures the PostgreSQL activity recorder.
type Config struct {
	TTL time.Duration
}

// New creates a PostgreSQL activity recorder.
func New(db *sql.DB, cfg Config) *Recorder {
	return &Recorder{
		db:  db,
		ttl: cfg.TTL,
	}
}

// Create persists a new record.
func (r *Recorder) Create(ctx context.Context, rec *activity.Record) error {
	query := `
		INSERT INTO session_activity (session_id, user_id, created_at, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.SessionID, rec.UserID, rec.CreatedAt, rec.LastActiveAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting activity record: %w", err)
	}
	return nil
}

// Get retrieves a record by session ID. Returns nil, nil if not found or
// expired.
func (r *Recorder) Get(ctx context.Context, sessionID string) (*activity.Record, error) {
	query := `
		SELECT session_id, user_id, created_at, last_active_at, expires_at
		FROM session_activity
		WHERE session_id = $1 AND expires_at > NOW()
	`
	row := r.db.QueryRowContext(ctx, query, sessionID)

	var rec activity.Record
	err := row.Scan(&rec.SessionID, &rec.UserID, &rec.CreatedAt, &rec.LastActiveAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Recorder interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning activity record: %w", err)
	}
	return &rec, nil
}

// Touch moves LastActiveAt to now and extends ExpiresAt by the recorder's TTL.
func (r *Recorder) Touch(ctx context.Context, sessionID string) error {
	query := `
		UPDATE session_activity
		SET last_active_at = NOW(), expires_at = NOW() + $2::interval
		WHERE session_id = $1 AND expires_at > NOW()
	`
	_, err := r.db.ExecContext(ctx, query, sessionID, fmt.Sprintf("%d seconds", int(r.ttl.Seconds())))
	if err != nil {
		return fmt.Errorf("touching activity record: %w", err)
	}
	return nil
}

// Delete removes a record.
func (r *Recorder) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM session_activity WHERE session_id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("deleting activity record: %w", err)
	}
	return nil
}

// Cleanup removes expired records.
func (r *Recorder) Cleanup(ctx context.Context) error {
	query := `DELETE FROM session_activity WHERE expires_at <= NOW()`
	_, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("cleaning up activity records: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired records. The goroutine is stopped when Close is called.
func (r *Recorder) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Cleanup(ctx); err != nil {
					slog.Warn("activity cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit. Safe to call
// even if StartCleanupRoutine was never called.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}

// Verify interface compliance.
var _ activity.Recorder = (*Recorder)(nil)
