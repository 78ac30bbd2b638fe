// Package activity persists per-session last-activity timestamps on the
// server. The hydration hook consults these records to enforce the inactivity
// policy across server restarts: a browser presenting valid tokens is still
// logged out when its record shows no activity within the threshold.
package activity

import (
	"context"
	"time"
)

// Record tracks the activity of one admin session, keyed by the session ID
// cookie.
type Record struct {
	// SessionID is the value of the ju_session_id cookie.
	SessionID string

	// UserID is the sanitized user ID that owns the session.
	UserID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActiveAt is the most recent observed activity.
	LastActiveAt time.Time

	// ExpiresAt is when the record itself is garbage collected.
	ExpiresAt time.Time
}

// Recorder defines the interface for activity record persistence.
type Recorder interface {
	// Create persists a new record.
	Create(ctx context.Context, rec *Record) error

	// Get retrieves a record by session ID. Returns nil, nil if not found
	// or expired.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Touch moves LastActiveAt to now and extends ExpiresAt by the
	// recorder's TTL.
	Touch(ctx context.Context, sessionID string) error

	// Delete removes a record.
	Delete(ctx context.Context, sessionID string) error

	// Cleanup removes expired records.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
