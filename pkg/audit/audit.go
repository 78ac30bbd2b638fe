// Package audit records authentication lifecycle events. Provider outages
// and genuine session rejections both end in an anonymous state, so the audit
// trail is the only place the two remain distinguishable.
package audit

import (
	"context"
	"time"
)

// Action identifies the audited operation.
type Action string

// Audited actions.
const (
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionValidateReject Action = "validate_reject"
	ActionResetPassword  Action = "reset_password"
)

// Event represents one auth lifecycle event.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       Action    `json:"action"`
	SessionID    string    `json:"session_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	Reason       string    `json:"reason,omitempty"` // logout reason or rejection classification
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Action    Action
	UserID    string
	Success   *bool
	Limit     int
	Offset    int
}

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	RetentionDays int
}
