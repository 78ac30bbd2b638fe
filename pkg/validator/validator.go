// Package validator performs the authoritative server-side check of whether a
// token pair denotes a live identity-provider session. It is the single path
// through which provider users enter session state, so every accepted user
// passes the sanitizer here.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juceramics/sessiond/pkg/identity"
)

// ErrNoToken is returned when no access token is present. This is the normal
// anonymous state, not a failure; no provider call is made.
var ErrNoToken = errors.New("validator: no access token")

// Reason classifies a validation rejection for logging and telemetry.
type Reason string

// Rejection reasons. Provider errors and genuine rejections both downgrade
// the caller to anonymous but are kept distinguishable in telemetry.
const (
	ReasonAbsent        Reason = "absent"
	ReasonInvalid       Reason = "invalid"
	ReasonProviderError Reason = "provider_error"
)

// Rotation reports which tokens changed during validation. Empty fields mean
// the corresponding cookie must not be rewritten.
type Rotation struct {
	AccessToken  string
	RefreshToken string
}

// Changed reports whether any token was rotated.
func (r Rotation) Changed() bool {
	return r.AccessToken != "" || r.RefreshToken != ""
}

// Result is a successful validation.
type Result struct {
	// User is the sanitized projection, safe for session state.
	User *identity.User

	// Tokens is the pair currently valid for the session.
	Tokens identity.TokenPair

	// Rotated holds only the tokens that actually changed.
	Rotated Rotation
}

// Validator validates token pairs against an identity provider.
type Validator struct {
	provider identity.Provider
}

// New creates a validator backed by the given provider.
func New(provider identity.Provider) *Validator {
	return &Validator{provider: provider}
}

// Validate checks the token pair. An empty access token short-circuits to
// ErrNoToken without contacting the provider. Provider outages and rejections
// are both errors; use Classify to distinguish them.
func (v *Validator) Validate(ctx context.Context, tokens identity.TokenPair) (*Result, error) {
	if tokens.Empty() {
		return nil, ErrNoToken
	}

	res, err := v.provider.ValidateSession(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("validating session: %w", err)
	}
	if res == nil || res.User.ID == "" {
		return nil, fmt.Errorf("validating session: %w", identity.ErrInvalidSession)
	}

	result := &Result{
		User:   identity.Sanitize(res.User),
		Tokens: res.Tokens,
	}

	// Report only tokens that actually changed to avoid redundant cookie
	// writes downstream.
	if res.Tokens.AccessToken != tokens.AccessToken {
		result.Rotated.AccessToken = res.Tokens.AccessToken
	}
	if res.Tokens.RefreshToken != "" && res.Tokens.RefreshToken != tokens.RefreshToken {
		result.Rotated.RefreshToken = res.Tokens.RefreshToken
	}

	if result.Rotated.Changed() {
		slog.Debug("validator: provider rotated tokens", "user_id", result.User.ID)
	}

	return result, nil
}

// Classify maps a Validate error to a rejection reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, ErrNoToken):
		return ReasonAbsent
	case errors.Is(err, identity.ErrProviderUnavailable):
		return ReasonProviderError
	default:
		return ReasonInvalid
	}
}
