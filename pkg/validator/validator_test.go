package validator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juceramics/sessiond/pkg/identity"
)

const (
	testAccessToken  = "access-token-1"
	testRefreshToken = "refresh-token-1"
)

// stubProvider returns canned validation results and counts calls.
type stubProvider struct {
	result *identity.SessionResult
	err    error
	calls  int
}

func (p *stubProvider) ValidateSession(_ context.Context, _ identity.TokenPair) (*identity.SessionResult, error) {
	p.calls++
	return p.result, p.err
}

func (p *stubProvider) SignInWithPassword(context.Context, string, string) (*identity.SessionResult, error) {
	return nil, errors.New("not implemented")
}

func (p *stubProvider) SignOut(context.Context, identity.TokenPair) error { return nil }

func (p *stubProvider) ResetPasswordForEmail(context.Context, string, string) error { return nil }

func providerResult(tokens identity.TokenPair) *identity.SessionResult {
	return &identity.SessionResult{
		User: identity.ProviderUser{
			ID:        "user-1",
			Email:     "anna@juceramics.com",
			Metadata:  map[string]any{"display_name": "Anna"},
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Extra:     map[string]any{"role": "authenticated", "phone": "555-0100"},
		},
		Tokens: tokens,
	}
}

func TestValidator_EmptyTokenShortCircuits(t *testing.T) {
	provider := &stubProvider{}
	v := New(provider)

	result, err := v.Validate(context.Background(), identity.TokenPair{})

	require.ErrorIs(t, err, ErrNoToken)
	assert.Nil(t, result)
	assert.Zero(t, provider.calls, "absent token must not contact the provider")
}

func TestValidator_ValidSessionSanitized(t *testing.T) {
	tokens := identity.TokenPair{AccessToken: testAccessToken, RefreshToken: testRefreshToken}
	provider := &stubProvider{result: providerResult(tokens)}
	v := New(provider)

	result, err := v.Validate(context.Background(), tokens)

	require.NoError(t, err)
	require.NotNil(t, result.User)
	assert.Equal(t, "user-1", result.User.ID)
	assert.Equal(t, "anna@juceramics.com", result.User.Email)
	assert.Equal(t, "Anna", result.User.Metadata["display_name"])
	assert.False(t, result.Rotated.Changed(), "unchanged tokens must not report rotation")
}

func TestValidator_ReportsOnlyChangedTokens(t *testing.T) {
	input := identity.TokenPair{AccessToken: testAccessToken, RefreshToken: testRefreshToken}
	rotated := identity.TokenPair{AccessToken: "access-token-2", RefreshToken: testRefreshToken}
	provider := &stubProvider{result: providerResult(rotated)}
	v := New(provider)

	result, err := v.Validate(context.Background(), input)

	require.NoError(t, err)
	assert.True(t, result.Rotated.Changed())
	assert.Equal(t, "access-token-2", result.Rotated.AccessToken)
	assert.Empty(t, result.Rotated.RefreshToken, "an unchanged refresh token must not be rewritten")
}

func TestValidator_FullRotation(t *testing.T) {
	input := identity.TokenPair{AccessToken: testAccessToken, RefreshToken: testRefreshToken}
	rotated := identity.TokenPair{AccessToken: "access-token-2", RefreshToken: "refresh-token-2"}
	provider := &stubProvider{result: providerResult(rotated)}
	v := New(provider)

	result, err := v.Validate(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "access-token-2", result.Rotated.AccessToken)
	assert.Equal(t, "refresh-token-2", result.Rotated.RefreshToken)
	assert.Equal(t, rotated, result.Tokens)
}

func TestValidator_RejectionWrapped(t *testing.T) {
	provider := &stubProvider{err: identity.ErrInvalidSession}
	v := New(provider)

	result, err := v.Validate(context.Background(), identity.TokenPair{AccessToken: testAccessToken})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, identity.ErrInvalidSession)
}

func TestValidator_NilResultTreatedAsInvalid(t *testing.T) {
	provider := &stubProvider{}
	v := New(provider)

	_, err := v.Validate(context.Background(), identity.TokenPair{AccessToken: testAccessToken})

	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidSession)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{name: "absent", err: ErrNoToken, want: ReasonAbsent},
		{name: "wrapped absent", err: fmt.Errorf("hydrating: %w", ErrNoToken), want: ReasonAbsent},
		{name: "provider outage", err: fmt.Errorf("validating session: %w", identity.ErrProviderUnavailable), want: ReasonProviderError},
		{name: "rejection", err: fmt.Errorf("validating session: %w", identity.ErrInvalidSession), want: ReasonInvalid},
		{name: "unknown", err: errors.New("boom"), want: ReasonInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
