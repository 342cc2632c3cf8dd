package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-16-chars"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testSecret)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	assert.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := newTestTokenService(t)

	token, err := svc.Generate("user-123", PurposeSession, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.Validate(token, PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestTokenService_RejectsWrongPurpose(t *testing.T) {
	svc := newTestTokenService(t)

	token, err := svc.Generate("user-123", PurposeEmailVerify, time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(token, PurposeSession)
	assert.Error(t, err)
}

func TestTokenService_RejectsExpiredToken(t *testing.T) {
	svc := newTestTokenService(t)

	token, err := svc.Generate("user-123", PurposeSession, -time.Minute)
	require.NoError(t, err)

	_, err = svc.Validate(token, PurposeSession)
	assert.Error(t, err)
}

func TestTokenService_RejectsForeignSecret(t *testing.T) {
	svc := newTestTokenService(t)

	other, err := NewTokenService("another-secret-with-enough-length")
	require.NoError(t, err)

	token, err := other.Generate("user-123", PurposeSession, time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(token, PurposeSession)
	assert.Error(t, err)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Validate("not-a-jwt", PurposeSession)
	assert.Error(t, err)
}
