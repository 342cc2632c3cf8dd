package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
	}{
		{"not found", NotFound("Instance"), ErrNotFound},
		{"validation", ValidationFailed("name", "name is required"), ErrValidation},
		{"conflict", Conflict("Only stopped instances can be started."), ErrConflict},
		{"payment required", PaymentRequired("Insufficient balance."), ErrPaymentRequired},
		{"unauthorized", Unauthorized("Session expired."), ErrUnauthorized},
		{"forbidden", Forbidden("Verify your email first."), ErrForbidden},
		{"upstream", Upstream("CopperX checkout failed."), ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestWrappedChainSurvivesFmtErrorf(t *testing.T) {
	inner := PaymentRequired("Insufficient balance. Add funds before deploying this instance.")
	wrapped := fmt.Errorf("deploying instance: %w", inner)

	assert.True(t, errors.Is(wrapped, ErrPaymentRequired))

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "Insufficient balance. Add funds before deploying this instance.", appErr.Message)
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("SSH key")
	assert.Equal(t, "SSH key not found.", err.Error())
}

func TestValidationCarriesField(t *testing.T) {
	err := ValidationFailed("amountUsd", "Amount must be between 1 and 50,000 USD.")
	assert.Equal(t, "amountUsd", err.Field)
}
