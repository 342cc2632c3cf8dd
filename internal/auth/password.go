// Package auth provides password hashing, session tokens, the Google OAuth
// provider, and the HTTP middleware that guards authenticated routes.
package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/mintair/mintair-cloud/internal/apperror"
)

// PasswordService provides bcrypt hashing and verification. The cost is
// injected so tests can use the bcrypt minimum instead of the production
// work factor.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the given bcrypt cost.
// Production configuration uses 12; tests pass bcrypt.MinCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash hashes a plaintext password. Plaintexts over 72 bytes are rejected
// explicitly because bcrypt silently truncates them.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks a plaintext against a stored hash. Returns nil on match.
// bcrypt compares in constant time internally.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("auth: invalid password")
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

var passwordRules = []*regexp.Regexp{
	regexp.MustCompile(`.{8,}`),
	regexp.MustCompile(`[A-Z]`),
	regexp.MustCompile(`[a-z]`),
	regexp.MustCompile(`\d`),
	regexp.MustCompile(`[^A-Za-z0-9]`),
}

// ValidatePasswordStrength enforces the signup password policy: at least 8
// characters with uppercase, lowercase, digit, and symbol.
func ValidatePasswordStrength(password string) error {
	for _, rule := range passwordRules {
		if !rule.MatchString(password) {
			return apperror.ValidationFailed("password",
				"Password must be at least 8 characters and include uppercase, lowercase, number, and symbol.")
		}
	}
	return nil
}
