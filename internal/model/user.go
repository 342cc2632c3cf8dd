// Package model defines the data structures shared across the application.
// Structs here carry no behaviour beyond small helpers; persistence lives in
// the repository layer and business rules in the service layer.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuthProvider identifies how an account was created.
type AuthProvider string

const (
	AuthProviderEmail  AuthProvider = "EMAIL"
	AuthProviderGoogle AuthProvider = "GOOGLE"
)

// User is the root aggregate: instances, billing records, top-ups,
// referrals, SSH keys, and API keys all hang off it.
//
// CreditBalance is a decimal, never a float. Every mutation happens inside
// a transaction that also appends a BillingRecord with the post-mutation
// balance, so the ledger and the live balance can never diverge.
type User struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	FullName      string          `json:"fullName"`
	PasswordHash  string          `json:"-"`
	AuthProvider  AuthProvider    `json:"-"`
	GoogleID      string          `json:"-"`
	CreditBalance decimal.Decimal `json:"creditBalance"`
	ReferralCode  string          `json:"referralCode"`

	EmailVerifiedAt *time.Time `json:"emailVerifiedAt"`

	OnboardingCompleted bool   `json:"onboardingCompleted"`
	OnboardingUserType  string `json:"onboardingUserType,omitempty"`
	OnboardingUseCase   string `json:"onboardingUseCase,omitempty"`
	OnboardingRegion    string `json:"onboardingRegion,omitempty"`
	PreferredRegion     string `json:"preferredRegion,omitempty"`

	NotificationBilling bool `json:"notificationBilling"`
	NotificationProduct bool `json:"notificationProduct"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SSHKey is an uploaded public key. Deleting one nulls the reference on any
// instance that used it rather than cascading the delete.
type SSHKey struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	PublicKey   string    `json:"publicKey"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
}

// APIKey is a programmatic credential. Only the SHA-256 hash is stored; the
// raw key is shown once at creation time.
type APIKey struct {
	ID        string     `json:"id"`
	UserID    string     `json:"-"`
	Name      string     `json:"name"`
	KeyPrefix string     `json:"keyPrefix"`
	KeyHash   string     `json:"-"`
	ExpiresAt *time.Time `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt time.Time  `json:"createdAt"`
}
