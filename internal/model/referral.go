package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralStatus is PENDING until the referred user's first deployment
// triggers the reward, then REWARDED. The status transition is the
// idempotency guard: a referral is rewarded at most once.
type ReferralStatus string

const (
	ReferralPending  ReferralStatus = "PENDING"
	ReferralRewarded ReferralStatus = "REWARDED"
)

// Referral links a referrer to the user who signed up with their code.
type Referral struct {
	ID                string          `json:"id"`
	ReferrerID        string          `json:"-"`
	ReferredID        string          `json:"-"`
	Code              string          `json:"code"`
	Status            ReferralStatus  `json:"status"`
	RewardAmount      decimal.Decimal `json:"rewardAmount"`
	RewardTriggeredAt *time.Time      `json:"rewardTriggeredAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`

	// Populated for the referrer's dashboard view.
	ReferredUser *ReferredUser `json:"referredUser,omitempty"`
}

// ReferredUser is the slice of the referred account shown to the referrer.
type ReferredUser struct {
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}
