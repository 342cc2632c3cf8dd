package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingType classifies ledger entries.
type BillingType string

const (
	BillingDebit          BillingType = "DEBIT"
	BillingCredit         BillingType = "CREDIT"
	BillingReferralReward BillingType = "REFERRAL_REWARD"
)

// BillingRecord is an append-only ledger entry. Amount is signed (debits are
// negative) and BalanceAfter snapshots the user's balance immediately after
// the mutation. A record is only ever created inside the same transaction as
// the balance change it describes.
type BillingRecord struct {
	ID           string          `json:"id"`
	UserID       string          `json:"-"`
	InstanceID   *string         `json:"instanceId,omitempty"`
	Type         BillingType     `json:"type"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TopUpStatus enumerates the states of an external payment intent.
type TopUpStatus string

const (
	TopUpPending   TopUpStatus = "PENDING"
	TopUpCompleted TopUpStatus = "COMPLETED"
	TopUpFailed    TopUpStatus = "FAILED"
	TopUpCanceled  TopUpStatus = "CANCELED"
	TopUpExpired   TopUpStatus = "EXPIRED"
)

// CreditTopUp tracks one provider checkout session, keyed 1:1 by the
// provider's session id. Only the PENDING → COMPLETED transition credits the
// balance; all other terminal states leave it untouched.
type CreditTopUp struct {
	ID                string          `json:"id"`
	UserID            string          `json:"-"`
	AmountUSD         decimal.Decimal `json:"amountUsd"`
	Provider          string          `json:"provider"`
	ProviderSessionID string          `json:"-"`
	CheckoutURL       string          `json:"checkoutUrl,omitempty"`
	Status            TopUpStatus     `json:"status"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// WebhookEvent records a processed provider event. The unique
// (provider, eventID) pair is the idempotency guard: re-delivery of an
// already-seen event is a no-op success.
type WebhookEvent struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Payload   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentMethodType distinguishes stored payment instruments.
type PaymentMethodType string

const (
	PaymentCard PaymentMethodType = "CARD"
	PaymentBank PaymentMethodType = "BANK"
)

// PaymentMethod stores only the displayable tail of a card or account.
type PaymentMethod struct {
	ID        string            `json:"id"`
	UserID    string            `json:"-"`
	Type      PaymentMethodType `json:"type"`
	Provider  string            `json:"provider"`
	Brand     string            `json:"brand"`
	Last4     string            `json:"last4"`
	ExpMonth  int               `json:"expMonth"`
	ExpYear   int               `json:"expYear"`
	IsDefault bool              `json:"isDefault"`
	CreatedAt time.Time         `json:"createdAt"`
}

// InvoiceStatus enumerates invoice settlement states.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "OPEN"
	InvoicePaid InvoiceStatus = "PAID"
	InvoiceVoid InvoiceStatus = "VOID"
)

// Invoice aggregates a month of activity.
type Invoice struct {
	ID          string          `json:"id"`
	UserID      string          `json:"-"`
	Number      string          `json:"number"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      InvoiceStatus   `json:"status"`
	IssuedAt    time.Time       `json:"issuedAt"`
	DueAt       *time.Time      `json:"dueAt,omitempty"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
}
