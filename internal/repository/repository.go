// Package repository defines the persistence contracts the services depend
// on. Implementations live in subpackages; tests substitute in-memory fakes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/model"
)

// ErrDuplicateEvent is returned by FinalizeTopUp when the webhook event id
// was already recorded for the provider. Redeliveries are a no-op.
var ErrDuplicateEvent = errors.New("repository: duplicate webhook event")

// MarketplaceFilter narrows ListMarketplaceItems results. Zero values mean
// "no constraint".
type MarketplaceFilter struct {
	GPUType   string
	Region    string
	Provider  string
	MinVRAM   int
	MaxPrice  decimal.Decimal
	Available bool
	SortBy    string // "price_asc", "price_desc", "vram_desc"
}

// DeployParams carries everything the deploy transaction needs.
type DeployParams struct {
	Instance    *model.Instance
	CostPerHour decimal.Decimal
	LogMessage  string
}

// TopUpFinalization records the outcome of a payment webhook in one
// transaction: the dedup row, the top-up status change, and, on success, the
// credit to the user's balance.
type TopUpFinalization struct {
	Event       *model.WebhookEvent
	SessionID   string
	FinalStatus model.TopUpStatus
	Credit      bool
}

type UserRepository interface {
	// CreateUser inserts the user together with the welcome-credit ledger
	// entry and, when the account was referred, the PENDING referral row,
	// all in one transaction.
	CreateUser(ctx context.Context, user *model.User, welcome *model.BillingRecord, referral *model.Referral) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

type MarketplaceRepository interface {
	ListMarketplaceItems(ctx context.Context, filter MarketplaceFilter) ([]*model.MarketplaceItem, error)
	GetItemByID(ctx context.Context, id string) (*model.MarketplaceItem, error)
	GetItemBySlug(ctx context.Context, slug string) (*model.MarketplaceItem, error)
}

type InstanceRepository interface {
	// DeployInstance atomically creates the instance, decrements the item's
	// availability, debits the user's balance by the first hour's cost,
	// appends the DEBIT billing record, and writes the first instance log.
	// It fails with the payment-required sentinel when the balance cannot
	// cover the cost and the conflict sentinel when the item is out of
	// capacity; on failure nothing is persisted.
	DeployInstance(ctx context.Context, params DeployParams) error

	GetInstance(ctx context.Context, userID, id string) (*model.Instance, error)
	ListInstances(ctx context.Context, userID string) ([]*model.Instance, error)
	CountInstances(ctx context.Context, userID string) (int, error)
	UpdateInstanceStatus(ctx context.Context, instance *model.Instance) error

	// TerminateInstance moves the instance to TERMINATED and returns the
	// freed capacity to the marketplace item in the same transaction.
	TerminateInstance(ctx context.Context, instance *model.Instance, logMessage string) error

	AppendInstanceLog(ctx context.Context, log *model.InstanceLog) error
	ListInstanceLogs(ctx context.Context, userID, instanceID string) ([]*model.InstanceLog, error)
}

type BillingRepository interface {
	ListBillingRecords(ctx context.Context, userID string, limit int) ([]*model.BillingRecord, error)
	LatestBalanceAfter(ctx context.Context, userID string) (decimal.Decimal, bool, error)
	SumBillingByTypeSince(ctx context.Context, userID string, kind model.BillingType, since time.Time) (decimal.Decimal, error)
}

type CreditRepository interface {
	CreateTopUp(ctx context.Context, topUp *model.CreditTopUp) error
	GetTopUpByID(ctx context.Context, userID, id string) (*model.CreditTopUp, error)
	GetTopUpBySessionID(ctx context.Context, sessionID string) (*model.CreditTopUp, error)
	ListTopUps(ctx context.Context, userID string) ([]*model.CreditTopUp, error)
	CancelTopUp(ctx context.Context, userID, id string) error

	// FinalizeTopUp applies a webhook outcome atomically. It records the
	// event for dedup, updates the top-up row, and credits the balance when
	// Credit is set. Returns ErrDuplicateEvent on redelivery.
	FinalizeTopUp(ctx context.Context, fin TopUpFinalization) error
}

type ReferralRepository interface {
	ListReferrals(ctx context.Context, referrerID string) ([]*model.Referral, error)
	GetPendingReferralByReferred(ctx context.Context, referredID string) (*model.Referral, error)

	// RewardReferral flips a PENDING referral to REWARDED and credits the
	// referrer in one transaction. A referral that is no longer PENDING is
	// left untouched.
	RewardReferral(ctx context.Context, referralID string, amount decimal.Decimal, at time.Time) error
}

type SSHKeyRepository interface {
	CreateSSHKey(ctx context.Context, key *model.SSHKey) error
	ListSSHKeys(ctx context.Context, userID string) ([]*model.SSHKey, error)
	GetSSHKey(ctx context.Context, userID, id string) (*model.SSHKey, error)
	RenameSSHKey(ctx context.Context, userID, id, name string) error
	DeleteSSHKey(ctx context.Context, userID, id string) error
	SSHKeyFingerprintExists(ctx context.Context, userID, fingerprint string) (bool, error)
}

type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error
}

type QuoteRepository interface {
	CreateQuote(ctx context.Context, quote *model.QuoteRequest) error
	ListQuotes(ctx context.Context, userID string) ([]*model.QuoteRequest, error)
	// WithdrawQuote moves a PENDING quote to WITHDRAWN. Settled quotes
	// conflict.
	WithdrawQuote(ctx context.Context, userID, id string) error
}

type PaymentMethodRepository interface {
	CreatePaymentMethod(ctx context.Context, method *model.PaymentMethod) error
	ListPaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, userID, id string) (*model.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, userID, id string) error
	DeletePaymentMethod(ctx context.Context, userID, id string) error
}

type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, invoice *model.Invoice) error
	ListInvoices(ctx context.Context, userID string) ([]*model.Invoice, error)
}

type UsageRepository interface {
	ListUsageSince(ctx context.Context, userID string, since time.Time) ([]*model.UsageRecord, error)
	RecordUsage(ctx context.Context, record *model.UsageRecord) error
}
