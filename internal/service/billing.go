package service

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/theplant/luhn"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

var cardNumberPattern = regexp.MustCompile(`^\d{12,19}$`)

// BillingOverview is the billing page summary.
type BillingOverview struct {
	Balance        decimal.Decimal        `json:"balance"`
	SpendThisMonth decimal.Decimal        `json:"spendThisMonth"`
	Records        []*model.BillingRecord `json:"records"`
	Invoices       []*model.Invoice       `json:"invoices"`
}

// AddPaymentMethodRequest carries the raw card details. Only the brand and
// the last four digits are retained.
type AddPaymentMethodRequest struct {
	CardNumber string `json:"cardNumber"`
	ExpMonth   int    `json:"expMonth"`
	ExpYear    int    `json:"expYear"`
	Brand      string `json:"brand"`
}

// BillingService serves the ledger, invoices, and stored payment methods.
type BillingService struct {
	billing  repository.BillingRepository
	invoices repository.InvoiceRepository
	methods  repository.PaymentMethodRepository
	users    repository.UserRepository
	usage    repository.UsageRepository
	logger   *slog.Logger

	now func() time.Time
}

func NewBillingService(
	billing repository.BillingRepository,
	invoices repository.InvoiceRepository,
	methods repository.PaymentMethodRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	logger *slog.Logger,
) *BillingService {
	return &BillingService{
		billing:  billing,
		invoices: invoices,
		methods:  methods,
		users:    users,
		usage:    usage,
		logger:   logger,
		now:      time.Now,
	}
}

// Overview aggregates the balance, this month's spend, recent ledger
// entries, and invoices.
func (s *BillingService) Overview(ctx context.Context, userID string) (*BillingOverview, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	spend, err := s.billing.SumBillingByTypeSince(ctx, userID, model.BillingDebit, monthStart)
	if err != nil {
		return nil, err
	}

	records, err := s.billing.ListBillingRecords(ctx, userID, 50)
	if err != nil {
		return nil, err
	}

	invoices, err := s.invoices.ListInvoices(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &BillingOverview{
		Balance:        user.CreditBalance,
		SpendThisMonth: spend.Neg(), // debits are stored negative
		Records:        records,
		Invoices:       invoices,
	}, nil
}

// History returns the full ledger, newest first.
func (s *BillingService) History(ctx context.Context, userID string, limit int) ([]*model.BillingRecord, error) {
	if limit < 0 {
		return nil, apperror.ValidationFailed("limit", "Limit cannot be negative.")
	}
	return s.billing.ListBillingRecords(ctx, userID, limit)
}

// AddPaymentMethod validates and stores a card. The number must be 12 to 19
// digits and pass the Luhn check; the expiry must be in the future.
func (s *BillingService) AddPaymentMethod(ctx context.Context, userID string, req AddPaymentMethodRequest) (*model.PaymentMethod, error) {
	number := strings.ReplaceAll(strings.TrimSpace(req.CardNumber), " ", "")
	if !cardNumberPattern.MatchString(number) {
		return nil, apperror.ValidationFailed("cardNumber", "Card number must be 12 to 19 digits.")
	}
	// A full 19-digit number overflows int64; validate the payload against
	// its check digit instead.
	payload, err := strconv.Atoi(number[:len(number)-1])
	if err != nil || luhn.CalculateLuhn(payload) != int(number[len(number)-1]-'0') {
		return nil, apperror.ValidationFailed("cardNumber", "This card number is not valid.")
	}

	if req.ExpMonth < 1 || req.ExpMonth > 12 {
		return nil, apperror.ValidationFailed("expMonth", "Expiry month must be between 1 and 12.")
	}
	now := s.now().UTC()
	if req.ExpYear < now.Year() ||
		(req.ExpYear == now.Year() && time.Month(req.ExpMonth) < now.Month()) {
		return nil, apperror.ValidationFailed("expYear", "This card has expired.")
	}

	method := &model.PaymentMethod{
		UserID:   userID,
		Type:     model.PaymentCard,
		Brand:    strings.TrimSpace(req.Brand),
		Last4:    number[len(number)-4:],
		ExpMonth: req.ExpMonth,
		ExpYear:  req.ExpYear,
	}
	if err := s.methods.CreatePaymentMethod(ctx, method); err != nil {
		return nil, err
	}

	s.logger.Info("payment method added",
		slog.String("user_id", userID), slog.String("last4", method.Last4))
	return method, nil
}

func (s *BillingService) ListPaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error) {
	return s.methods.ListPaymentMethods(ctx, userID)
}

func (s *BillingService) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	return s.methods.SetDefaultPaymentMethod(ctx, userID, id)
}

func (s *BillingService) DeletePaymentMethod(ctx context.Context, userID, id string) error {
	method, err := s.methods.GetPaymentMethod(ctx, userID, id)
	if err != nil {
		return err
	}
	if method.IsDefault {
		others, err := s.methods.ListPaymentMethods(ctx, userID)
		if err != nil {
			return err
		}
		if len(others) > 1 {
			return apperror.Conflict("Set another payment method as default before removing this one.")
		}
	}
	return s.methods.DeletePaymentMethod(ctx, userID, id)
}

// Usage returns the metered usage datapoints from the last 30 days, oldest
// first, for the billing page charts.
// UsageBreakdown aggregates the trailing 30 days of metered usage.
type UsageBreakdown struct {
	Records    []*model.UsageRecord       `json:"records"`
	ByRegion   map[string]decimal.Decimal `json:"byRegion"`
	ByInstance map[string]decimal.Decimal `json:"byInstance"`
	Total      decimal.Decimal            `json:"total"`
}

func (s *BillingService) Usage(ctx context.Context, userID string) (*UsageBreakdown, error) {
	since := s.now().UTC().AddDate(0, 0, -30)
	records, err := s.usage.ListUsageSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	breakdown := &UsageBreakdown{
		Records:    records,
		ByRegion:   make(map[string]decimal.Decimal),
		ByInstance: make(map[string]decimal.Decimal),
	}
	for _, rec := range records {
		breakdown.Total = breakdown.Total.Add(rec.Quantity)
		breakdown.ByRegion[rec.Region] = breakdown.ByRegion[rec.Region].Add(rec.Quantity)
		if rec.InstanceID != nil {
			breakdown.ByInstance[*rec.InstanceID] = breakdown.ByInstance[*rec.InstanceID].Add(rec.Quantity)
		}
	}
	return breakdown, nil
}
