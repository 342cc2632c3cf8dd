package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/payment"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// Top-up bounds in whole USD.
var (
	minTopUpUSD = decimal.NewFromInt(1)
	maxTopUpUSD = decimal.NewFromInt(50000)
)

const paymentProvider = "copperx"

// CreditsSummary is the balance view returned to the dashboard.
type CreditsSummary struct {
	Balance decimal.Decimal       `json:"balance"`
	TopUps  []*model.CreditTopUp  `json:"topUps"`
}

// CheckoutResult is returned after opening a checkout session.
type CheckoutResult struct {
	TopUpID     string `json:"topUpId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// CreditsService manages the credit balance: checkout sessions, the webhook
// that settles them, and top-up cancellation.
type CreditsService struct {
	credits       repository.CreditRepository
	users         repository.UserRepository
	checkout      *payment.Client
	webhookSecret string
	cancelCooldown time.Duration
	logger        *slog.Logger

	now func() time.Time
}

func NewCreditsService(
	credits repository.CreditRepository,
	users repository.UserRepository,
	checkout *payment.Client,
	webhookSecret string,
	cancelCooldown time.Duration,
	logger *slog.Logger,
) *CreditsService {
	return &CreditsService{
		credits:        credits,
		users:          users,
		checkout:       checkout,
		webhookSecret:  webhookSecret,
		cancelCooldown: cancelCooldown,
		logger:         logger,
		now:            time.Now,
	}
}

// Summary returns the live balance and top-up history.
func (s *CreditsService) Summary(ctx context.Context, userID string) (*CreditsSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	topUps, err := s.credits.ListTopUps(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CreditsSummary{Balance: user.CreditBalance, TopUps: topUps}, nil
}

// CreateCheckout opens a provider checkout session for the amount and
// records the PENDING top-up keyed by the provider's session id.
func (s *CreditsService) CreateCheckout(ctx context.Context, userID string, amountUSD decimal.Decimal) (*CheckoutResult, error) {
	if amountUSD.LessThan(minTopUpUSD) {
		return nil, apperror.ValidationFailed("amount", "The minimum top-up is $1.")
	}
	if amountUSD.GreaterThan(maxTopUpUSD) {
		return nil, apperror.ValidationFailed("amount", "The maximum top-up is $50,000.")
	}

	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, amountUSD, map[string]string{
		"userId": userID,
	})
	if err != nil {
		return nil, err
	}

	topUp := &model.CreditTopUp{
		UserID:            userID,
		AmountUSD:         amountUSD,
		Provider:          paymentProvider,
		ProviderSessionID: session.ID,
		CheckoutURL:       session.CheckoutURL,
		Status:            model.TopUpPending,
	}
	if err := s.credits.CreateTopUp(ctx, topUp); err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created",
		slog.String("user_id", userID),
		slog.String("top_up_id", topUp.ID),
		slog.String("amount", amountUSD.String()))

	return &CheckoutResult{TopUpID: topUp.ID, CheckoutURL: session.CheckoutURL}, nil
}

// CancelTopUp lets the user abandon a PENDING top-up, but only after a
// cool-down so a payment already in flight at the provider has time to land.
func (s *CreditsService) CancelTopUp(ctx context.Context, userID, id string) error {
	topUp, err := s.credits.GetTopUpByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if topUp.Status != model.TopUpPending {
		return apperror.Conflict("This top-up has already been settled and can no longer be canceled.")
	}
	if s.now().UTC().Sub(topUp.CreatedAt) < s.cancelCooldown {
		return apperror.Conflict("This top-up was created too recently to cancel. Please wait a few minutes.")
	}
	return s.credits.CancelTopUp(ctx, userID, id)
}

// webhookEvent is the provider payload shape we care about. Session ids have
// appeared under several field names across provider versions, so all of
// them are tried in order.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID                string `json:"id"`
		SessionID         string `json:"sessionId"`
		CheckoutSessionID string `json:"checkoutSessionId"`
	} `json:"data"`
}

func (e *webhookEvent) sessionID() string {
	switch {
	case e.Data.CheckoutSessionID != "":
		return e.Data.CheckoutSessionID
	case e.Data.SessionID != "":
		return e.Data.SessionID
	default:
		return e.Data.ID
	}
}

// HandleWebhook verifies and applies one provider webhook delivery. Events
// are classified by substring because the provider's type taxonomy has
// churned: anything paid/completed settles the session, the known terminal
// failures close it, and everything else is acknowledged and ignored.
// Redeliveries are detected by event id and succeed without re-applying.
func (s *CreditsService) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	if !payment.VerifySignature(s.webhookSecret, body, signatureHeader) {
		return apperror.Unauthorized("Invalid webhook signature.")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperror.ValidationFailed("body", "The webhook payload is not valid JSON.")
	}
	if event.ID == "" {
		return apperror.ValidationFailed("id", "The webhook event has no id.")
	}

	sessionID := event.sessionID()
	if sessionID == "" {
		s.logger.Warn("webhook event carries no session id",
			slog.String("event_id", event.ID), slog.String("type", event.Type))
		return nil
	}

	eventType := strings.ToLower(event.Type)
	var finalStatus model.TopUpStatus
	var credit bool
	switch {
	case strings.Contains(eventType, "paid") || strings.Contains(eventType, "completed"):
		finalStatus, credit = model.TopUpCompleted, true
	case strings.Contains(eventType, "expired"):
		finalStatus = model.TopUpExpired
	case strings.Contains(eventType, "canceled") || strings.Contains(eventType, "cancelled"):
		finalStatus = model.TopUpCanceled
	case strings.Contains(eventType, "failed"):
		finalStatus = model.TopUpFailed
	default:
		s.logger.Info("ignoring webhook event type", slog.String("type", event.Type))
		return nil
	}

	fin := repository.TopUpFinalization{
		Event: &model.WebhookEvent{
			Provider:  paymentProvider,
			EventID:   event.ID,
			EventType: event.Type,
			Payload:   string(body),
		},
		SessionID:   sessionID,
		FinalStatus: finalStatus,
		Credit:      credit,
	}
	err := s.credits.FinalizeTopUp(ctx, fin)
	if errors.Is(err, repository.ErrDuplicateEvent) {
		s.logger.Info("webhook event already processed", slog.String("event_id", event.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("applying webhook event %s: %w", event.ID, err)
	}

	s.logger.Info("webhook event applied",
		slog.String("event_id", event.ID),
		slog.String("session_id", sessionID),
		slog.String("status", string(finalStatus)))
	return nil
}
