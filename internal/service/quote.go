package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// Quote request bounds. Orders below the minimum should go through the
// regular marketplace instead.
const (
	MinQuoteQuantity = 8
	MaxQuoteQuantity = 2048
	MinQuoteHours    = 24
)

// QuoteService accepts bulk-capacity quotation requests for out-of-band
// review.
type QuoteService struct {
	quotes repository.QuoteRepository
	logger *slog.Logger
}

func NewQuoteService(quotes repository.QuoteRepository, logger *slog.Logger) *QuoteService {
	return &QuoteService{quotes: quotes, logger: logger}
}

// Submit validates and records a quote request in PENDING state.
func (s *QuoteService) Submit(ctx context.Context, userID string, req *model.QuoteRequest) (*model.QuoteRequest, error) {
	if strings.TrimSpace(req.GPUType) == "" {
		return nil, apperror.ValidationFailed("gpuType", "GPU type is required.")
	}
	if req.Quantity < MinQuoteQuantity || req.Quantity > MaxQuoteQuantity {
		return nil, apperror.ValidationFailed("quantity",
			"Bulk quotes cover 8 to 2048 GPUs. For smaller orders use the marketplace.")
	}
	if req.DurationHours < MinQuoteHours {
		return nil, apperror.ValidationFailed("durationHours", "Bulk quotes start at 24 hours.")
	}

	req.UserID = userID
	req.Status = model.QuotePending
	req.ReviewNotes = ""
	if err := s.quotes.CreateQuote(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("quote request submitted",
		slog.String("user_id", userID),
		slog.String("gpu_type", req.GPUType),
		slog.Int("quantity", req.Quantity))
	return req, nil
}

// List returns the user's quote requests, newest first.
func (s *QuoteService) List(ctx context.Context, userID string) ([]*model.QuoteRequest, error) {
	return s.quotes.ListQuotes(ctx, userID)
}

// Withdraw pulls a pending quote out of the review queue.
func (s *QuoteService) Withdraw(ctx context.Context, userID, id string) error {
	if err := s.quotes.WithdrawQuote(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("quote withdrawn", slog.String("user_id", userID), slog.String("quote_id", id))
	return nil
}
