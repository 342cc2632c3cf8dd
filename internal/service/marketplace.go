package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// Pricing constants for estimates.
var (
	// storageRatePerGbHour is the additional storage price per GB-hour.
	storageRatePerGbHour = decimal.RequireFromString("0.0007")
	// estimateTaxRate is applied to the subtotal.
	estimateTaxRate = decimal.RequireFromString("0.08")
)

// MaxEstimateHours bounds cost estimates to roughly a year.
const MaxEstimateHours = 24 * 366

// EstimateRequest asks for a projected cost of running a configuration.
type EstimateRequest struct {
	MarketplaceItemID string `json:"marketplaceItemId"`
	Hours             int    `json:"hours"`
	ExtraStorageGb    int    `json:"extraStorageGb"`
}

// Estimate itemises a projected cost. All figures are decimals rounded to
// cents only at presentation.
type Estimate struct {
	ComputeCost decimal.Decimal `json:"computeCost"`
	StorageCost decimal.Decimal `json:"storageCost"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Hours       int             `json:"hours"`
}

// MarketplaceService serves the GPU catalogue and cost estimates.
type MarketplaceService struct {
	marketplace repository.MarketplaceRepository
	logger      *slog.Logger
}

func NewMarketplaceService(marketplace repository.MarketplaceRepository, logger *slog.Logger) *MarketplaceService {
	return &MarketplaceService{marketplace: marketplace, logger: logger}
}

// List returns catalogue entries matching the filter.
func (s *MarketplaceService) List(ctx context.Context, filter repository.MarketplaceFilter) ([]*model.MarketplaceItem, error) {
	switch filter.SortBy {
	case "", "price_asc", "price_desc", "vram_desc":
	default:
		return nil, apperror.ValidationFailed("sort", "Sort must be one of price_asc, price_desc, vram_desc.")
	}
	return s.marketplace.ListMarketplaceItems(ctx, filter)
}

// Get returns one catalogue entry by id or slug.
func (s *MarketplaceService) Get(ctx context.Context, idOrSlug string) (*model.MarketplaceItem, error) {
	item, err := s.marketplace.GetItemByID(ctx, idOrSlug)
	if err == nil {
		return item, nil
	}
	return s.marketplace.GetItemBySlug(ctx, idOrSlug)
}

// EstimateCost projects the cost of a configuration over a number of hours:
// compute at the item's hourly price, extra storage at a flat per-GB-hour
// rate, and tax on top of the subtotal.
func (s *MarketplaceService) EstimateCost(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	if req.Hours <= 0 {
		return nil, apperror.ValidationFailed("hours", "Hours must be a positive number.")
	}
	if req.Hours > MaxEstimateHours {
		return nil, apperror.ValidationFailed("hours", "Estimates are limited to one year of usage.")
	}
	if req.ExtraStorageGb < 0 {
		return nil, apperror.ValidationFailed("extraStorageGb", "Storage cannot be negative.")
	}

	item, err := s.marketplace.GetItemByID(ctx, req.MarketplaceItemID)
	if err != nil {
		return nil, err
	}

	hours := decimal.NewFromInt(int64(req.Hours))
	compute := item.PricePerHour.Mul(hours)
	storage := decimal.NewFromInt(int64(req.ExtraStorageGb)).Mul(storageRatePerGbHour).Mul(hours)
	subtotal := compute.Add(storage)
	tax := subtotal.Mul(estimateTaxRate)

	return &Estimate{
		ComputeCost: compute,
		StorageCost: storage,
		Subtotal:    subtotal,
		Tax:         tax,
		Total:       subtotal.Add(tax),
		Hours:       req.Hours,
	}, nil
}
