package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

func newMarketplaceFixture(t *testing.T) (*memStore, *MarketplaceService, *model.MarketplaceItem) {
	t.Helper()
	store := newMemStore()
	item := store.addItem(&model.MarketplaceItem{
		Slug:         "nvidia-l40s",
		Name:         "NVIDIA L40S",
		GPUType:      "L40S",
		PricePerHour: decimal.RequireFromString("2.05"),
		Region:       "eu-central-1",
		Availability: 5,
	})
	return store, NewMarketplaceService(store, testLogger()), item
}

func TestEstimateCost(t *testing.T) {
	_, svc, item := newMarketplaceFixture(t)

	est, err := svc.EstimateCost(context.Background(), EstimateRequest{
		MarketplaceItemID: item.ID,
		Hours:             10,
		ExtraStorageGb:    100,
	})
	require.NoError(t, err)

	// compute: 2.05 * 10 = 20.50
	// storage: 100 * 0.0007 * 10 = 0.70
	// subtotal: 21.20, tax 8%: 1.696, total: 22.896
	assert.True(t, est.ComputeCost.Equal(decimal.RequireFromString("20.50")), "compute = %s", est.ComputeCost)
	assert.True(t, est.StorageCost.Equal(decimal.RequireFromString("0.70")), "storage = %s", est.StorageCost)
	assert.True(t, est.Subtotal.Equal(decimal.RequireFromString("21.20")), "subtotal = %s", est.Subtotal)
	assert.True(t, est.Tax.Equal(decimal.RequireFromString("1.696")), "tax = %s", est.Tax)
	assert.True(t, est.Total.Equal(decimal.RequireFromString("22.896")), "total = %s", est.Total)
}

func TestEstimateCost_Validation(t *testing.T) {
	_, svc, item := newMarketplaceFixture(t)
	ctx := context.Background()

	_, err := svc.EstimateCost(ctx, EstimateRequest{MarketplaceItemID: item.ID, Hours: 0})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.EstimateCost(ctx, EstimateRequest{MarketplaceItemID: item.ID, Hours: 10, ExtraStorageGb: -1})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.EstimateCost(ctx, EstimateRequest{MarketplaceItemID: "missing", Hours: 10})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestMarketplaceList_RejectsUnknownSort(t *testing.T) {
	_, svc, _ := newMarketplaceFixture(t)

	_, err := svc.List(context.Background(), repository.MarketplaceFilter{SortBy: "cheapest"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestMarketplaceGet_FallsBackToSlug(t *testing.T) {
	_, svc, item := newMarketplaceFixture(t)
	ctx := context.Background()

	byID, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, byID.ID)

	bySlug, err := svc.Get(ctx, "nvidia-l40s")
	require.NoError(t, err)
	assert.Equal(t, item.ID, bySlug.ID)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
