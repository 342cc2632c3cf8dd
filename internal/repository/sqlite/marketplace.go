package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

var _ repository.MarketplaceRepository = (*DB)(nil)

const marketplaceColumns = `id, slug, name, gpu_type, provider, vram_gb, cpu_cores,
	memory_gb, storage_gb, price_per_hour, region, availability, specs, created_at, updated_at`

func scanMarketplaceItem(scan func(dest ...any) error) (*model.MarketplaceItem, error) {
	var m model.MarketplaceItem
	var price, specs string
	err := scan(
		&m.ID, &m.Slug, &m.Name, &m.GPUType, &m.Provider, &m.VRAMGb, &m.CPUCores,
		&m.MemoryGb, &m.StorageGb, &price, &m.Region, &m.Availability, &specs,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.PricePerHour, err = scanDecimal(price); err != nil {
		return nil, fmt.Errorf("sqlite: parsing price for item %s: %w", m.ID, err)
	}
	if specs != "" {
		m.Specs = json.RawMessage(specs)
	}
	return &m, nil
}

// ListMarketplaceItems returns catalogue entries matching the filter.
// Sorting defaults to price ascending.
func (db *DB) ListMarketplaceItems(ctx context.Context, filter repository.MarketplaceFilter) ([]*model.MarketplaceItem, error) {
	query := `SELECT ` + marketplaceColumns + ` FROM marketplace_items WHERE 1=1`
	var args []any

	if filter.GPUType != "" {
		query += ` AND gpu_type = ?`
		args = append(args, filter.GPUType)
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.MinVRAM > 0 {
		query += ` AND vram_gb >= ?`
		args = append(args, filter.MinVRAM)
	}
	if filter.Available {
		query += ` AND availability > 0`
	}

	switch filter.SortBy {
	case "price_desc":
		query += ` ORDER BY CAST(price_per_hour AS REAL) DESC`
	case "vram_desc":
		query += ` ORDER BY vram_gb DESC`
	default:
		query += ` ORDER BY CAST(price_per_hour AS REAL) ASC`
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing marketplace items: %w", err)
	}
	defer rows.Close()

	var items []*model.MarketplaceItem
	for rows.Next() {
		m, err := scanMarketplaceItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning marketplace item: %w", err)
		}
		// The max-price bound compares decimals in Go since the column is
		// TEXT; the catalogue is small enough that post-filtering is fine.
		if !filter.MaxPrice.IsZero() && m.PricePerHour.GreaterThan(filter.MaxPrice) {
			continue
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (db *DB) getMarketplaceBy(ctx context.Context, column, value string) (*model.MarketplaceItem, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+marketplaceColumns+` FROM marketplace_items WHERE `+column+` = ?`, value)
	m, err := scanMarketplaceItem(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Marketplace item")
		}
		return nil, fmt.Errorf("sqlite: getting marketplace item by %s: %w", column, err)
	}
	return m, nil
}

func (db *DB) GetItemByID(ctx context.Context, id string) (*model.MarketplaceItem, error) {
	return db.getMarketplaceBy(ctx, "id", id)
}

func (db *DB) GetItemBySlug(ctx context.Context, slug string) (*model.MarketplaceItem, error) {
	return db.getMarketplaceBy(ctx, "slug", slug)
}
