package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/rs/xid"
)

var _ repository.UsageRepository = (*DB)(nil)

func (db *DB) RecordUsage(ctx context.Context, r *model.UsageRecord) error {
	if r.ID == "" {
		r.ID = xid.New().String()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO usage_records (id, user_id, instance_id, marketplace_item_id, metric_type, quantity, region, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.InstanceID, r.MarketplaceItemID, r.MetricType,
		r.Quantity.String(), r.Region, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting usage record for user %s: %w", r.UserID, err)
	}
	return nil
}

func (db *DB) ListUsageSince(ctx context.Context, userID string, since time.Time) ([]*model.UsageRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, instance_id, marketplace_item_id, metric_type, quantity, region, recorded_at
		 FROM usage_records WHERE user_id = ? AND recorded_at >= ?
		 ORDER BY recorded_at ASC`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing usage for user %s: %w", userID, err)
	}
	defer rows.Close()

	var records []*model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		var quantity string
		err := rows.Scan(&r.ID, &r.UserID, &r.InstanceID, &r.MarketplaceItemID,
			&r.MetricType, &quantity, &r.Region, &r.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning usage record: %w", err)
		}
		if r.Quantity, err = scanDecimal(quantity); err != nil {
			return nil, fmt.Errorf("sqlite: parsing quantity for usage record %s: %w", r.ID, err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
