package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/rs/xid"
)

var _ repository.QuoteRepository = (*DB)(nil)

func (db *DB) CreateQuote(ctx context.Context, q *model.QuoteRequest) error {
	if q.ID == "" {
		q.ID = xid.New().String()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO quote_requests
		 (id, user_id, gpu_type, quantity, duration_hours, region, notes, status, review_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.GPUType, q.Quantity, q.DurationHours, q.Region,
		q.Notes, q.Status, q.ReviewNotes, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting quote for user %s: %w", q.UserID, err)
	}
	return nil
}

func (db *DB) ListQuotes(ctx context.Context, userID string) ([]*model.QuoteRequest, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, gpu_type, quantity, duration_hours, region, notes, status, review_notes, created_at, updated_at
		 FROM quote_requests WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing quotes for user %s: %w", userID, err)
	}
	defer rows.Close()

	var quotes []*model.QuoteRequest
	for rows.Next() {
		var q model.QuoteRequest
		err := rows.Scan(&q.ID, &q.UserID, &q.GPUType, &q.Quantity, &q.DurationHours,
			&q.Region, &q.Notes, &q.Status, &q.ReviewNotes, &q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning quote: %w", err)
		}
		quotes = append(quotes, &q)
	}
	return quotes, rows.Err()
}

func (db *DB) WithdrawQuote(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE quote_requests SET status = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status = ?`,
		model.QuoteWithdrawn, time.Now().UTC(), id, userID, model.QuotePending,
	)
	if err != nil {
		return fmt.Errorf("sqlite: withdrawing quote %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: withdrawing quote %s: %w", id, err)
	}
	if rows == 0 {
		var status string
		err := db.conn.QueryRowContext(ctx,
			`SELECT status FROM quote_requests WHERE id = ? AND user_id = ?`,
			id, userID,
		).Scan(&status)
		if err == sql.ErrNoRows {
			return apperror.NotFound("Quote request")
		}
		if err != nil {
			return fmt.Errorf("sqlite: checking quote %s: %w", id, err)
		}
		return apperror.Conflict("This quote has already been reviewed and can no longer be withdrawn.")
	}
	return nil
}
