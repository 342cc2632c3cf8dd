package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/shopspring/decimal"
)

var _ repository.BillingRepository = (*DB)(nil)

// insertBillingRecord appends a ledger entry inside an existing transaction.
// Ledger rows are never written outside the transaction that moves the
// balance they snapshot.
func insertBillingRecord(ctx context.Context, tx *sql.Tx, r *model.BillingRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO billing_records
		 (id, user_id, instance_id, type, description, amount, currency, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.InstanceID, r.Type, r.Description,
		r.Amount.String(), r.Currency, r.BalanceAfter.String(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting billing record for user %s: %w", r.UserID, err)
	}
	return nil
}

func (db *DB) ListBillingRecords(ctx context.Context, userID string, limit int) ([]*model.BillingRecord, error) {
	query := `SELECT id, user_id, instance_id, type, description, amount, currency, balance_after, created_at
		 FROM billing_records WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing billing records for user %s: %w", userID, err)
	}
	defer rows.Close()

	var records []*model.BillingRecord
	for rows.Next() {
		var r model.BillingRecord
		var amount, balanceAfter string
		err := rows.Scan(&r.ID, &r.UserID, &r.InstanceID, &r.Type, &r.Description,
			&amount, &r.Currency, &balanceAfter, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning billing record: %w", err)
		}
		if r.Amount, err = scanDecimal(amount); err != nil {
			return nil, fmt.Errorf("sqlite: parsing amount for record %s: %w", r.ID, err)
		}
		if r.BalanceAfter, err = scanDecimal(balanceAfter); err != nil {
			return nil, fmt.Errorf("sqlite: parsing balance_after for record %s: %w", r.ID, err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// LatestBalanceAfter returns the balance_after of the newest ledger entry.
// The boolean is false when the user has no ledger history yet.
func (db *DB) LatestBalanceAfter(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx,
		`SELECT balance_after FROM billing_records
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("sqlite: reading latest balance for user %s: %w", userID, err)
	}
	balance, err := scanDecimal(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("sqlite: parsing latest balance for user %s: %w", userID, err)
	}
	return balance, true, nil
}

// SumBillingByTypeSince totals entries of one type since a cutoff. Amounts
// are summed in Go because the column stores decimal strings.
func (db *DB) SumBillingByTypeSince(ctx context.Context, userID string, kind model.BillingType, since time.Time) (decimal.Decimal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT amount FROM billing_records
		 WHERE user_id = ? AND type = ? AND created_at >= ?`,
		userID, kind, since,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: summing billing for user %s: %w", userID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("sqlite: scanning billing amount: %w", err)
		}
		amount, err := scanDecimal(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sqlite: parsing billing amount: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
