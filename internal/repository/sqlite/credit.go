package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/rs/xid"
)

var _ repository.CreditRepository = (*DB)(nil)

const topUpColumns = `id, user_id, amount_usd, provider, provider_session_id,
	checkout_url, status, completed_at, created_at`

func (db *DB) CreateTopUp(ctx context.Context, t *model.CreditTopUp) error {
	if t.ID == "" {
		t.ID = xid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credit_topups
		 (id, user_id, amount_usd, provider, provider_session_id, checkout_url, status, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AmountUSD.String(), t.Provider, t.ProviderSessionID,
		t.CheckoutURL, t.Status, t.CompletedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting top-up for user %s: %w", t.UserID, err)
	}
	return nil
}

func scanTopUp(scan func(dest ...any) error) (*model.CreditTopUp, error) {
	var t model.CreditTopUp
	var amount string
	err := scan(&t.ID, &t.UserID, &amount, &t.Provider, &t.ProviderSessionID,
		&t.CheckoutURL, &t.Status, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.AmountUSD, err = scanDecimal(amount); err != nil {
		return nil, fmt.Errorf("sqlite: parsing amount for top-up %s: %w", t.ID, err)
	}
	return &t, nil
}

func (db *DB) GetTopUpByID(ctx context.Context, userID, id string) (*model.CreditTopUp, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+topUpColumns+` FROM credit_topups WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTopUp(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Top-up")
		}
		return nil, fmt.Errorf("sqlite: getting top-up %s: %w", id, err)
	}
	return t, nil
}

func (db *DB) GetTopUpBySessionID(ctx context.Context, sessionID string) (*model.CreditTopUp, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+topUpColumns+` FROM credit_topups WHERE provider_session_id = ?`, sessionID)
	t, err := scanTopUp(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Top-up")
		}
		return nil, fmt.Errorf("sqlite: getting top-up by session %s: %w", sessionID, err)
	}
	return t, nil
}

func (db *DB) ListTopUps(ctx context.Context, userID string) ([]*model.CreditTopUp, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+topUpColumns+` FROM credit_topups WHERE user_id = ?
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing top-ups for user %s: %w", userID, err)
	}
	defer rows.Close()

	var topUps []*model.CreditTopUp
	for rows.Next() {
		t, err := scanTopUp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning top-up: %w", err)
		}
		topUps = append(topUps, t)
	}
	return topUps, rows.Err()
}

// CancelTopUp moves a still-PENDING top-up to CANCELED. Guarding on the
// status in the WHERE clause makes the webhook race safe: once the provider
// has settled the session this update is a no-op and surfaces as a conflict.
func (db *DB) CancelTopUp(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE credit_topups SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		model.TopUpCanceled, id, userID, model.TopUpPending,
	)
	if err != nil {
		return fmt.Errorf("sqlite: canceling top-up %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM credit_topups WHERE id = ? AND user_id = ?`, id, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: checking top-up %s: %w", id, err)
		}
		if exists == 0 {
			return apperror.NotFound("Top-up")
		}
		return apperror.Conflict("This top-up has already been settled and can no longer be canceled.")
	}
	return nil
}

// FinalizeTopUp applies a webhook outcome in one transaction. The unique
// (provider, event_id) index is the dedup guard: a redelivered event fails
// the insert and the whole transaction rolls back before any balance change.
func (db *DB) FinalizeTopUp(ctx context.Context, fin repository.TopUpFinalization) error {
	now := time.Now().UTC()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		event := fin.Event
		if event.ID == "" {
			event.ID = xid.New().String()
		}
		event.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhook_events (id, provider, event_id, event_type, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			event.ID, event.Provider, event.EventID, event.EventType, event.Payload, event.CreatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return repository.ErrDuplicateEvent
			}
			return fmt.Errorf("sqlite: recording webhook event %s: %w", event.EventID, err)
		}

		// A paid session credits unless it already completed; the provider
		// holds the money even when the user canceled moments earlier.
		// Failure outcomes only move a still-PENDING session.
		var completedAt *time.Time
		if fin.FinalStatus == model.TopUpCompleted {
			completedAt = &now
		}
		statusGuard := `status = ?`
		guardStatus := model.TopUpPending
		if fin.Credit {
			statusGuard = `status != ?`
			guardStatus = model.TopUpCompleted
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_topups SET status = ?, completed_at = ?
			 WHERE provider_session_id = ? AND `+statusGuard,
			fin.FinalStatus, completedAt, fin.SessionID, guardStatus,
		)
		if err != nil {
			return fmt.Errorf("sqlite: finalizing top-up session %s: %w", fin.SessionID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: reading rows affected: %w", err)
		}
		if n == 0 || !fin.Credit {
			return nil
		}

		topUp, err := scanTopUp(tx.QueryRowContext(ctx,
			`SELECT `+topUpColumns+` FROM credit_topups WHERE provider_session_id = ?`,
			fin.SessionID,
		).Scan)
		if err != nil {
			return fmt.Errorf("sqlite: reloading top-up session %s: %w", fin.SessionID, err)
		}

		balance, err := userBalanceTx(ctx, tx, topUp.UserID)
		if err != nil {
			return err
		}
		newBalance := balance.Add(topUp.AmountUSD)
		if err := setUserBalanceTx(ctx, tx, topUp.UserID, newBalance, now); err != nil {
			return err
		}

		record := &model.BillingRecord{
			ID:           xid.New().String(),
			UserID:       topUp.UserID,
			Type:         model.BillingCredit,
			Description:  fmt.Sprintf("Credit top-up via %s", topUp.Provider),
			Amount:       topUp.AmountUSD,
			Currency:     "USD",
			BalanceAfter: newBalance,
			CreatedAt:    now,
		}
		return insertBillingRecord(ctx, tx, record)
	})
}
