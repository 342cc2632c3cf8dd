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

var _ repository.PaymentMethodRepository = (*DB)(nil)

const paymentMethodColumns = `id, user_id, type, provider, brand, last4, exp_month, exp_year, is_default, created_at`

// CreatePaymentMethod inserts the method; a user's first method becomes the
// default automatically.
func (db *DB) CreatePaymentMethod(ctx context.Context, m *model.PaymentMethod) error {
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payment_methods WHERE user_id = ?`, m.UserID,
		).Scan(&count); err != nil {
			return fmt.Errorf("sqlite: counting payment methods for user %s: %w", m.UserID, err)
		}
		if count == 0 {
			m.IsDefault = true
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO payment_methods (id, user_id, type, provider, brand, last4, exp_month, exp_year, is_default, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.Type, m.Provider, m.Brand, m.Last4,
			m.ExpMonth, m.ExpYear, m.IsDefault, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting payment method for user %s: %w", m.UserID, err)
		}
		return nil
	})
}

func scanPaymentMethod(scan func(dest ...any) error) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := scan(&m.ID, &m.UserID, &m.Type, &m.Provider, &m.Brand, &m.Last4,
		&m.ExpMonth, &m.ExpYear, &m.IsDefault, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) ListPaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM payment_methods
		 WHERE user_id = ? ORDER BY is_default DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing payment methods for user %s: %w", userID, err)
	}
	defer rows.Close()

	var methods []*model.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning payment method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (db *DB) GetPaymentMethod(ctx context.Context, userID, id string) (*model.PaymentMethod, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	m, err := scanPaymentMethod(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Payment method")
		}
		return nil, fmt.Errorf("sqlite: getting payment method %s: %w", id, err)
	}
	return m, nil
}

// SetDefaultPaymentMethod clears the previous default and marks the chosen
// method in one transaction so exactly one default exists at a time.
func (db *DB) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = 1 WHERE id = ? AND user_id = ?`, id, userID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: setting default payment method %s: %w", id, err)
		}
		if err := requireRow(res, "Payment method"); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = 0 WHERE user_id = ? AND id != ?`, userID, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: clearing default payment methods for user %s: %w", userID, err)
		}
		return nil
	})
}

func (db *DB) DeletePaymentMethod(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM payment_methods WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting payment method %s: %w", id, err)
	}
	return requireRow(res, "Payment method")
}
