package sqlite

import (
	"context"
	"fmt"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/rs/xid"
)

var _ repository.InvoiceRepository = (*DB)(nil)

func (db *DB) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv.ID == "" {
		inv.ID = xid.New().String()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO invoices (id, user_id, number, total_amount, status, issued_at, due_at, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.UserID, inv.Number, inv.TotalAmount.String(), inv.Status,
		inv.IssuedAt, inv.DueAt, inv.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting invoice %s: %w", inv.Number, err)
	}
	return nil
}

func (db *DB) ListInvoices(ctx context.Context, userID string) ([]*model.Invoice, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, number, total_amount, status, issued_at, due_at, paid_at
		 FROM invoices WHERE user_id = ? ORDER BY issued_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing invoices for user %s: %w", userID, err)
	}
	defer rows.Close()

	var invoices []*model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var total string
		err := rows.Scan(&inv.ID, &inv.UserID, &inv.Number, &total, &inv.Status,
			&inv.IssuedAt, &inv.DueAt, &inv.PaidAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning invoice: %w", err)
		}
		if inv.TotalAmount, err = scanDecimal(total); err != nil {
			return nil, fmt.Errorf("sqlite: parsing total for invoice %s: %w", inv.ID, err)
		}
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}
