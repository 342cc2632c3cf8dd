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
	"github.com/shopspring/decimal"
)

var _ repository.ReferralRepository = (*DB)(nil)

func (db *DB) ListReferrals(ctx context.Context, referrerID string) ([]*model.Referral, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT r.id, r.referrer_id, r.referred_id, r.code, r.status, r.reward_amount,
		        r.reward_triggered_at, r.created_at,
		        u.email, u.full_name, u.created_at
		 FROM referrals r
		 JOIN users u ON u.id = r.referred_id
		 WHERE r.referrer_id = ?
		 ORDER BY r.created_at DESC`,
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing referrals for user %s: %w", referrerID, err)
	}
	defer rows.Close()

	var referrals []*model.Referral
	for rows.Next() {
		var r model.Referral
		var reward string
		var referred model.ReferredUser
		err := rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Code, &r.Status, &reward,
			&r.RewardTriggeredAt, &r.CreatedAt,
			&referred.Email, &referred.FullName, &referred.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning referral: %w", err)
		}
		if r.RewardAmount, err = scanDecimal(reward); err != nil {
			return nil, fmt.Errorf("sqlite: parsing reward for referral %s: %w", r.ID, err)
		}
		r.ReferredUser = &referred
		referrals = append(referrals, &r)
	}
	return referrals, rows.Err()
}

func (db *DB) GetPendingReferralByReferred(ctx context.Context, referredID string) (*model.Referral, error) {
	var r model.Referral
	var reward string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, referrer_id, referred_id, code, status, reward_amount, reward_triggered_at, created_at
		 FROM referrals WHERE referred_id = ? AND status = ?`,
		referredID, model.ReferralPending,
	).Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Code, &r.Status, &reward,
		&r.RewardTriggeredAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("Referral")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting pending referral for user %s: %w", referredID, err)
	}
	if r.RewardAmount, err = scanDecimal(reward); err != nil {
		return nil, fmt.Errorf("sqlite: parsing reward for referral %s: %w", r.ID, err)
	}
	return &r, nil
}

// RewardReferral flips PENDING to REWARDED, credits the referrer, and writes
// the REFERRAL_REWARD ledger entry in one transaction. The status guard in
// the WHERE clause is the idempotency lock: a referral already rewarded by a
// concurrent call makes this a silent no-op.
func (db *DB) RewardReferral(ctx context.Context, referralID string, amount decimal.Decimal, at time.Time) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE referrals SET status = ?, reward_amount = ?, reward_triggered_at = ?
			 WHERE id = ? AND status = ?`,
			model.ReferralRewarded, amount.String(), at,
			referralID, model.ReferralPending,
		)
		if err != nil {
			return fmt.Errorf("sqlite: rewarding referral %s: %w", referralID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: reading rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		var referrerID string
		err = tx.QueryRowContext(ctx,
			`SELECT referrer_id FROM referrals WHERE id = ?`, referralID,
		).Scan(&referrerID)
		if err != nil {
			return fmt.Errorf("sqlite: reading referrer for referral %s: %w", referralID, err)
		}

		balance, err := userBalanceTx(ctx, tx, referrerID)
		if err != nil {
			return err
		}
		newBalance := balance.Add(amount)
		if err := setUserBalanceTx(ctx, tx, referrerID, newBalance, at); err != nil {
			return err
		}

		record := &model.BillingRecord{
			ID:           xid.New().String(),
			UserID:       referrerID,
			Type:         model.BillingReferralReward,
			Description:  "Referral reward: your referral deployed their first instance",
			Amount:       amount,
			Currency:     "USD",
			BalanceAfter: newBalance,
			CreatedAt:    at,
		}
		return insertBillingRecord(ctx, tx, record)
	})
}
