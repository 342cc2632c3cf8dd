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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, full_name, password_hash, auth_provider, google_id,
	credit_balance, referral_code, email_verified_at,
	onboarding_completed, onboarding_user_type, onboarding_use_case, onboarding_region,
	preferred_region, notification_billing, notification_product, created_at, updated_at`

// CreateUser inserts the user, the welcome-credit ledger entry, and the
// PENDING referral row (when the signup carried a valid code) in one
// transaction. An email or referral-code collision surfaces as a conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User, welcome *model.BillingRecord, referral *model.Referral) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	return db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users
			 (id, email, full_name, password_hash, auth_provider, google_id,
			  credit_balance, referral_code, email_verified_at,
			  onboarding_completed, onboarding_user_type, onboarding_use_case, onboarding_region,
			  preferred_region, notification_billing, notification_product, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.FullName, user.PasswordHash, user.AuthProvider, user.GoogleID,
			user.CreditBalance.String(), user.ReferralCode, user.EmailVerifiedAt,
			user.OnboardingCompleted, user.OnboardingUserType, user.OnboardingUseCase, user.OnboardingRegion,
			user.PreferredRegion, user.NotificationBilling, user.NotificationProduct, user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return apperror.Conflict("An account with this email already exists.")
			}
			return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
		}

		if welcome != nil {
			welcome.ID = xid.New().String()
			welcome.UserID = user.ID
			welcome.CreatedAt = now
			if err := insertBillingRecord(ctx, tx, welcome); err != nil {
				return err
			}
		}

		if referral != nil {
			referral.ID = xid.New().String()
			referral.ReferredID = user.ID
			referral.Status = model.ReferralPending
			referral.CreatedAt = now
			_, err := tx.ExecContext(ctx,
				`INSERT INTO referrals (id, referrer_id, referred_id, code, status, reward_amount, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				referral.ID, referral.ReferrerID, referral.ReferredID,
				referral.Code, referral.Status, referral.RewardAmount.String(), referral.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("sqlite: inserting referral for user %s: %w", user.ID, err)
			}
		}

		return nil
	})
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var balance string
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.AuthProvider, &u.GoogleID,
		&balance, &u.ReferralCode, &u.EmailVerifiedAt,
		&u.OnboardingCompleted, &u.OnboardingUserType, &u.OnboardingUseCase, &u.OnboardingRegion,
		&u.PreferredRegion, &u.NotificationBilling, &u.NotificationProduct, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.CreditBalance, err = scanDecimal(balance); err != nil {
		return nil, fmt.Errorf("sqlite: parsing balance for user %s: %w", u.ID, err)
	}
	return &u, nil
}

func (db *DB) getUserBy(ctx context.Context, column, value string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("User")
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserBy(ctx, "id", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUserBy(ctx, "email", email)
}

func (db *DB) GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	if googleID == "" {
		return nil, apperror.NotFound("User")
	}
	return db.getUserBy(ctx, "google_id", googleID)
}

func (db *DB) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return db.getUserBy(ctx, "referral_code", code)
}

// UpdateUser persists profile, onboarding, and notification fields. Balance
// is deliberately excluded: it only moves inside ledger transactions.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET full_name = ?, google_id = ?, auth_provider = ?,
		 onboarding_completed = ?, onboarding_user_type = ?, onboarding_use_case = ?, onboarding_region = ?,
		 preferred_region = ?, notification_billing = ?, notification_product = ?, updated_at = ?
		 WHERE id = ?`,
		user.FullName, user.GoogleID, user.AuthProvider,
		user.OnboardingCompleted, user.OnboardingUserType, user.OnboardingUseCase, user.OnboardingRegion,
		user.PreferredRegion, user.NotificationBilling, user.NotificationProduct, user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return requireRow(res, "User")
}

func (db *DB) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %s: %w", id, err)
	}
	return requireRow(res, "User")
}

func (db *DB) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email_verified_at = ?, updated_at = ? WHERE id = ? AND email_verified_at IS NULL`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking email verified for user %s: %w", id, err)
	}
	// Already-verified users fall through silently; verification links can
	// be clicked twice.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: checking user %s: %w", id, err)
		}
		if exists == 0 {
			return apperror.NotFound("User")
		}
	}
	return nil
}

// requireRow converts a zero RowsAffected into a not-found error.
func requireRow(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource)
	}
	return nil
}
