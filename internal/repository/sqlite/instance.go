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

var _ repository.InstanceRepository = (*DB)(nil)

const instanceColumns = `i.id, i.user_id, i.marketplace_item_id, i.ssh_key_id, i.name, i.region,
	i.image, i.status, i.cost_per_hour, i.launched_at, i.terminated_at,
	i.provisioning_started_at, i.provisioning_completed_at, i.provisioning_eta,
	i.failure_reason, i.last_status_change_at, i.created_at, i.updated_at,
	m.id, m.name, m.gpu_type, m.provider, m.vram_gb`

// DeployInstance runs the whole deployment as one transaction. The ordering
// of the guards matches the API contract: a missing item is a 404, exhausted
// capacity a 409, and an insufficient balance a 402. Nothing is persisted
// unless every step succeeds.
func (db *DB) DeployInstance(ctx context.Context, params repository.DeployParams) error {
	inst := params.Instance
	cost := params.CostPerHour
	now := time.Now().UTC()

	if inst.ID == "" {
		inst.ID = xid.New().String()
	}
	inst.CreatedAt = now
	inst.UpdatedAt = now

	return db.inTx(ctx, func(tx *sql.Tx) error {
		var availability int
		err := tx.QueryRowContext(ctx,
			`SELECT availability FROM marketplace_items WHERE id = ?`, inst.MarketplaceItemID,
		).Scan(&availability)
		if err == sql.ErrNoRows {
			return apperror.NotFound("Marketplace item")
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading availability for item %s: %w", inst.MarketplaceItemID, err)
		}
		if availability <= 0 {
			return apperror.Conflict("This configuration is currently out of capacity. Please try again later.")
		}

		balance, err := userBalanceTx(ctx, tx, inst.UserID)
		if err != nil {
			return err
		}
		if balance.LessThan(cost) {
			return apperror.PaymentRequired("Insufficient credits. Please top up your balance to deploy this instance.")
		}

		// The availability > 0 guard re-checks under the write lock; a
		// concurrent deploy that won the race makes this a no-op.
		res, err := tx.ExecContext(ctx,
			`UPDATE marketplace_items SET availability = availability - 1, updated_at = ?
			 WHERE id = ? AND availability > 0`,
			now, inst.MarketplaceItemID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: decrementing availability for item %s: %w", inst.MarketplaceItemID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.Conflict("This configuration is currently out of capacity. Please try again later.")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO instances
			 (id, user_id, marketplace_item_id, ssh_key_id, name, region, image, status, cost_per_hour,
			  launched_at, terminated_at, provisioning_started_at, provisioning_completed_at,
			  provisioning_eta, failure_reason, last_status_change_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.UserID, inst.MarketplaceItemID, inst.SSHKeyID, inst.Name, inst.Region,
			inst.Image, inst.Status, inst.CostPerHour.String(),
			inst.LaunchedAt, inst.TerminatedAt, inst.ProvisioningStartedAt, inst.ProvisioningCompletedAt,
			inst.ProvisioningEta, inst.FailureReason, inst.LastStatusChangeAt, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting instance %s: %w", inst.ID, err)
		}

		newBalance := balance.Sub(cost)
		if err := setUserBalanceTx(ctx, tx, inst.UserID, newBalance, now); err != nil {
			return err
		}

		record := &model.BillingRecord{
			ID:           xid.New().String(),
			UserID:       inst.UserID,
			InstanceID:   &inst.ID,
			Type:         model.BillingDebit,
			Description:  fmt.Sprintf("Deployment charge for %s (first hour)", inst.Name),
			Amount:       cost.Neg(),
			Currency:     "USD",
			BalanceAfter: newBalance,
			CreatedAt:    now,
		}
		if err := insertBillingRecord(ctx, tx, record); err != nil {
			return err
		}

		return insertInstanceLogTx(ctx, tx, inst.ID, model.LogInfo, params.LogMessage, now)
	})
}

func scanInstance(scan func(dest ...any) error) (*model.Instance, error) {
	var inst model.Instance
	var cost string
	var item model.MarketplaceItemSummary
	err := scan(
		&inst.ID, &inst.UserID, &inst.MarketplaceItemID, &inst.SSHKeyID, &inst.Name, &inst.Region,
		&inst.Image, &inst.Status, &cost, &inst.LaunchedAt, &inst.TerminatedAt,
		&inst.ProvisioningStartedAt, &inst.ProvisioningCompletedAt, &inst.ProvisioningEta,
		&inst.FailureReason, &inst.LastStatusChangeAt, &inst.CreatedAt, &inst.UpdatedAt,
		&item.ID, &item.Name, &item.GPUType, &item.Provider, &item.VRAMGb,
	)
	if err != nil {
		return nil, err
	}
	if inst.CostPerHour, err = scanDecimal(cost); err != nil {
		return nil, fmt.Errorf("sqlite: parsing cost for instance %s: %w", inst.ID, err)
	}
	inst.MarketplaceItem = &item
	return &inst, nil
}

func (db *DB) GetInstance(ctx context.Context, userID, id string) (*model.Instance, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+instanceColumns+`
		 FROM instances i
		 JOIN marketplace_items m ON m.id = i.marketplace_item_id
		 WHERE i.id = ? AND i.user_id = ?`,
		id, userID,
	)
	inst, err := scanInstance(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("Instance")
		}
		return nil, fmt.Errorf("sqlite: getting instance %s: %w", id, err)
	}
	if err := db.attachSSHKeySummary(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (db *DB) ListInstances(ctx context.Context, userID string) ([]*model.Instance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+instanceColumns+`
		 FROM instances i
		 JOIN marketplace_items m ON m.id = i.marketplace_item_id
		 WHERE i.user_id = ?
		 ORDER BY i.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing instances for user %s: %w", userID, err)
	}
	defer rows.Close()

	var instances []*model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (db *DB) CountInstances(ctx context.Context, userID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instances WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting instances for user %s: %w", userID, err)
	}
	return count, nil
}

// UpdateInstanceStatus persists the lifecycle fields the state machine
// mutates. Capacity and billing are never touched here; transitions that
// affect them go through DeployInstance or TerminateInstance.
func (db *DB) UpdateInstanceStatus(ctx context.Context, inst *model.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE instances SET status = ?, launched_at = ?, terminated_at = ?,
		 provisioning_completed_at = ?, provisioning_eta = ?, failure_reason = ?,
		 last_status_change_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		inst.Status, inst.LaunchedAt, inst.TerminatedAt,
		inst.ProvisioningCompletedAt, inst.ProvisioningEta, inst.FailureReason,
		inst.LastStatusChangeAt, inst.UpdatedAt,
		inst.ID, inst.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating instance %s: %w", inst.ID, err)
	}
	return requireRow(res, "Instance")
}

// TerminateInstance persists the TERMINATED state and returns the slot to
// the marketplace pool in one transaction, so capacity is restored exactly
// once per instance.
func (db *DB) TerminateInstance(ctx context.Context, inst *model.Instance, logMessage string) error {
	now := time.Now().UTC()
	inst.UpdatedAt = now

	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE instances SET status = ?, terminated_at = ?, last_status_change_at = ?, updated_at = ?
			 WHERE id = ? AND user_id = ? AND status != ?`,
			model.StatusTerminated, inst.TerminatedAt, inst.LastStatusChangeAt, inst.UpdatedAt,
			inst.ID, inst.UserID, model.StatusTerminated,
		)
		if err != nil {
			return fmt.Errorf("sqlite: terminating instance %s: %w", inst.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.Conflict("This instance is already terminated.")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE marketplace_items SET availability = availability + 1, updated_at = ?
			 WHERE id = ?`,
			now, inst.MarketplaceItemID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: restoring availability for item %s: %w", inst.MarketplaceItemID, err)
		}

		return insertInstanceLogTx(ctx, tx, inst.ID, model.LogWarn, logMessage, now)
	})
}

func (db *DB) AppendInstanceLog(ctx context.Context, log *model.InstanceLog) error {
	if log.ID == "" {
		log.ID = xid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO instance_logs (id, instance_id, level, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		log.ID, log.InstanceID, log.Level, log.Message, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending log for instance %s: %w", log.InstanceID, err)
	}
	return nil
}

func (db *DB) ListInstanceLogs(ctx context.Context, userID, instanceID string) ([]*model.InstanceLog, error) {
	// Ownership check first so a foreign instance id reads as missing
	// rather than as an empty log.
	var owner string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM instances WHERE id = ?`, instanceID,
	).Scan(&owner)
	if err == sql.ErrNoRows || (err == nil && owner != userID) {
		return nil, apperror.NotFound("Instance")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking instance %s: %w", instanceID, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, instance_id, level, message, created_at
		 FROM instance_logs WHERE instance_id = ?
		 ORDER BY created_at ASC, id ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing logs for instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	var logs []*model.InstanceLog
	for rows.Next() {
		var l model.InstanceLog
		if err := rows.Scan(&l.ID, &l.InstanceID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning instance log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (db *DB) attachSSHKeySummary(ctx context.Context, inst *model.Instance) error {
	if inst.SSHKeyID == nil {
		return nil
	}
	var s model.SSHKeySummary
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, fingerprint FROM ssh_keys WHERE id = ?`, *inst.SSHKeyID,
	).Scan(&s.ID, &s.Name, &s.Fingerprint)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: loading ssh key for instance %s: %w", inst.ID, err)
	}
	inst.SSHKey = &s
	return nil
}

func insertInstanceLogTx(ctx context.Context, tx *sql.Tx, instanceID string, level model.LogLevel, message string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO instance_logs (id, instance_id, level, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		xid.New().String(), instanceID, level, message, at,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting log for instance %s: %w", instanceID, err)
	}
	return nil
}

func userBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT credit_balance FROM users WHERE id = ?`, userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, apperror.NotFound("User")
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: reading balance for user %s: %w", userID, err)
	}
	balance, err := scanDecimal(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: parsing balance for user %s: %w", userID, err)
	}
	return balance, nil
}

func setUserBalanceTx(ctx context.Context, tx *sql.Tx, userID string, balance decimal.Decimal, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET credit_balance = ?, updated_at = ? WHERE id = ?`,
		balance.String(), at, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing balance for user %s: %w", userID, err)
	}
	return requireRow(res, "User")
}
