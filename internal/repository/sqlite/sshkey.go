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

var _ repository.SSHKeyRepository = (*DB)(nil)

func (db *DB) CreateSSHKey(ctx context.Context, key *model.SSHKey) error {
	if key.ID == "" {
		key.ID = xid.New().String()
	}
	key.CreatedAt = time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ssh_keys (id, user_id, name, public_key, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.PublicKey, key.Fingerprint, key.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperror.Conflict("You have already added this SSH key.")
		}
		return fmt.Errorf("sqlite: inserting ssh key for user %s: %w", key.UserID, err)
	}
	return nil
}

func (db *DB) ListSSHKeys(ctx context.Context, userID string) ([]*model.SSHKey, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, name, public_key, fingerprint, created_at
		 FROM ssh_keys WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ssh keys for user %s: %w", userID, err)
	}
	defer rows.Close()

	var keys []*model.SSHKey
	for rows.Next() {
		var k model.SSHKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.PublicKey, &k.Fingerprint, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning ssh key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (db *DB) GetSSHKey(ctx context.Context, userID, id string) (*model.SSHKey, error) {
	var k model.SSHKey
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, name, public_key, fingerprint, created_at
		 FROM ssh_keys WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&k.ID, &k.UserID, &k.Name, &k.PublicKey, &k.Fingerprint, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("SSH key")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting ssh key %s: %w", id, err)
	}
	return &k, nil
}

func (db *DB) RenameSSHKey(ctx context.Context, userID, id, name string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE ssh_keys SET name = ? WHERE id = ? AND user_id = ?`,
		name, id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: renaming ssh key %s: %w", id, err)
	}
	return requireRow(res, "SSH key")
}

func (db *DB) DeleteSSHKey(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM ssh_keys WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting ssh key %s: %w", id, err)
	}
	return requireRow(res, "SSH key")
}

func (db *DB) SSHKeyFingerprintExists(ctx context.Context, userID, fingerprint string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ssh_keys WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking fingerprint for user %s: %w", userID, err)
	}
	return count > 0, nil
}
