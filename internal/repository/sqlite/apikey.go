package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/rs/xid"
)

var _ repository.APIKeyRepository = (*DB)(nil)

func (db *DB) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = xid.New().String()
	}
	key.CreatedAt = time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, expires_at, revoked_at, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash,
		key.ExpiresAt, key.RevokedAt, key.LastUsedAt, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting api key for user %s: %w", key.UserID, err)
	}
	return nil
}

func (db *DB) ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, name, key_prefix, key_hash, expires_at, revoked_at, last_used_at, created_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing api keys for user %s: %w", userID, err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		var k model.APIKey
		err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash,
			&k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt, &k.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (db *DB) DeleteAPIKey(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting api key %s: %w", id, err)
	}
	return requireRow(res, "API key")
}
