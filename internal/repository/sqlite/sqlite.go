// Package sqlite implements the repository interfaces on an embedded SQLite
// database via modernc.org/sqlite (pure Go, no CGo). A single *DB value
// satisfies every repository interface; multi-entity operations such as
// deploy, terminate, top-up finalization, and referral rewards run inside
// one transaction so the ledger, balances, and capacity counters can never
// drift apart.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// DB wraps the connection pool and implements the repository interfaces.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath, applies pragmas, runs the
// migrations, and seeds the marketplace catalogue when it is empty. Use
// ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY on concurrent writes and
	// keeps ":memory:" databases from fragmenting across pool connections.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads while a write transaction is open.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	if err := db.seedMarketplace(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: seeding marketplace: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error. The rollback error is swallowed since fn's error is the one that
// matters.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                   TEXT PRIMARY KEY,
			email                TEXT NOT NULL UNIQUE,
			full_name            TEXT NOT NULL DEFAULT '',
			password_hash        TEXT NOT NULL DEFAULT '',
			auth_provider        TEXT NOT NULL DEFAULT 'EMAIL',
			google_id            TEXT NOT NULL DEFAULT '',
			credit_balance       TEXT NOT NULL DEFAULT '0',
			referral_code        TEXT NOT NULL UNIQUE,
			email_verified_at    DATETIME,
			onboarding_completed INTEGER NOT NULL DEFAULT 0,
			onboarding_user_type TEXT NOT NULL DEFAULT '',
			onboarding_use_case  TEXT NOT NULL DEFAULT '',
			onboarding_region    TEXT NOT NULL DEFAULT '',
			preferred_region     TEXT NOT NULL DEFAULT '',
			notification_billing INTEGER NOT NULL DEFAULT 1,
			notification_product INTEGER NOT NULL DEFAULT 1,
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_google_id ON users(google_id);

		CREATE TABLE IF NOT EXISTS marketplace_items (
			id             TEXT PRIMARY KEY,
			slug           TEXT NOT NULL UNIQUE,
			name           TEXT NOT NULL,
			gpu_type       TEXT NOT NULL,
			provider       TEXT NOT NULL,
			vram_gb        INTEGER NOT NULL,
			cpu_cores      INTEGER NOT NULL,
			memory_gb      INTEGER NOT NULL,
			storage_gb     INTEGER NOT NULL,
			price_per_hour TEXT NOT NULL,
			region         TEXT NOT NULL,
			availability   INTEGER NOT NULL,
			specs          TEXT NOT NULL DEFAULT '{}',
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL,
			CHECK (availability >= 0)
		);

		CREATE TABLE IF NOT EXISTS instances (
			id                        TEXT PRIMARY KEY,
			user_id                   TEXT NOT NULL REFERENCES users(id),
			marketplace_item_id       TEXT NOT NULL REFERENCES marketplace_items(id),
			ssh_key_id                TEXT REFERENCES ssh_keys(id) ON DELETE SET NULL,
			name                      TEXT NOT NULL,
			region                    TEXT NOT NULL,
			image                     TEXT NOT NULL,
			status                    TEXT NOT NULL,
			cost_per_hour             TEXT NOT NULL,
			launched_at               DATETIME,
			terminated_at             DATETIME,
			provisioning_started_at   DATETIME NOT NULL,
			provisioning_completed_at DATETIME,
			provisioning_eta          DATETIME,
			failure_reason            TEXT,
			last_status_change_at     DATETIME NOT NULL,
			created_at                DATETIME NOT NULL,
			updated_at                DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instances_user ON instances(user_id, created_at);

		CREATE TABLE IF NOT EXISTS instance_logs (
			id          TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			level       TEXT NOT NULL,
			message     TEXT NOT NULL,
			created_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instance_logs_instance ON instance_logs(instance_id, created_at);

		CREATE TABLE IF NOT EXISTS billing_records (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			instance_id   TEXT,
			type          TEXT NOT NULL,
			description   TEXT NOT NULL,
			amount        TEXT NOT NULL,
			currency      TEXT NOT NULL DEFAULT 'USD',
			balance_after TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_billing_user ON billing_records(user_id, created_at);

		CREATE TABLE IF NOT EXISTS credit_topups (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL REFERENCES users(id),
			amount_usd          TEXT NOT NULL,
			provider            TEXT NOT NULL,
			provider_session_id TEXT NOT NULL UNIQUE,
			checkout_url        TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			completed_at        DATETIME,
			created_at          DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS webhook_events (
			id         TEXT PRIMARY KEY,
			provider   TEXT NOT NULL,
			event_id   TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			UNIQUE (provider, event_id)
		);

		CREATE TABLE IF NOT EXISTS referrals (
			id                  TEXT PRIMARY KEY,
			referrer_id         TEXT NOT NULL REFERENCES users(id),
			referred_id         TEXT NOT NULL UNIQUE REFERENCES users(id),
			code                TEXT NOT NULL,
			status              TEXT NOT NULL,
			reward_amount       TEXT NOT NULL DEFAULT '0',
			reward_triggered_at DATETIME,
			created_at          DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);

		CREATE TABLE IF NOT EXISTS ssh_keys (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id),
			name        TEXT NOT NULL,
			public_key  TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			UNIQUE (user_id, fingerprint)
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id),
			name         TEXT NOT NULL,
			key_prefix   TEXT NOT NULL,
			key_hash     TEXT NOT NULL,
			expires_at   DATETIME,
			revoked_at   DATETIME,
			last_used_at DATETIME,
			created_at   DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS quote_requests (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			gpu_type       TEXT NOT NULL,
			quantity       INTEGER NOT NULL,
			duration_hours INTEGER NOT NULL,
			region         TEXT NOT NULL,
			notes          TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			review_notes   TEXT NOT NULL DEFAULT '',
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payment_methods (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			type       TEXT NOT NULL,
			provider   TEXT NOT NULL DEFAULT '',
			brand      TEXT NOT NULL DEFAULT '',
			last4      TEXT NOT NULL,
			exp_month  INTEGER NOT NULL DEFAULT 0,
			exp_year   INTEGER NOT NULL DEFAULT 0,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS invoices (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id),
			number       TEXT NOT NULL UNIQUE,
			total_amount TEXT NOT NULL,
			status       TEXT NOT NULL,
			issued_at    DATETIME NOT NULL,
			due_at       DATETIME,
			paid_at      DATETIME
		);

		CREATE TABLE IF NOT EXISTS usage_records (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL REFERENCES users(id),
			instance_id         TEXT,
			marketplace_item_id TEXT,
			metric_type         TEXT NOT NULL,
			quantity            TEXT NOT NULL,
			region              TEXT NOT NULL DEFAULT '',
			recorded_at         DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_records(user_id, recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

type seedItem struct {
	slug      string
	name      string
	gpuType   string
	provider  string
	vramGb    int
	cpuCores  int
	memoryGb  int
	storageGb int
	price     string
	region    string
	avail     int
	specs     string
}

// seedMarketplace inserts the GPU catalogue on first boot. It only runs when
// the table is empty so operator edits survive restarts.
func (db *DB) seedMarketplace() error {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM marketplace_items`).Scan(&count); err != nil {
		return fmt.Errorf("counting marketplace items: %w", err)
	}
	if count > 0 {
		return nil
	}

	items := []seedItem{
		{"nvidia-h100-sxm", "NVIDIA H100 SXM", "H100", "NVIDIA", 80, 26, 256, 1024, "6.9000", "us-east-1", 17,
			`{"interconnect":"NVLink","cudaCores":16896,"tensorCores":528}`},
		{"nvidia-a100-80gb", "NVIDIA A100 80GB", "A100", "NVIDIA", 80, 16, 128, 512, "3.8500", "us-west-2", 24,
			`{"interconnect":"NVLink","cudaCores":6912,"tensorCores":432}`},
		{"nvidia-l40s", "NVIDIA L40S", "L40S", "NVIDIA", 48, 12, 96, 512, "2.0500", "eu-central-1", 31,
			`{"interconnect":"PCIe","cudaCores":18176,"tensorCores":568}`},
		{"nvidia-rtx-6000-ada", "NVIDIA RTX 6000 Ada", "RTX 6000 Ada", "NVIDIA", 48, 10, 64, 256, "1.6000", "us-east-1", 22,
			`{"interconnect":"PCIe","cudaCores":18176,"tensorCores":568}`},
		{"nvidia-rtx-4090", "NVIDIA RTX 4090", "RTX 4090", "NVIDIA", 24, 8, 64, 256, "0.9800", "ap-south-1", 40,
			`{"interconnect":"PCIe","cudaCores":16384,"tensorCores":512}`},
		{"amd-mi300x", "AMD MI300X", "MI300X", "AMD", 192, 24, 224, 1024, "5.2500", "us-west-2", 12,
			`{"interconnect":"Infinity Fabric","computeUnits":304}`},
	}

	now := time.Now().UTC()
	for _, it := range items {
		// Validate the seed price eagerly; a typo here should fail boot.
		if _, err := decimal.NewFromString(it.price); err != nil {
			return fmt.Errorf("invalid seed price %q for %s: %w", it.price, it.slug, err)
		}
		_, err := db.conn.Exec(
			`INSERT INTO marketplace_items
			 (id, slug, name, gpu_type, provider, vram_gb, cpu_cores, memory_gb, storage_gb,
			  price_per_hour, region, availability, specs, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			xid.New().String(), it.slug, it.name, it.gpuType, it.provider,
			it.vramGb, it.cpuCores, it.memoryGb, it.storageGb,
			it.price, it.region, it.avail, it.specs, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting seed item %s: %w", it.slug, err)
		}
	}
	return nil
}

// scanDecimal parses a TEXT column into a decimal. Empty strings map to
// zero so freshly-defaulted rows scan cleanly.
func scanDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
