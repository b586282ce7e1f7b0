package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
// Amounts are wei and must hold any uint256, hence NUMERIC(78,0).
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_contents",
		SQL: `
			CREATE TABLE IF NOT EXISTS contents (
				id             BIGINT        PRIMARY KEY,
				title          TEXT          NOT NULL,
				description    TEXT          NOT NULL,
				content_type   SMALLINT      NOT NULL,
				ipfs_hash      TEXT          NOT NULL DEFAULT '',
				embed_url      TEXT          NOT NULL DEFAULT '',
				preview_hash   TEXT          NOT NULL DEFAULT '',
				price          NUMERIC(78,0) NOT NULL,
				creator        VARCHAR(42)   NOT NULL,
				is_active      BOOLEAN       NOT NULL DEFAULT TRUE,
				created_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
				total_earnings NUMERIC(78,0) NOT NULL DEFAULT 0,
				total_sales    BIGINT        NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_contents_creator ON contents(creator, id);
		`,
	},
	{
		Version: "000002_create_access_grants",
		SQL: `
			CREATE TABLE IF NOT EXISTS access_grants (
				buyer       VARCHAR(42)   NOT NULL,
				content_id  BIGINT        NOT NULL REFERENCES contents(id),
				amount_paid NUMERIC(78,0) NOT NULL,
				granted_at  TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
				PRIMARY KEY (buyer, content_id)
			);
		`,
	},
	{
		Version: "000003_create_creator_accounts",
		SQL: `
			CREATE TABLE IF NOT EXISTS creator_accounts (
				creator            VARCHAR(42)   PRIMARY KEY,
				active_content     BIGINT        NOT NULL DEFAULT 0,
				active_earnings    NUMERIC(78,0) NOT NULL DEFAULT 0,
				active_sales       BIGINT        NOT NULL DEFAULT 0,
				lifetime_earnings  NUMERIC(78,0) NOT NULL DEFAULT 0,
				lifetime_sales     BIGINT        NOT NULL DEFAULT 0,
				balance            NUMERIC(78,0) NOT NULL DEFAULT 0,
				total_withdrawn    NUMERIC(78,0) NOT NULL DEFAULT 0,
				last_withdrawal_at TIMESTAMPTZ
			);
		`,
	},
	{
		Version: "000004_create_withdrawals",
		SQL: `
			CREATE TABLE IF NOT EXISTS withdrawals (
				id         BIGSERIAL     PRIMARY KEY,
				creator    VARCHAR(42)   NOT NULL,
				amount     NUMERIC(78,0) NOT NULL,
				reference  VARCHAR(66)   NOT NULL,
				created_at TIMESTAMPTZ   NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_withdrawals_creator ON withdrawals(creator, id);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// Advisory lock keys. Several daemons may share one database.
const (
	migrationLockKey int64 = 0x756e6c6f636b01
	ledgerLockKey    int64 = 0x756e6c6f636b02
)

// RunMigrations applies all pending database migrations in order. A
// session-level advisory lock keeps concurrent daemons from racing.
func (db *DB) RunMigrations(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		err := conn.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		applied++
		slog.Info("applied migration", "version", m.Version)
	}

	slog.Info("schema up to date", "applied", applied, "known", len(migrations))
	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
