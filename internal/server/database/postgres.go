package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_shares",
		SQL: `
			CREATE TABLE IF NOT EXISTS shares (
				id            VARCHAR(36)  PRIMARY KEY,
				slug          VARCHAR(64)  NOT NULL UNIQUE,
				type          VARCHAR(8)   NOT NULL,
				password_hash VARCHAR(255),
				expires_at    TIMESTAMPTZ,
				max_views     INTEGER,
				view_count    INTEGER      NOT NULL DEFAULT 0,
				ip_source     VARCHAR(64)  NOT NULL,
				owner_id      VARCHAR(64),
				is_bulk       BOOLEAN      NOT NULL DEFAULT FALSE,
				file_path     VARCHAR(512),
				original_name VARCHAR(255),
				file_size     BIGINT       NOT NULL DEFAULT 0,
				mime_type     VARCHAR(255),
				created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_shares_expires_at ON shares(expires_at);
			CREATE INDEX IF NOT EXISTS idx_shares_ip_source ON shares(ip_source);
			CREATE INDEX IF NOT EXISTS idx_shares_owner_id ON shares(owner_id);
		`,
	},
	{
		Version: "000002_create_share_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS share_files (
				id            VARCHAR(36)   PRIMARY KEY,
				share_id      VARCHAR(36)   NOT NULL REFERENCES shares(id) ON DELETE CASCADE,
				file_path     VARCHAR(512)  NOT NULL UNIQUE,
				original_name VARCHAR(255)  NOT NULL,
				relative_path VARCHAR(500)  NOT NULL,
				size          BIGINT        NOT NULL,
				mime_type     VARCHAR(255)  NOT NULL,
				position      INTEGER       NOT NULL,
				created_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_share_files_share_id ON share_files(share_id, position);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool. maxConns <= 0 keeps the pgx default.
func New(ctx context.Context, databaseURL string, maxConns int32) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "max_conns", config.MaxConns)
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		if err := db.applyMigration(ctx, m.Version, m.SQL); err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, sql string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
	}
	// Rollback is a no-op after a successful Commit.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}
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
