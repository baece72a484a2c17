package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/voxnote/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash TEXT NOT NULL,
					billing_customer_handle VARCHAR(255) UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create plans table",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id BIGSERIAL PRIMARY KEY,
					plan_type VARCHAR(32) NOT NULL UNIQUE
						CHECK (plan_type IN ('free', 'standard', 'pro')),
					price_cents BIGINT NOT NULL DEFAULT 0 CHECK (price_cents >= 0),
					max_uploads INT NOT NULL CHECK (max_uploads >= 0),
					max_recording_time INT NOT NULL CHECK (max_recording_time >= 0),
					price_handle VARCHAR(255) UNIQUE
				);
			`,
		},
		{
			Version:     3,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					renewal_date TIMESTAMPTZ NOT NULL,
					uploads_left INT NOT NULL CHECK (uploads_left >= 0),
					recording_time_left INT NOT NULL CHECK (recording_time_left >= 0),
					billing_subscription_handle VARCHAR(255) UNIQUE,
					billing_event_at TIMESTAMPTZ,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_renewal
					ON subscriptions(plan_id, renewal_date);
			`,
		},
		{
			Version:     4,
			Description: "Create notes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notes (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL DEFAULT 'Untitled Note',
					type VARCHAR(32) NOT NULL
						CHECK (type IN ('transcription', 'summary', 'list-of-ideas')),
					content TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_notes_user_created
					ON notes(user_id, created_at DESC);
			`,
		},
		{
			Version:     5,
			Description: "Track paid period end on subscriptions",
			SQL: `
				ALTER TABLE subscriptions ADD COLUMN IF NOT EXISTS paid_through TIMESTAMPTZ;
			`,
		},
	}
}

// RunMigrations applies pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
