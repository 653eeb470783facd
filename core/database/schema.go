package database

import (
	"context"
	"fmt"

	"calendar-sync-api/core/logger"
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS calendar_connections (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		provider_account_email TEXT NOT NULL DEFAULT '',
		provider_account_uri TEXT NOT NULL DEFAULT '',
		provider_organization_uri TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT false,
		transcription_enabled BOOLEAN NOT NULL DEFAULT false,
		sync_method TEXT NOT NULL DEFAULT 'polling',
		last_sync_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS calendar_connections_one_active
		ON calendar_connections (user_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		connection_id UUID NOT NULL REFERENCES calendar_connections(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		provider TEXT NOT NULL,
		external_subscription_id TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		signing_key TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT 'user',
		callback_url TEXT NOT NULL,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT webhook_subscriptions_user_scope CHECK (scope = 'user'),
		UNIQUE (connection_id),
		UNIQUE (provider, external_subscription_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_cursors (
		connection_id UUID PRIMARY KEY REFERENCES calendar_connections(id) ON DELETE CASCADE,
		cursor TEXT NOT NULL DEFAULT '',
		page_token TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS meetings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		connection_id UUID,
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		attendees JSONB NOT NULL DEFAULT '[]',
		meeting_url TEXT,
		location TEXT,
		description TEXT,
		is_deleted BOOLEAN NOT NULL DEFAULT false,
		deleted_at TIMESTAMPTZ,
		sync_status TEXT NOT NULL DEFAULT 'active',
		last_calendar_sync TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		recall_bot_id TEXT,
		recall_status TEXT,
		recall_error TEXT,
		transcript TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, provider, external_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS meetings_recall_bot_id ON meetings (recall_bot_id) WHERE recall_bot_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		user_id UUID PRIMARY KEY,
		plan TEXT NOT NULL DEFAULT 'free',
		status TEXT NOT NULL DEFAULT 'inactive',
		current_period_end TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates missing tables and indexes. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db IDatabase) error {
	for i, stmt := range schema {
		if err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.Info("Database:EnsureSchema:Done", "statements", len(schema))
	return nil
}
