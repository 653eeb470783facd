package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"calendar-sync-api/core/database"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
)

const subscriptionColumns = `id, connection_id, user_id, provider, external_subscription_id, resource_id,
	signing_key, scope, callback_url, expires_at, created_at, updated_at`

type SubscriptionRepository interface {
	// Save inserts or replaces the subscription of sub.ConnectionID.
	Save(ctx context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error)
	GetByConnectionID(ctx context.Context, connectionID uuid.UUID) (*entity.WebhookSubscription, error)
	GetByExternalID(ctx context.Context, provider coreEntity.Provider, externalID string) (*entity.WebhookSubscription, error)
	// ListActiveByProvider returns subscriptions whose connection is active, newest first.
	ListActiveByProvider(ctx context.Context, provider coreEntity.Provider) ([]entity.WebhookSubscription, error)
	ListExpiringBefore(ctx context.Context, t time.Time) ([]entity.WebhookSubscription, error)
	DeleteByConnectionID(ctx context.Context, connectionID uuid.UUID) error
}

type subscriptionRepository struct {
	db database.IDatabase
}

func NewSubscriptionRepository(db database.IDatabase) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	query := `
		INSERT INTO webhook_subscriptions (connection_id, user_id, provider, external_subscription_id, resource_id,
			signing_key, scope, callback_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (connection_id) DO UPDATE SET
			external_subscription_id = EXCLUDED.external_subscription_id,
			resource_id = EXCLUDED.resource_id,
			signing_key = EXCLUDED.signing_key,
			scope = EXCLUDED.scope,
			callback_url = EXCLUDED.callback_url,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	if sub.Scope == "" {
		sub.Scope = entity.ScopeUser
	}
	err := r.db.QueryRowContext(ctx, query,
		sub.ConnectionID, sub.UserID, sub.Provider, sub.ExternalSubscriptionID, sub.ResourceID,
		sub.SigningKey, sub.Scope, sub.CallbackURL, sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepository) get(ctx context.Context, query string, args ...any) (*entity.WebhookSubscription, error) {
	var sub entity.WebhookSubscription
	if err := r.db.GetContext(ctx, &sub, query, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByConnectionID(ctx context.Context, connectionID uuid.UUID) (*entity.WebhookSubscription, error) {
	return r.get(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE connection_id = $1`, connectionID)
}

func (r *subscriptionRepository) GetByExternalID(ctx context.Context, provider coreEntity.Provider, externalID string) (*entity.WebhookSubscription, error) {
	return r.get(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE provider = $1 AND external_subscription_id = $2`, provider, externalID)
}

func (r *subscriptionRepository) ListActiveByProvider(ctx context.Context, provider coreEntity.Provider) ([]entity.WebhookSubscription, error) {
	var subs []entity.WebhookSubscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT ws.id, ws.connection_id, ws.user_id, ws.provider, ws.external_subscription_id, ws.resource_id,
			ws.signing_key, ws.scope, ws.callback_url, ws.expires_at, ws.created_at, ws.updated_at
		FROM webhook_subscriptions ws
		JOIN calendar_connections cc ON cc.id = ws.connection_id
		WHERE ws.provider = $1 AND cc.is_active = true
		ORDER BY ws.updated_at DESC`, provider)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *subscriptionRepository) ListExpiringBefore(ctx context.Context, t time.Time) ([]entity.WebhookSubscription, error) {
	var subs []entity.WebhookSubscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`, t)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *subscriptionRepository) DeleteByConnectionID(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE connection_id = $1`, connectionID)
}
