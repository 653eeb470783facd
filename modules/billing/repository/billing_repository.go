package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"calendar-sync-api/core/database"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/billing/entity"

	"github.com/google/uuid"
)

type BillingRepository interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*entity.Subscription, error)
}

type billingRepository struct {
	db database.IDatabase
}

func NewBillingRepository(db database.IDatabase) BillingRepository {
	return &billingRepository{db: db}
}

func (r *billingRepository) GetSubscription(ctx context.Context, userID uuid.UUID) (*entity.Subscription, error) {
	var s entity.Subscription
	err := r.db.GetContext(ctx, &s, `
		SELECT user_id, plan, status, current_period_end, updated_at
		FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, err
	}
	return &s, nil
}
