package service

import (
	"context"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/billing/repository"

	"github.com/google/uuid"
)

type BillingService interface {
	HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error)
}

type billingService struct {
	repo repository.BillingRepository
	now  func() time.Time
}

func NewBillingService(repo repository.BillingRepository) BillingService {
	return &billingService{repo: repo, now: time.Now}
}

// HasActiveSubscription returns false for users without a subscription row.
// Lookup failures are returned so callers can decide how to fail.
func (s *billingService) HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		logger.Error("BillingService:HasActiveSubscription", "user_id", userID, "error", err)
		return false, err
	}
	return sub.ActiveAt(s.now()), nil
}
