package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	PlanFree = "free"

	StatusActive   = "active"
	StatusTrialing = "trialing"
)

// Subscription mirrors the billing provider's view of a user's paid plan.
type Subscription struct {
	UserID           uuid.UUID  `db:"user_id" json:"user_id"`
	Plan             string     `db:"plan" json:"plan"`
	Status           string     `db:"status" json:"status"`
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// ActiveAt reports whether the subscription grants paid features at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s.Plan == PlanFree {
		return false
	}
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(t)
}
