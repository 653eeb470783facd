package entity

import (
	"time"

	"calendar-sync-api/core/entity"

	"github.com/google/uuid"
)

type SubscriptionScope string

const (
	ScopeUser         SubscriptionScope = "user"
	ScopeOrganization SubscriptionScope = "organization"
)

// WebhookSubscription is the local record of a provider push registration.
// ExternalSubscriptionID is the Calendly webhook uuid, Google channel id or Graph subscription id.
// SigningKey holds the Calendly signing key, the Google channel token or the Graph clientState.
type WebhookSubscription struct {
	entity.BaseEntity
	ConnectionID           uuid.UUID         `db:"connection_id" json:"connection_id"`
	UserID                 uuid.UUID         `db:"user_id" json:"user_id"`
	Provider               entity.Provider   `db:"provider" json:"provider"`
	ExternalSubscriptionID string            `db:"external_subscription_id" json:"external_subscription_id"`
	ResourceID             string            `db:"resource_id" json:"resource_id,omitempty"`
	SigningKey             string            `db:"signing_key" json:"-"`
	Scope                  SubscriptionScope `db:"scope" json:"scope"`
	CallbackURL            string            `db:"callback_url" json:"callback_url"`
	ExpiresAt              *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// ExpiresBefore reports whether the subscription lapses before t. Subscriptions
// without an expiry (Calendly) never do.
func (s *WebhookSubscription) ExpiresBefore(t time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(t)
}
