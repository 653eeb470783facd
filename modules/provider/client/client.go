package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"calendar-sync-api/core/entity"
	calEntity "calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/provider/dto"
)

// ErrListUnsupported is returned by providers that cannot enumerate push subscriptions.
var ErrListUnsupported = stderrors.New("provider cannot list webhook subscriptions")

type RemoteSubscription struct {
	ID          string
	ResourceID  string
	CallbackURL string
	SigningKey  string
	ExpiresAt   *time.Time
}

type SubscriptionRequest struct {
	CallbackURL string
	// SigningKey is the Calendly signing key, Google channel token or Graph clientState.
	SigningKey string
	// ChannelID is used by providers where the caller names the subscription (Google).
	ChannelID string
	TTL       time.Duration
}

// EventPage is one page of a polling run. NextCursor is only set on the last page.
type EventPage struct {
	Events        []dto.ProviderEvent
	NextPageToken string
	NextCursor    string
}

type Client interface {
	Provider() entity.Provider
	CreateSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, req SubscriptionRequest) (*RemoteSubscription, error)
	ListSubscriptions(ctx context.Context, token string, conn *calEntity.CalendarConnection) ([]RemoteSubscription, error)
	// RenewSubscription extends sub. It returns an ErrNotFound AppError when the
	// provider no longer knows the subscription.
	RenewSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription, req SubscriptionRequest) (*RemoteSubscription, error)
	DeleteSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription) error
	FetchEvents(ctx context.Context, token string, conn *calEntity.CalendarConnection, cursor, pageToken string) (*EventPage, error)
	FetchEvent(ctx context.Context, token string, conn *calEntity.CalendarConnection, ref string) (dto.ProviderEvent, error)
}

type Registry struct {
	clients map[entity.Provider]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[entity.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

func (r *Registry) Get(p entity.Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", p)
	}
	return c, nil
}
