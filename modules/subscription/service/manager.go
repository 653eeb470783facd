package service

import (
	"context"
	"time"

	"calendar-sync-api/core/constants"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/utils"
	"calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/calendar/repository"
	notificationDto "calendar-sync-api/modules/notification/dto"
	"calendar-sync-api/modules/provider/client"
	tokenService "calendar-sync-api/modules/token/service"

	"github.com/google/uuid"
)

var webhookPaths = map[coreEntity.Provider]string{
	coreEntity.ProviderCalendly:  constants.WebhookPathCalendly,
	coreEntity.ProviderGoogle:    constants.WebhookPathGoogle,
	coreEntity.ProviderMicrosoft: constants.WebhookPathMicrosoft,
}

var subscriptionTTLs = map[coreEntity.Provider]time.Duration{
	coreEntity.ProviderGoogle:    constants.GoogleChannelTTL,
	coreEntity.ProviderMicrosoft: constants.MicrosoftSubTTL,
}

type ConnectionStore interface {
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*entity.CalendarConnection, error)
	SetSyncMethod(ctx context.Context, id uuid.UUID, method entity.SyncMethod) error
	ListActiveBySyncMethod(ctx context.Context, method entity.SyncMethod) ([]entity.CalendarConnection, error)
}

// PollScheduler starts and stops the polling task of a connection.
type PollScheduler interface {
	Schedule(conn *entity.CalendarConnection)
	Cancel(connectionID uuid.UUID)
}

type ConnectionNotifier interface {
	NotifyConnection(ctx context.Context, n notificationDto.ConnectionNotification)
}

type CreateResult struct {
	Subscribed   bool
	Subscription *entity.WebhookSubscription
}

type RenewReport struct {
	Renewed int
	Failed  int
}

// Manager owns the provider push registrations of connections and decides whether a
// connection receives webhooks or is polled. Every operation is scoped to one
// connection id.
type Manager struct {
	clients       *client.Registry
	tokens        tokenService.TokenStore
	connections   ConnectionStore
	subs          repository.SubscriptionRepository
	scheduler     PollScheduler
	notifier      ConnectionNotifier
	publicBaseURL string
	renewWindow   time.Duration
	now           func() time.Time
}

func NewManager(
	clients *client.Registry,
	tokens tokenService.TokenStore,
	connections ConnectionStore,
	subs repository.SubscriptionRepository,
	scheduler PollScheduler,
	notifier ConnectionNotifier,
	publicBaseURL string,
	renewWindow time.Duration,
) *Manager {
	if renewWindow <= 0 {
		renewWindow = 48 * time.Hour
	}
	return &Manager{
		clients:       clients,
		tokens:        tokens,
		connections:   connections,
		subs:          subs,
		scheduler:     scheduler,
		notifier:      notifier,
		publicBaseURL: publicBaseURL,
		renewWindow:   renewWindow,
		now:           time.Now,
	}
}

func (m *Manager) CallbackURL(p coreEntity.Provider) string {
	return m.publicBaseURL + webhookPaths[p]
}

func (m *Manager) request(p coreEntity.Provider, signingKey string) client.SubscriptionRequest {
	if signingKey == "" {
		signingKey = utils.GenerateSecret(32)
	}
	return client.SubscriptionRequest{
		CallbackURL: m.CallbackURL(p),
		SigningKey:  signingKey,
		ChannelID:   utils.GenerateChannelID("cal"),
		TTL:         subscriptionTTLs[p],
	}
}

// Create registers a user-scoped webhook for conn. A provider plan without webhook
// support is a normal outcome: the connection is switched to polling and Subscribed
// is false.
func (m *Manager) Create(ctx context.Context, conn *entity.CalendarConnection) (*CreateResult, error) {
	c, err := m.clients.Get(conn.Provider)
	if err != nil {
		return nil, err
	}
	token, err := m.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err != nil {
		return nil, err
	}

	req := m.request(conn.Provider, "")
	remote, err := c.CreateSubscription(ctx, token, conn, req)
	if err != nil {
		if errors.IsCode(err, errors.ErrWebhookUnsupported) {
			logger.Info("SubscriptionManager:Create:Unsupported", "connection_id", conn.ID, "provider", conn.Provider)
			if err := m.usePolling(ctx, conn, false); err != nil {
				return nil, err
			}
			return &CreateResult{Subscribed: false}, nil
		}
		logger.Error("SubscriptionManager:Create:Error", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
		return nil, err
	}

	sub := &entity.WebhookSubscription{
		ConnectionID:           conn.ID,
		UserID:                 conn.UserID,
		Provider:               conn.Provider,
		ExternalSubscriptionID: remote.ID,
		ResourceID:             remote.ResourceID,
		SigningKey:             firstNonEmpty(remote.SigningKey, req.SigningKey),
		Scope:                  entity.ScopeUser,
		CallbackURL:            firstNonEmpty(remote.CallbackURL, req.CallbackURL),
		ExpiresAt:              remote.ExpiresAt,
	}
	saved, err := m.subs.Save(ctx, sub)
	if err != nil {
		// An unrecorded remote subscription would deliver events nobody can verify.
		if derr := c.DeleteSubscription(ctx, token, conn, sub); derr != nil {
			logger.Warn("SubscriptionManager:Create:Rollback:Error", "connection_id", conn.ID, "error", derr)
		}
		return nil, err
	}

	if err := m.connections.SetSyncMethod(ctx, conn.ID, entity.SyncMethodWebhook); err != nil {
		return nil, err
	}
	conn.SyncMethod = entity.SyncMethodWebhook
	if m.scheduler != nil {
		m.scheduler.Cancel(conn.ID)
	}
	logger.Info("SubscriptionManager:Create", "connection_id", conn.ID, "provider", conn.Provider, "subscription_id", saved.ExternalSubscriptionID)
	return &CreateResult{Subscribed: true, Subscription: saved}, nil
}

// VerifyActive reports whether the stored subscription still exists at the provider.
// Providers that cannot list subscriptions are judged by the stored expiry.
func (m *Manager) VerifyActive(ctx context.Context, conn *entity.CalendarConnection) (bool, error) {
	sub, err := m.subs.GetByConnectionID(ctx, conn.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	c, err := m.clients.Get(conn.Provider)
	if err != nil {
		return false, err
	}
	token, err := m.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err != nil {
		return false, err
	}

	remote, err := c.ListSubscriptions(ctx, token, conn)
	if err != nil {
		if errors.Is(err, client.ErrListUnsupported) {
			return !sub.ExpiresBefore(m.now()), nil
		}
		return false, err
	}
	for _, r := range remote {
		if r.ID == sub.ExternalSubscriptionID {
			return true, nil
		}
	}
	return false, nil
}

// CheckConnection verifies conn's webhook and moves it to polling when the
// subscription is gone.
func (m *Manager) CheckConnection(ctx context.Context, conn *entity.CalendarConnection) error {
	ok, err := m.VerifyActive(ctx, conn)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	logger.Warn("SubscriptionManager:CheckConnection:Missing", "connection_id", conn.ID, "provider", conn.Provider)
	if err := m.subs.DeleteByConnectionID(ctx, conn.ID); err != nil {
		return err
	}
	return m.usePolling(ctx, conn, true)
}

// CheckAll runs CheckConnection for every active webhook connection.
func (m *Manager) CheckAll(ctx context.Context) error {
	conns, err := m.connections.ListActiveBySyncMethod(ctx, entity.SyncMethodWebhook)
	if err != nil {
		return err
	}
	for i := range conns {
		if err := m.CheckConnection(ctx, &conns[i]); err != nil {
			logger.Error("SubscriptionManager:CheckAll:Error", "connection_id", conns[i].ID, "error", err)
		}
	}
	return nil
}

// Renew extends conn's subscription, recreating it when the provider no longer knows it.
func (m *Manager) Renew(ctx context.Context, conn *entity.CalendarConnection) error {
	sub, err := m.subs.GetByConnectionID(ctx, conn.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			_, err = m.Create(ctx, conn)
		}
		return err
	}
	c, err := m.clients.Get(conn.Provider)
	if err != nil {
		return err
	}
	token, err := m.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err != nil {
		return err
	}

	remote, err := c.RenewSubscription(ctx, token, conn, sub, m.request(conn.Provider, sub.SigningKey))
	if err != nil {
		if errors.IsNotFound(err) {
			logger.Warn("SubscriptionManager:Renew:Gone", "connection_id", conn.ID, "subscription_id", sub.ExternalSubscriptionID)
			if err := m.subs.DeleteByConnectionID(ctx, conn.ID); err != nil {
				return err
			}
			_, err = m.Create(ctx, conn)
			return err
		}
		return err
	}

	sub.ExternalSubscriptionID = remote.ID
	sub.ResourceID = firstNonEmpty(remote.ResourceID, sub.ResourceID)
	sub.SigningKey = firstNonEmpty(remote.SigningKey, sub.SigningKey)
	if remote.ExpiresAt != nil {
		sub.ExpiresAt = remote.ExpiresAt
	}
	if _, err := m.subs.Save(ctx, sub); err != nil {
		return err
	}
	logger.Info("SubscriptionManager:Renew", "connection_id", conn.ID, "subscription_id", sub.ExternalSubscriptionID, "expires_at", sub.ExpiresAt)
	return nil
}

// RenewExpiring renews every subscription that lapses within the renewal window.
func (m *Manager) RenewExpiring(ctx context.Context) (RenewReport, error) {
	var report RenewReport
	subs, err := m.subs.ListExpiringBefore(ctx, m.now().Add(m.renewWindow))
	if err != nil {
		return report, err
	}
	for _, sub := range subs {
		conn, err := m.connections.GetConnectionByID(ctx, sub.ConnectionID)
		if err != nil {
			report.Failed++
			logger.Error("SubscriptionManager:RenewExpiring:GetConnection", "connection_id", sub.ConnectionID, "error", err)
			continue
		}
		if !conn.IsActive {
			continue
		}
		if err := m.Renew(ctx, conn); err != nil {
			report.Failed++
			logger.Error("SubscriptionManager:RenewExpiring:Error", "connection_id", conn.ID, "error", err)
			continue
		}
		report.Renewed++
	}
	return report, nil
}

// Delete removes conn's subscription remotely and then locally. A subscription the
// provider already dropped, or one whose grant was revoked, is only removed locally.
func (m *Manager) Delete(ctx context.Context, conn *entity.CalendarConnection) error {
	sub, err := m.subs.GetByConnectionID(ctx, conn.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	c, err := m.clients.Get(conn.Provider)
	if err != nil {
		return err
	}

	token, err := m.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err == nil {
		err = c.DeleteSubscription(ctx, token, conn, sub)
	}
	if err != nil {
		if !errors.IsCode(err, errors.ErrAuthExpired) {
			logger.Error("SubscriptionManager:Delete:Remote", "connection_id", conn.ID, "error", err)
			return err
		}
		logger.Warn("SubscriptionManager:Delete:AuthExpired", "connection_id", conn.ID, "subscription_id", sub.ExternalSubscriptionID)
	}
	return m.subs.DeleteByConnectionID(ctx, conn.ID)
}

// Stop deletes conn's subscription and cancels its polling, used when the connection
// stops supplying the live feed without being removed.
func (m *Manager) Stop(ctx context.Context, conn *entity.CalendarConnection) error {
	if err := m.Delete(ctx, conn); err != nil {
		return err
	}
	if m.scheduler != nil {
		m.scheduler.Cancel(conn.ID)
	}
	return nil
}

// UsePolling switches conn to polling without a fallback notification.
func (m *Manager) UsePolling(ctx context.Context, conn *entity.CalendarConnection) error {
	return m.usePolling(ctx, conn, false)
}

func (m *Manager) usePolling(ctx context.Context, conn *entity.CalendarConnection, fallback bool) error {
	if err := m.connections.SetSyncMethod(ctx, conn.ID, entity.SyncMethodPolling); err != nil {
		return err
	}
	conn.SyncMethod = entity.SyncMethodPolling
	if m.scheduler != nil && conn.IsActive {
		m.scheduler.Schedule(conn)
	}
	if fallback && m.notifier != nil {
		m.notifier.NotifyConnection(ctx, notificationDto.ConnectionNotification{
			Type:         notificationDto.NotificationPollingFallback,
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			Provider:     conn.Provider.String(),
		})
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
