// Package providertest provides scriptable provider clients and token stores for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	calEntity "calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/provider/client"
	"calendar-sync-api/modules/provider/dto"

	"github.com/google/uuid"
)

// Client is an in-memory client.Client. Unset funcs fall back to simple defaults:
// subscriptions are created with sequential ids and listing returns what was created.
type Client struct {
	provider coreEntity.Provider

	mu      sync.Mutex
	remote  map[string]client.RemoteSubscription
	seq     int
	calls   []string
	deleted []string

	CreateFunc func(conn *calEntity.CalendarConnection, req client.SubscriptionRequest) (*client.RemoteSubscription, error)
	ListErr    error
	RenewFunc  func(sub *calEntity.WebhookSubscription, req client.SubscriptionRequest) (*client.RemoteSubscription, error)
	DeleteErr  error
	// PageFunc answers FetchEvents.
	PageFunc func(cursor, pageToken string) (*client.EventPage, error)
	// Events answers FetchEvent by reference; a missing reference is NotFound.
	Events map[string]dto.ProviderEvent
}

var _ client.Client = (*Client)(nil)

func NewClient(p coreEntity.Provider) *Client {
	return &Client{provider: p, remote: make(map[string]client.RemoteSubscription), Events: make(map[string]dto.ProviderEvent)}
}

func (c *Client) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Calls returns the operations invoked so far, e.g. "create", "delete:<id>".
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Deleted returns the ids passed to DeleteSubscription.
func (c *Client) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Drop removes a remote subscription as if the provider expired it.
func (c *Client) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remote, id)
}

func (c *Client) Provider() coreEntity.Provider {
	return c.provider
}

func (c *Client) CreateSubscription(_ context.Context, _ string, conn *calEntity.CalendarConnection, req client.SubscriptionRequest) (*client.RemoteSubscription, error) {
	c.record("create")
	if c.CreateFunc != nil {
		r, err := c.CreateFunc(conn, req)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.remote[r.ID] = *r
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	r := client.RemoteSubscription{
		ID:          fmt.Sprintf("sub-%d", c.seq),
		ResourceID:  "res-" + conn.ID.String()[:8],
		CallbackURL: req.CallbackURL,
		SigningKey:  req.SigningKey,
	}
	if req.TTL > 0 {
		exp := time.Now().Add(req.TTL).UTC()
		r.ExpiresAt = &exp
	}
	c.remote[r.ID] = r
	return &r, nil
}

func (c *Client) ListSubscriptions(context.Context, string, *calEntity.CalendarConnection) ([]client.RemoteSubscription, error) {
	c.record("list")
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]client.RemoteSubscription, 0, len(c.remote))
	for _, r := range c.remote {
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) RenewSubscription(_ context.Context, _ string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription, req client.SubscriptionRequest) (*client.RemoteSubscription, error) {
	c.record("renew:" + sub.ExternalSubscriptionID)
	if c.RenewFunc != nil {
		return c.RenewFunc(sub, req)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.remote[sub.ExternalSubscriptionID]
	if !ok {
		return nil, errors.NewAppError(errors.ErrNotFound, "subscription not found", nil)
	}
	exp := time.Now().Add(req.TTL).UTC()
	r.ExpiresAt = &exp
	c.remote[r.ID] = r
	return &r, nil
}

func (c *Client) DeleteSubscription(_ context.Context, _ string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription) error {
	c.record("delete:" + sub.ExternalSubscriptionID)
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remote, sub.ExternalSubscriptionID)
	c.deleted = append(c.deleted, sub.ExternalSubscriptionID)
	return nil
}

func (c *Client) FetchEvents(_ context.Context, _ string, _ *calEntity.CalendarConnection, cursor, pageToken string) (*client.EventPage, error) {
	c.record("fetch:" + cursor + "|" + pageToken)
	if c.PageFunc == nil {
		return &client.EventPage{NextCursor: cursor}, nil
	}
	return c.PageFunc(cursor, pageToken)
}

func (c *Client) FetchEvent(_ context.Context, _ string, _ *calEntity.CalendarConnection, ref string) (dto.ProviderEvent, error) {
	c.record("get:" + ref)
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.Events[ref]
	if !ok {
		return nil, errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}
	return ev, nil
}

// Tokens is a TokenStore that hands out a fixed token, or Err for listed connections.
type Tokens struct {
	mu  sync.Mutex
	Err map[uuid.UUID]error
}

func NewTokens() *Tokens {
	return &Tokens{Err: make(map[uuid.UUID]error)}
}

// Fail makes every token request for connectionID return err.
func (t *Tokens) Fail(connectionID uuid.UUID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Err[connectionID] = err
}

func (t *Tokens) GetValidAccessToken(context.Context, uuid.UUID, coreEntity.Provider) (string, error) {
	return "access-token", nil
}

func (t *Tokens) GetValidAccessTokenForConnection(_ context.Context, conn *calEntity.CalendarConnection) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.Err[conn.ID]; ok {
		return "", err
	}
	return "access-token", nil
}

func (t *Tokens) Seal(access, refresh string) (string, string, error) {
	return access, refresh, nil
}
