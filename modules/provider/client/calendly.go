package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	calEntity "calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/provider/dto"
)

const calendlyAPIBase = "https://api.calendly.com"

// CalendlyWebhookEvents are the invitee events a user-scoped subscription receives.
var CalendlyWebhookEvents = []string{dto.CalendlyInviteeCreated, dto.CalendlyInviteeCanceled, dto.CalendlyInviteeUpdated}

type CalendlyClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewCalendlyClient(baseURL string) *CalendlyClient {
	if baseURL == "" {
		baseURL = calendlyAPIBase
	}
	return &CalendlyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		now:     time.Now,
	}
}

func (c *CalendlyClient) Provider() entity.Provider {
	return entity.ProviderCalendly
}

type calendlyUser struct {
	Resource struct {
		URI                 string `json:"uri"`
		Email               string `json:"email"`
		CurrentOrganization string `json:"current_organization"`
	} `json:"resource"`
}

// CurrentUser resolves the user and organization URIs a connection subscribes under.
func (c *CalendlyClient) CurrentUser(ctx context.Context, token string) (userURI, orgURI, email string, err error) {
	var out calendlyUser
	err = do(ctx, c.http, request{op: "CalendlyClient:CurrentUser", method: http.MethodGet, url: c.baseURL + "/users/me", token: token}, &out)
	if err != nil {
		return "", "", "", err
	}
	return out.Resource.URI, out.Resource.CurrentOrganization, out.Resource.Email, nil
}

func (c *CalendlyClient) accountURIs(ctx context.Context, token string, conn *calEntity.CalendarConnection) (string, string, error) {
	if conn.ProviderAccountURI != "" && conn.ProviderOrganizationURI != "" {
		return conn.ProviderAccountURI, conn.ProviderOrganizationURI, nil
	}
	userURI, orgURI, _, err := c.CurrentUser(ctx, token)
	if err != nil {
		return "", "", err
	}
	conn.ProviderAccountURI = userURI
	conn.ProviderOrganizationURI = orgURI
	return userURI, orgURI, nil
}

// CreateSubscription registers a user-scoped webhook. Plans without webhook access
// answer 403 (or an "upgrade" message), reported as ErrWebhookUnsupported.
func (c *CalendlyClient) CreateSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, req SubscriptionRequest) (*RemoteSubscription, error) {
	userURI, orgURI, err := c.accountURIs(ctx, token, conn)
	if err != nil {
		return nil, err
	}
	body := dto.CalendlyCreateSubscriptionRequest{
		URL:          req.CallbackURL,
		Events:       CalendlyWebhookEvents,
		Organization: orgURI,
		User:         userURI,
		Scope:        string(calEntity.ScopeUser),
		SigningKey:   req.SigningKey,
	}

	create := func() (*dto.CalendlyWebhookSubscription, error) {
		var out struct {
			Resource dto.CalendlyWebhookSubscription `json:"resource"`
		}
		err := do(ctx, c.http, request{
			op: "CalendlyClient:CreateSubscription", method: http.MethodPost,
			url: c.baseURL + "/webhook_subscriptions", token: token, body: body,
		}, &out)
		if err != nil {
			return nil, err
		}
		return &out.Resource, nil
	}

	sub, err := create()
	if errors.IsCode(err, errors.ErrAlreadyExists) {
		// A stale hook for the same callback exists. Its signing key is unknown to us,
		// so replace it.
		if derr := c.deleteByCallback(ctx, token, conn, req.CallbackURL); derr != nil {
			return nil, derr
		}
		sub, err = create()
	}
	if err != nil {
		if errors.IsCode(err, errors.ErrForbidden) || bodyContains(err, "upgrade your calendly account", "permission denied") {
			return nil, errors.NewAppError(errors.ErrWebhookUnsupported, "calendly plan does not support webhooks", err)
		}
		return nil, err
	}

	return &RemoteSubscription{
		ID:          dto.CalendlyUUIDFromURI(sub.URI),
		CallbackURL: sub.CallbackURL,
		SigningKey:  req.SigningKey,
	}, nil
}

func (c *CalendlyClient) deleteByCallback(ctx context.Context, token string, conn *calEntity.CalendarConnection, callback string) error {
	subs, err := c.ListSubscriptions(ctx, token, conn)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.CallbackURL == callback {
			if err := c.deleteByID(ctx, token, s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListSubscriptions lists only the connection user's subscriptions.
func (c *CalendlyClient) ListSubscriptions(ctx context.Context, token string, conn *calEntity.CalendarConnection) ([]RemoteSubscription, error) {
	userURI, orgURI, err := c.accountURIs(ctx, token, conn)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("organization", orgURI)
	q.Set("user", userURI)
	q.Set("scope", string(calEntity.ScopeUser))
	q.Set("count", strconv.Itoa(constants.ProviderPageSize))

	var out []RemoteSubscription
	next := c.baseURL + "/webhook_subscriptions?" + q.Encode()
	for next != "" {
		var page dto.CalendlySubscriptionList
		if err := do(ctx, c.http, request{op: "CalendlyClient:ListSubscriptions", method: http.MethodGet, url: next, token: token}, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Collection {
			if s.State != "" && s.State != "active" {
				continue
			}
			out = append(out, RemoteSubscription{ID: dto.CalendlyUUIDFromURI(s.URI), CallbackURL: s.CallbackURL})
		}
		next = ""
		if page.Pagination.NextPageToken != "" {
			q.Set("page_token", page.Pagination.NextPageToken)
			next = c.baseURL + "/webhook_subscriptions?" + q.Encode()
		}
	}
	return out, nil
}

// RenewSubscription checks the hook still exists. Calendly hooks do not expire.
func (c *CalendlyClient) RenewSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription, _ SubscriptionRequest) (*RemoteSubscription, error) {
	var out struct {
		Resource dto.CalendlyWebhookSubscription `json:"resource"`
	}
	err := do(ctx, c.http, request{
		op: "CalendlyClient:RenewSubscription", method: http.MethodGet,
		url: c.baseURL + "/webhook_subscriptions/" + url.PathEscape(sub.ExternalSubscriptionID), token: token,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Resource.State != "" && out.Resource.State != "active" {
		return nil, errors.NewAppError(errors.ErrNotFound, "calendly webhook is disabled", nil)
	}
	return &RemoteSubscription{ID: sub.ExternalSubscriptionID, CallbackURL: out.Resource.CallbackURL, SigningKey: sub.SigningKey}, nil
}

func (c *CalendlyClient) DeleteSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription) error {
	return c.deleteByID(ctx, token, sub.ExternalSubscriptionID)
}

func (c *CalendlyClient) deleteByID(ctx context.Context, token, id string) error {
	err := do(ctx, c.http, request{
		op: "CalendlyClient:DeleteSubscription", method: http.MethodDelete,
		url: c.baseURL + "/webhook_subscriptions/" + url.PathEscape(id), token: token,
	}, nil)
	return ignoreNotFound(err)
}

// FetchEvents lists scheduled events in the sync window, canceled ones included so
// cancellations are seen by polling. The cursor is the time of the last completed run.
func (c *CalendlyClient) FetchEvents(ctx context.Context, token string, conn *calEntity.CalendarConnection, cursor, pageToken string) (*EventPage, error) {
	userURI, _, err := c.accountURIs(ctx, token, conn)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()

	q := url.Values{}
	q.Set("user", userURI)
	q.Set("min_start_time", now.Add(-constants.CalendlyLookback).Format(time.RFC3339))
	q.Set("max_start_time", now.Add(constants.CalendlyLookahead).Format(time.RFC3339))
	q.Set("sort", "start_time:asc")
	q.Set("count", strconv.Itoa(constants.ProviderPageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var list dto.CalendlyEventList
	err = do(ctx, c.http, request{
		op: "CalendlyClient:FetchEvents", method: http.MethodGet,
		url: c.baseURL + "/scheduled_events?" + q.Encode(), token: token,
	}, &list)
	if err != nil {
		return nil, err
	}

	page := &EventPage{NextPageToken: list.Pagination.NextPageToken}
	for _, ev := range list.Collection {
		invitees, err := c.invitees(ctx, token, ev.UUID())
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, dto.CalendlyEvent{Event: ev, Invitees: invitees})
	}
	if page.NextPageToken == "" {
		page.NextCursor = now.Format(time.RFC3339)
	}
	logger.Debug("CalendlyClient:FetchEvents:Page", "connection_id", conn.ID, "events", len(page.Events), "previous_cursor", cursor)
	return page, nil
}

func (c *CalendlyClient) invitees(ctx context.Context, token, eventUUID string) ([]dto.CalendlyInvitee, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(constants.ProviderPageSize))
	var list dto.CalendlyInviteeList
	err := do(ctx, c.http, request{
		op: "CalendlyClient:Invitees", method: http.MethodGet,
		url: c.baseURL + "/scheduled_events/" + url.PathEscape(eventUUID) + "/invitees?" + q.Encode(), token: token,
	}, &list)
	if err != nil {
		return nil, err
	}
	return list.Collection, nil
}

// FetchEvent loads one scheduled event by URI or uuid.
func (c *CalendlyClient) FetchEvent(ctx context.Context, token string, _ *calEntity.CalendarConnection, ref string) (dto.ProviderEvent, error) {
	id := dto.CalendlyUUIDFromURI(ref)
	var out struct {
		Resource dto.CalendlyScheduledEvent `json:"resource"`
	}
	err := do(ctx, c.http, request{
		op: "CalendlyClient:FetchEvent", method: http.MethodGet,
		url: c.baseURL + "/scheduled_events/" + url.PathEscape(id), token: token,
	}, &out)
	if err != nil {
		return nil, err
	}
	invitees, err := c.invitees(ctx, token, id)
	if err != nil {
		return nil, err
	}
	return dto.CalendlyEvent{Event: out.Resource, Invitees: invitees}, nil
}
