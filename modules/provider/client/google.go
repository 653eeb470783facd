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

const googleAPIBase = "https://www.googleapis.com/calendar/v3"

type GoogleClient struct {
	baseURL    string
	calendarID string
	http       *http.Client
	now        func() time.Time
}

func NewGoogleClient(baseURL string) *GoogleClient {
	if baseURL == "" {
		baseURL = googleAPIBase
	}
	return &GoogleClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		calendarID: "primary",
		http:       newHTTPClient(),
		now:        time.Now,
	}
}

func (c *GoogleClient) Provider() entity.Provider {
	return entity.ProviderGoogle
}

func (c *GoogleClient) eventsURL() string {
	return c.baseURL + "/calendars/" + url.PathEscape(c.calendarID) + "/events"
}

// CreateSubscription opens a push channel on the primary calendar. The caller names
// the channel and supplies the token Google echoes back on every notification.
func (c *GoogleClient) CreateSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, req SubscriptionRequest) (*RemoteSubscription, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = constants.GoogleChannelTTL
	}
	body := dto.GoogleWatchRequest{
		ID:         req.ChannelID,
		Type:       "web_hook",
		Address:    req.CallbackURL,
		Token:      req.SigningKey,
		Expiration: c.now().Add(ttl).UnixMilli(),
	}

	var ch dto.GoogleChannel
	err := do(ctx, c.http, request{
		op: "GoogleClient:CreateSubscription", method: http.MethodPost,
		url: c.eventsURL() + "/watch", token: token, body: body,
	}, &ch)
	if err != nil {
		return nil, err
	}

	remote := &RemoteSubscription{
		ID:          ch.ID,
		ResourceID:  ch.ResourceID,
		CallbackURL: req.CallbackURL,
		SigningKey:  req.SigningKey,
	}
	if ms, perr := strconv.ParseInt(ch.Expiration, 10, 64); perr == nil && ms > 0 {
		exp := time.UnixMilli(ms).UTC()
		remote.ExpiresAt = &exp
	}
	return remote, nil
}

// ListSubscriptions is not offered by the Calendar API.
func (c *GoogleClient) ListSubscriptions(context.Context, string, *calEntity.CalendarConnection) ([]RemoteSubscription, error) {
	return nil, ErrListUnsupported
}

// RenewSubscription opens a replacement channel, then stops the old one. Channels
// cannot be extended in place.
func (c *GoogleClient) RenewSubscription(ctx context.Context, token string, conn *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription, req SubscriptionRequest) (*RemoteSubscription, error) {
	remote, err := c.CreateSubscription(ctx, token, conn, req)
	if err != nil {
		return nil, err
	}
	if err := c.DeleteSubscription(ctx, token, conn, sub); err != nil {
		// The old channel expires on its own and its notifications no longer match a row.
		logger.Warn("GoogleClient:RenewSubscription:StopOldChannel:Error", "channel_id", sub.ExternalSubscriptionID, "error", err)
	}
	return remote, nil
}

func (c *GoogleClient) DeleteSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription) error {
	err := do(ctx, c.http, request{
		op: "GoogleClient:DeleteSubscription", method: http.MethodPost,
		url:   c.baseURL + "/channels/stop",
		token: token,
		body:  dto.GoogleStopRequest{ID: sub.ExternalSubscriptionID, ResourceID: sub.ResourceID},
	}, nil)
	return ignoreNotFound(err)
}

// FetchEvents runs an incremental sync when cursor holds a sync token and a windowed
// full sync otherwise. A 410 surfaces as ErrCursorExpired.
func (c *GoogleClient) FetchEvents(ctx context.Context, token string, _ *calEntity.CalendarConnection, cursor, pageToken string) (*EventPage, error) {
	q := url.Values{}
	q.Set("singleEvents", "true")
	q.Set("showDeleted", "true")
	q.Set("maxResults", "250")
	if cursor != "" {
		q.Set("syncToken", cursor)
	} else {
		now := c.now().UTC()
		q.Set("timeMin", now.Add(-constants.CalendarLookback).Format(time.RFC3339))
		q.Set("timeMax", now.Add(constants.CalendarLookahead).Format(time.RFC3339))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var list dto.GoogleEventList
	err := do(ctx, c.http, request{
		op: "GoogleClient:FetchEvents", method: http.MethodGet,
		url: c.eventsURL() + "?" + q.Encode(), token: token,
	}, &list)
	if err != nil {
		return nil, err
	}

	page := &EventPage{NextPageToken: list.NextPageToken}
	for _, item := range list.Items {
		page.Events = append(page.Events, dto.GoogleEvent{Event: item})
	}
	if page.NextPageToken == "" {
		page.NextCursor = list.NextSyncToken
	}
	return page, nil
}

func (c *GoogleClient) FetchEvent(ctx context.Context, token string, _ *calEntity.CalendarConnection, ref string) (dto.ProviderEvent, error) {
	if ref == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "event id is required", nil)
	}
	var ev dto.GoogleCalendarEvent
	err := do(ctx, c.http, request{
		op: "GoogleClient:FetchEvent", method: http.MethodGet,
		url: c.eventsURL() + "/" + url.PathEscape(ref), token: token,
	}, &ev)
	if err != nil {
		return nil, err
	}
	return dto.GoogleEvent{Event: ev}, nil
}
