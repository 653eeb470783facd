package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	calEntity "calendar-sync-api/modules/calendar/entity"
	"calendar-sync-api/modules/provider/dto"
)

const graphAPIBase = "https://graph.microsoft.com/v1.0"

const graphResourceEvents = "me/events"

type MicrosoftClient struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewMicrosoftClient(baseURL string) *MicrosoftClient {
	if baseURL == "" {
		baseURL = graphAPIBase
	}
	return &MicrosoftClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		now:     time.Now,
	}
}

func (c *MicrosoftClient) Provider() entity.Provider {
	return entity.ProviderMicrosoft
}

func (c *MicrosoftClient) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 || ttl > constants.MicrosoftSubTTL {
		ttl = constants.MicrosoftSubTTL
	}
	return c.now().Add(ttl).UTC()
}

func (c *MicrosoftClient) CreateSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, req SubscriptionRequest) (*RemoteSubscription, error) {
	body := dto.GraphSubscription{
		ChangeType:         strings.Join([]string{dto.GraphChangeCreated, dto.GraphChangeUpdated, dto.GraphChangeDeleted}, ","),
		NotificationURL:    req.CallbackURL,
		Resource:           graphResourceEvents,
		ExpirationDateTime: c.expiry(req.TTL),
		ClientState:        req.SigningKey,
	}
	var out dto.GraphSubscription
	err := do(ctx, c.http, request{
		op: "MicrosoftClient:CreateSubscription", method: http.MethodPost,
		url: c.baseURL + "/subscriptions", token: token, body: body,
	}, &out)
	if err != nil {
		return nil, err
	}
	return toRemote(out, req.SigningKey), nil
}

func toRemote(s dto.GraphSubscription, clientState string) *RemoteSubscription {
	exp := s.ExpirationDateTime.UTC()
	return &RemoteSubscription{
		ID:          s.ID,
		ResourceID:  s.Resource,
		CallbackURL: s.NotificationURL,
		SigningKey:  clientState,
		ExpiresAt:   &exp,
	}
}

func (c *MicrosoftClient) ListSubscriptions(ctx context.Context, token string, _ *calEntity.CalendarConnection) ([]RemoteSubscription, error) {
	var out []RemoteSubscription
	next := c.baseURL + "/subscriptions"
	for next != "" {
		var page dto.GraphSubscriptionList
		if err := do(ctx, c.http, request{op: "MicrosoftClient:ListSubscriptions", method: http.MethodGet, url: next, token: token}, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Value {
			out = append(out, *toRemote(s, ""))
		}
		next = ""
		if page.NextLink != "" {
			link, err := c.sameOrigin(page.NextLink)
			if err != nil {
				return nil, err
			}
			next = link
		}
	}
	return out, nil
}

// RenewSubscription extends the expiry in place.
func (c *MicrosoftClient) RenewSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription, req SubscriptionRequest) (*RemoteSubscription, error) {
	var out dto.GraphSubscription
	err := do(ctx, c.http, request{
		op: "MicrosoftClient:RenewSubscription", method: http.MethodPatch,
		url:   c.baseURL + "/subscriptions/" + url.PathEscape(sub.ExternalSubscriptionID),
		token: token,
		body:  map[string]time.Time{"expirationDateTime": c.expiry(req.TTL)},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = sub.ExternalSubscriptionID
	}
	return toRemote(out, sub.SigningKey), nil
}

func (c *MicrosoftClient) DeleteSubscription(ctx context.Context, token string, _ *calEntity.CalendarConnection, sub *calEntity.WebhookSubscription) error {
	err := do(ctx, c.http, request{
		op: "MicrosoftClient:DeleteSubscription", method: http.MethodDelete,
		url: c.baseURL + "/subscriptions/" + url.PathEscape(sub.ExternalSubscriptionID), token: token,
	}, nil)
	return ignoreNotFound(err)
}

// FetchEvents walks calendarView delta. The cursor is the deltaLink of the last
// completed round and pageToken the nextLink within a round; both are full URLs.
func (c *MicrosoftClient) FetchEvents(ctx context.Context, token string, _ *calEntity.CalendarConnection, cursor, pageToken string) (*EventPage, error) {
	var (
		target string
		err    error
	)
	switch {
	case pageToken != "":
		target, err = c.sameOrigin(pageToken)
	case cursor != "":
		target, err = c.sameOrigin(cursor)
	default:
		now := c.now().UTC()
		q := url.Values{}
		q.Set("startDateTime", now.Add(-constants.CalendarLookback).Format(time.RFC3339))
		q.Set("endDateTime", now.Add(constants.CalendarLookahead).Format(time.RFC3339))
		target = c.baseURL + "/me/calendarView/delta?" + q.Encode()
	}
	if err != nil {
		return nil, err
	}

	var list dto.GraphEventPage
	err = do(ctx, c.http, request{
		op: "MicrosoftClient:FetchEvents", method: http.MethodGet, url: target, token: token,
		headers: map[string]string{
			"Prefer": `outlook.timezone="UTC", odata.maxpagesize=100`,
		},
	}, &list)
	if err != nil {
		return nil, err
	}

	page := &EventPage{NextPageToken: list.NextLink}
	for _, ev := range list.Value {
		page.Events = append(page.Events, dto.MicrosoftEvent{Event: ev, Removed: ev.Removed != nil})
	}
	if page.NextPageToken == "" {
		page.NextCursor = list.DeltaLink
	}
	return page, nil
}

// FetchEvent loads an event named in a change notification. A 404 means it was deleted.
func (c *MicrosoftClient) FetchEvent(ctx context.Context, token string, _ *calEntity.CalendarConnection, ref string) (dto.ProviderEvent, error) {
	if ref == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "event id is required", nil)
	}
	var ev dto.GraphEvent
	err := do(ctx, c.http, request{
		op: "MicrosoftClient:FetchEvent", method: http.MethodGet,
		url: c.baseURL + "/me/events/" + url.PathEscape(ref), token: token,
		headers: map[string]string{"Prefer": `outlook.timezone="UTC"`},
	}, &ev)
	if err != nil {
		return nil, err
	}
	return dto.MicrosoftEvent{Event: ev}, nil
}

// sameOrigin refuses continuation links that point outside the Graph base URL, so a
// stored cursor cannot send the access token elsewhere.
func (c *MicrosoftClient) sameOrigin(link string) (string, error) {
	if !strings.HasPrefix(link, c.baseURL+"/") {
		return "", errors.NewAppError(errors.ErrCursorExpired, "continuation link does not match the graph endpoint", nil)
	}
	return link, nil
}
