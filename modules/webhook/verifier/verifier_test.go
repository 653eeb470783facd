package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/calendartest"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *calendartest.Store
	v     *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := calendartest.NewStore()
	v := NewVerifier(store, store, "whsec_"+base64.StdEncoding.EncodeToString([]byte("recall-secret")), 5*time.Minute)
	v.now = func() time.Time { return now }
	return &fixture{store: store, v: v}
}

func (f *fixture) subscribe(t *testing.T, p coreEntity.Provider, externalID, key, resourceID string) *entity.CalendarConnection {
	t.Helper()
	conn := f.store.AddConnection(&entity.CalendarConnection{UserID: uuid.New(), Provider: p, IsActive: true, SyncMethod: entity.SyncMethodWebhook})
	_, err := f.store.Save(t.Context(), &entity.WebhookSubscription{
		ConnectionID: conn.ID, UserID: conn.UserID, Provider: p,
		ExternalSubscriptionID: externalID, SigningKey: key, ResourceID: resourceID,
	})
	require.NoError(t, err)
	return conn
}

func calendlyHeader(key string, ts int64, body []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "."))
	mac.Write(body)
	h := http.Header{}
	h.Set(HeaderCalendlySignature, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func assertInvalid(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSignatureInvalid), "got %v", err)
}

func TestCalendlyResolvesSigningSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, coreEntity.ProviderCalendly, "hook-a", "key-a", "")
	owner := f.subscribe(t, coreEntity.ProviderCalendly, "hook-b", "key-b", "")
	body := []byte(`{"event":"invitee.created","payload":{"created_by":"someone-else"}}`)

	id, err := f.v.Calendly(t.Context(), body, calendlyHeader("key-b", now.Unix(), body))
	require.NoError(t, err)
	assert.Equal(t, owner.ID, id.Connection.ID)
	assert.Equal(t, owner.UserID, id.Connection.UserID)
	assert.Equal(t, "hook-b", id.Subscription.ExternalSubscriptionID)
}

func TestCalendlyRejectsEveryFlippedSignatureBit(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, coreEntity.ProviderCalendly, "hook-a", "key-a", "")
	body := []byte(`{"event":"invitee.created"}`)
	mac := hmac.New(sha256.New, []byte("key-a"))
	mac.Write([]byte(strconv.FormatInt(now.Unix(), 10) + "."))
	mac.Write(body)
	sig := mac.Sum(nil)

	for bit := 0; bit < len(sig)*8; bit++ {
		flipped := append([]byte(nil), sig...)
		flipped[bit/8] ^= 1 << (bit % 8)
		h := http.Header{}
		h.Set(HeaderCalendlySignature, fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(flipped)))
		_, err := f.v.Calendly(t.Context(), body, h)
		assertInvalid(t, err)
	}
}

func TestCalendlyRejectsMalformedOrStale(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, coreEntity.ProviderCalendly, "hook-a", "key-a", "")
	body := []byte(`{}`)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no timestamp", "v1=abcd"},
		{"no signature", fmt.Sprintf("t=%d", now.Unix())},
		{"garbage", "nonsense"},
		{"short signature", fmt.Sprintf("t=%d,v1=abcd", now.Unix())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set(HeaderCalendlySignature, tt.header)
			}
			_, err := f.v.Calendly(t.Context(), body, h)
			assertInvalid(t, err)
		})
	}

	t.Run("stale", func(t *testing.T) {
		_, err := f.v.Calendly(t.Context(), body, calendlyHeader("key-a", now.Add(-10*time.Minute).Unix(), body))
		assertInvalid(t, err)
	})
	t.Run("tampered body", func(t *testing.T) {
		h := calendlyHeader("key-a", now.Unix(), body)
		_, err := f.v.Calendly(t.Context(), []byte(`{"x":1}`), h)
		assertInvalid(t, err)
	})
}

func TestCalendlyIgnoresInactiveConnections(t *testing.T) {
	f := newFixture(t)
	conn := f.subscribe(t, coreEntity.ProviderCalendly, "hook-a", "key-a", "")
	require.NoError(t, f.store.MarkInactive(t.Context(), conn.ID, "switched"))
	body := []byte(`{}`)

	_, err := f.v.Calendly(t.Context(), body, calendlyHeader("key-a", now.Unix(), body))
	assertInvalid(t, err)
}

func googleHeader(channel, token, resource string) http.Header {
	h := http.Header{}
	h.Set(HeaderGoogleChannelID, channel)
	h.Set(HeaderGoogleChannelToken, token)
	h.Set(HeaderGoogleResourceID, resource)
	return h
}

func TestGoogleMatchesChannel(t *testing.T) {
	f := newFixture(t)
	conn := f.subscribe(t, coreEntity.ProviderGoogle, "cal-1", "token-1", "res-1")

	id, err := f.v.Google(t.Context(), googleHeader("cal-1", "token-1", "res-1"))
	require.NoError(t, err)
	assert.Equal(t, conn.ID, id.Connection.ID)

	for name, h := range map[string]http.Header{
		"unknown channel": googleHeader("cal-2", "token-1", "res-1"),
		"wrong token":     googleHeader("cal-1", "token-2", "res-1"),
		"wrong resource":  googleHeader("cal-1", "token-1", "res-2"),
		"no token":        googleHeader("cal-1", "", "res-1"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.v.Google(t.Context(), h)
			assertInvalid(t, err)
		})
	}
}

func TestMicrosoftVerifiesBatch(t *testing.T) {
	f := newFixture(t)
	a := f.subscribe(t, coreEntity.ProviderMicrosoft, "sub-a", "state-a", "")
	b := f.subscribe(t, coreEntity.ProviderMicrosoft, "sub-b", "state-b", "")

	body := []byte(`{"value":[
		{"subscriptionId":"sub-a","clientState":"state-a","changeType":"updated","resourceData":{"id":"e1"}},
		{"subscriptionId":"sub-b","clientState":"state-b","changeType":"deleted","resourceData":{"id":"e2"}}]}`)
	out, err := f.v.Microsoft(t.Context(), body)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, a.ID, out[0].Connection.ID)
	assert.Equal(t, "e1", out[0].Notification.ResourceData.ID)
	assert.Equal(t, b.ID, out[1].Connection.ID)

	forged := []byte(`{"value":[
		{"subscriptionId":"sub-a","clientState":"state-b","changeType":"updated"},
		{"subscriptionId":"sub-b","clientState":"state-a","changeType":"updated"}]}`)
	_, err = f.v.Microsoft(t.Context(), forged)
	assertInvalid(t, err)

	_, err = f.v.Microsoft(t.Context(), []byte(`{"value":[]}`))
	assertInvalid(t, err)
	_, err = f.v.Microsoft(t.Context(), []byte(`not json`))
	assertInvalid(t, err)
}

func TestMicrosoftDropsStaleNotificationAndKeepsTheRest(t *testing.T) {
	f := newFixture(t)
	live := f.subscribe(t, coreEntity.ProviderMicrosoft, "sub-live", "state-live", "")

	body := []byte(`{"value":[
		{"subscriptionId":"sub-live","clientState":"state-live","changeType":"updated","resourceData":{"id":"e1"}},
		{"subscriptionId":"sub-stale","clientState":"state-stale","changeType":"updated","resourceData":{"id":"e2"}},
		{"subscriptionId":"sub-live","clientState":"wrong","changeType":"deleted","resourceData":{"id":"e3"}}]}`)
	out, err := f.v.Microsoft(t.Context(), body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, live.ID, out[0].Connection.ID)
	assert.Equal(t, "e1", out[0].Notification.ResourceData.ID)

	_, err = f.v.Microsoft(t.Context(), []byte(`{"value":[
		{"subscriptionId":"sub-stale","clientState":"state-stale","changeType":"updated"}]}`))
	assertInvalid(t, err)
}

func svixHeader(secret []byte, id string, ts int64, body []byte) http.Header {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%s.%d.", id, ts)))
	mac.Write(body)
	h := http.Header{}
	h.Set(HeaderSvixID, id)
	h.Set(HeaderSvixTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSvixSignature, "v1,bm90LWl0 v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return h
}

func TestRecallSvixSignature(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"bot.done","data":{"bot":{"id":"bot-1"}}}`)

	require.NoError(t, f.v.Recall(body, svixHeader([]byte("recall-secret"), "msg_1", now.Unix(), body)))

	assertInvalid(t, f.v.Recall(body, svixHeader([]byte("other-secret"), "msg_1", now.Unix(), body)))
	assertInvalid(t, f.v.Recall([]byte(`{}`), svixHeader([]byte("recall-secret"), "msg_1", now.Unix(), body)))
	assertInvalid(t, f.v.Recall(body, svixHeader([]byte("recall-secret"), "msg_1", now.Add(-time.Hour).Unix(), body)))
	assertInvalid(t, f.v.Recall(body, http.Header{}))

	unconfigured := NewVerifier(f.store, f.store, "", 0)
	assertInvalid(t, unconfigured.Recall(body, svixHeader([]byte("recall-secret"), "msg_1", now.Unix(), body)))
}
