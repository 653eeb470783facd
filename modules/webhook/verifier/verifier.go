package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/calendar/entity"
	providerDto "calendar-sync-api/modules/provider/dto"

	"github.com/google/uuid"
)

const (
	HeaderCalendlySignature = "Calendly-Webhook-Signature"

	HeaderGoogleChannelID     = "X-Goog-Channel-Id"
	HeaderGoogleChannelToken  = "X-Goog-Channel-Token"
	HeaderGoogleResourceID    = "X-Goog-Resource-Id"
	HeaderGoogleResourceState = "X-Goog-Resource-State"
	HeaderGoogleMessageNumber = "X-Goog-Message-Number"

	HeaderSvixID        = "Svix-Id"
	HeaderSvixTimestamp = "Svix-Timestamp"
	HeaderSvixSignature = "Svix-Signature"
)

type SubscriptionStore interface {
	GetByExternalID(ctx context.Context, provider coreEntity.Provider, externalID string) (*entity.WebhookSubscription, error)
	ListActiveByProvider(ctx context.Context, provider coreEntity.Provider) ([]entity.WebhookSubscription, error)
}

type ConnectionStore interface {
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*entity.CalendarConnection, error)
}

// Identity is the owner of a verified delivery. It comes from the matched
// subscription record only.
type Identity struct {
	Connection   *entity.CalendarConnection
	Subscription *entity.WebhookSubscription
}

// GraphDelivery is one verified notification of a Graph batch.
type GraphDelivery struct {
	Identity
	Notification providerDto.GraphNotification
}

type Verifier struct {
	subs         SubscriptionStore
	connections  ConnectionStore
	recallSecret string
	tolerance    time.Duration
	now          func() time.Time
}

// NewVerifier builds a Verifier. A zero tolerance disables timestamp checks.
func NewVerifier(subs SubscriptionStore, connections ConnectionStore, recallSecret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		subs:         subs,
		connections:  connections,
		recallSecret: recallSecret,
		tolerance:    tolerance,
		now:          time.Now,
	}
}

func invalid(reason string) error {
	return errors.New(errors.ErrSignatureInvalid, reason)
}

// Calendly checks the Calendly-Webhook-Signature header, "t=<unix>,v1=<hex>", against
// HMAC-SHA256(signing key, t + "." + body) for each active Calendly subscription.
func (v *Verifier) Calendly(ctx context.Context, raw []byte, h http.Header) (*Identity, error) {
	ts, sig, err := parseCalendlySignature(h.Get(HeaderCalendlySignature))
	if err != nil {
		return nil, err
	}
	if err := v.checkTimestamp(ts); err != nil {
		return nil, err
	}
	want, err := hex.DecodeString(sig)
	if err != nil || len(want) != sha256.Size {
		return nil, invalid("malformed calendly signature")
	}

	subs, err := v.subs.ListActiveByProvider(ctx, coreEntity.ProviderCalendly)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		sub := &subs[i]
		if sub.SigningKey == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(sub.SigningKey))
		mac.Write([]byte(ts))
		mac.Write([]byte("."))
		mac.Write(raw)
		if hmac.Equal(mac.Sum(nil), want) {
			return v.resolve(ctx, sub)
		}
	}
	return nil, invalid("calendly signature matches no subscription")
}

func parseCalendlySignature(header string) (ts, sig string, err error) {
	if header == "" {
		return "", "", invalid("missing calendly signature")
	}
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", "", invalid("malformed calendly signature")
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sig = val
		}
	}
	if ts == "" || sig == "" {
		return "", "", invalid("malformed calendly signature")
	}
	return ts, sig, nil
}

// Google matches the channel headers against the stored channel. Google does not
// sign bodies; the channel token is the per-subscription secret.
func (v *Verifier) Google(ctx context.Context, h http.Header) (*Identity, error) {
	channelID := h.Get(HeaderGoogleChannelID)
	token := h.Get(HeaderGoogleChannelToken)
	if channelID == "" || token == "" {
		return nil, invalid("missing google channel headers")
	}
	sub, err := v.subs.GetByExternalID(ctx, coreEntity.ProviderGoogle, channelID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, invalid("unknown google channel")
		}
		return nil, err
	}
	if !equal(token, sub.SigningKey) {
		return nil, invalid("google channel token mismatch")
	}
	if sub.ResourceID != "" && !equal(h.Get(HeaderGoogleResourceID), sub.ResourceID) {
		return nil, invalid("google resource id mismatch")
	}
	return v.resolve(ctx, sub)
}

// Microsoft verifies each notification of a Graph batch by clientState on its own.
// Graph posts every tenant's notifications to the same URL, so a notification for an
// unknown subscription or with a wrong clientState is dropped without affecting the
// rest. The batch is rejected only when no notification verifies.
func (v *Verifier) Microsoft(ctx context.Context, raw []byte) ([]GraphDelivery, error) {
	var batch providerDto.GraphNotificationBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, invalid("malformed graph notification")
	}
	if len(batch.Value) == 0 {
		return nil, invalid("empty graph notification")
	}

	out := make([]GraphDelivery, 0, len(batch.Value))
	resolved := make(map[string]*Identity, 1)
	var firstInvalid error
	for _, n := range batch.Value {
		id, err := v.graphIdentity(ctx, n, resolved)
		if err != nil {
			if !errors.IsCode(err, errors.ErrSignatureInvalid) {
				return nil, err
			}
			logger.Warn("Verifier:Microsoft:Dropped", "subscription_id", n.SubscriptionID, "error", err)
			if firstInvalid == nil {
				firstInvalid = err
			}
			continue
		}
		out = append(out, GraphDelivery{Identity: *id, Notification: n})
	}
	if len(out) == 0 {
		return nil, firstInvalid
	}
	return out, nil
}

func (v *Verifier) graphIdentity(ctx context.Context, n providerDto.GraphNotification, resolved map[string]*Identity) (*Identity, error) {
	if n.SubscriptionID == "" || n.ClientState == "" {
		return nil, invalid("graph notification without subscription or clientState")
	}
	if id, ok := resolved[n.SubscriptionID]; ok {
		if !equal(n.ClientState, id.Subscription.SigningKey) {
			return nil, invalid("graph clientState mismatch")
		}
		return id, nil
	}
	sub, err := v.subs.GetByExternalID(ctx, coreEntity.ProviderMicrosoft, n.SubscriptionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, invalid("unknown graph subscription")
		}
		return nil, err
	}
	if !equal(n.ClientState, sub.SigningKey) {
		return nil, invalid("graph clientState mismatch")
	}
	id, err := v.resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	resolved[n.SubscriptionID] = id
	return id, nil
}

// Recall checks a Svix-signed delivery: HMAC-SHA256 over "id.timestamp.body" keyed
// with the base64 part of the "whsec_" secret. The signature header may carry several
// space separated "v1,<base64>" entries.
func (v *Verifier) Recall(raw []byte, h http.Header) error {
	if v.recallSecret == "" {
		logger.Error("Verifier:Recall:NoSecret")
		return invalid("recording bot webhook secret is not configured")
	}
	id, ts, header := h.Get(HeaderSvixID), h.Get(HeaderSvixTimestamp), h.Get(HeaderSvixSignature)
	if id == "" || ts == "" || header == "" {
		return invalid("missing svix headers")
	}
	if err := v.checkTimestamp(ts); err != nil {
		return err
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v.recallSecret, "whsec_"))
	if err != nil {
		logger.Error("Verifier:Recall:BadSecret", "error", err)
		return invalid("recording bot webhook secret is malformed")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(raw)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(header) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return invalid("svix signature mismatch")
}

func (v *Verifier) checkTimestamp(ts string) error {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return invalid("malformed signature timestamp")
	}
	if v.tolerance <= 0 {
		return nil
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return invalid("signature timestamp outside tolerance")
	}
	return nil
}

func (v *Verifier) resolve(ctx context.Context, sub *entity.WebhookSubscription) (*Identity, error) {
	conn, err := v.connections.GetConnectionByID(ctx, sub.ConnectionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, invalid("subscription has no connection")
		}
		return nil, err
	}
	if conn.UserID != sub.UserID {
		logger.Error("Verifier:OwnerMismatch", "subscription_id", sub.ID, "connection_id", conn.ID)
		return nil, invalid("subscription owner mismatch")
	}
	return &Identity{Connection: conn, Subscription: sub}, nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
