package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"calendar-sync-api/core/cache"
	"calendar-sync-api/core/constants"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/metrics"
	botClient "calendar-sync-api/modules/bot/client"
	calEntity "calendar-sync-api/modules/calendar/entity"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	meetingEntity "calendar-sync-api/modules/meeting/entity"
	pollingService "calendar-sync-api/modules/polling/service"
	"calendar-sync-api/modules/provider/client"
	providerDto "calendar-sync-api/modules/provider/dto"
	"calendar-sync-api/modules/provider/translator"
	tokenService "calendar-sync-api/modules/token/service"
	"calendar-sync-api/modules/webhook/verifier"
)

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeHandshake = "handshake"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"

	// SourceRecall labels recording bot deliveries, which have no calendar provider.
	SourceRecall = "recall"
)

type Verifier interface {
	Calendly(ctx context.Context, raw []byte, h http.Header) (*verifier.Identity, error)
	Google(ctx context.Context, h http.Header) (*verifier.Identity, error)
	Microsoft(ctx context.Context, raw []byte) ([]verifier.GraphDelivery, error)
	Recall(raw []byte, h http.Header) error
}

type Ingestor interface {
	Ingest(ctx context.Context, scope meetingDto.Scope, ev providerDto.ProviderEvent) (*meetingDto.ApplyResult, error)
	IngestOperation(ctx context.Context, scope meetingDto.Scope, op meetingDto.Operation) (*meetingDto.ApplyResult, error)
}

type Poller interface {
	Poll(ctx context.Context, conn *calEntity.CalendarConnection) (*pollingService.RunResult, error)
}

type BotReconciler interface {
	ApplyBotStatus(ctx context.Context, update meetingDto.BotStatusUpdate) (*meetingDto.ApplyResult, error)
}

type Transcripts interface {
	Transcript(ctx context.Context, botID string) (string, error)
}

// Result is what a delivery did. Applied counts operations handed to the meeting store.
type Result struct {
	Outcome string
	Applied int
}

// WebhookService turns verified provider deliveries into meeting operations. Nothing
// is written before verification succeeds, and ownership always comes from the
// verified subscription.
type WebhookService struct {
	verifier    Verifier
	clients     *client.Registry
	tokens      tokenService.TokenStore
	ingestor    Ingestor
	poller      Poller
	bots        BotReconciler
	transcripts Transcripts
	cache       cache.Cache
}

func NewWebhookService(
	v Verifier,
	clients *client.Registry,
	tokens tokenService.TokenStore,
	ingestor Ingestor,
	poller Poller,
	bots BotReconciler,
	transcripts Transcripts,
	c cache.Cache,
) *WebhookService {
	if c == nil {
		c = cache.NewNoopCache()
	}
	return &WebhookService{
		verifier:    v,
		clients:     clients,
		tokens:      tokens,
		ingestor:    ingestor,
		poller:      poller,
		bots:        bots,
		transcripts: transcripts,
		cache:       c,
	}
}

func scopeOf(conn *calEntity.CalendarConnection) meetingDto.Scope {
	return meetingDto.Scope{UserID: conn.UserID, TenantID: conn.TenantID, ConnectionID: conn.ID, Provider: conn.Provider}
}

func record(source string, res *Result, err error) {
	outcome := OutcomeError
	switch {
	case errors.IsCode(err, errors.ErrSignatureInvalid):
		outcome = OutcomeRejected
	case err == nil && res != nil:
		outcome = res.Outcome
	}
	metrics.WebhookRequestsTotal.WithLabelValues(source, outcome).Inc()
}

// claim marks a delivery as being processed. The returned release undoes the claim
// so a failed delivery can be redelivered.
func (s *WebhookService) claim(ctx context.Context, source, owner, eventID string) (bool, func()) {
	key := constants.RedisKeyWebhookDelivery + source + ":" + owner + ":" + eventID
	ok, err := s.cache.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), constants.WebhookDeliveryTTL)
	if err != nil {
		// The store is idempotent; a cache outage only costs a re-apply.
		logger.Warn("WebhookService:Claim:Error", "key", key, "error", err)
		return true, func() {}
	}
	return ok, func() {
		if err := s.cache.Del(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("WebhookService:Release:Error", "key", key, "error", err)
		}
	}
}

func (s *WebhookService) token(ctx context.Context, conn *calEntity.CalendarConnection) (client.Client, string, error) {
	c, err := s.clients.Get(conn.Provider)
	if err != nil {
		return nil, "", err
	}
	token, err := s.tokens.GetValidAccessTokenForConnection(ctx, conn)
	if err != nil {
		return nil, "", err
	}
	return c, token, nil
}

// HandleCalendly verifies and applies one Calendly invitee delivery.
func (s *WebhookService) HandleCalendly(ctx context.Context, raw []byte, h http.Header) (res *Result, err error) {
	defer func() { record(coreEntity.ProviderCalendly.String(), res, err) }()

	id, err := s.verifier.Calendly(ctx, raw, h)
	if err != nil {
		logger.Warn("WebhookService:Calendly:Rejected", "error", err)
		return nil, err
	}
	conn := id.Connection
	if !conn.IsActive {
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	var body providerDto.CalendlyWebhook
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidRequestData, "malformed calendly payload", err)
	}
	switch body.Event {
	case providerDto.CalendlyInviteeCreated, providerDto.CalendlyInviteeCanceled, providerDto.CalendlyInviteeUpdated:
	default:
		logger.Info("WebhookService:Calendly:Unsupported", "event", body.Event, "connection_id", conn.ID)
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	eventURI := body.Payload.EventURI()
	if eventURI == "" {
		return nil, errors.NewAppError(errors.ErrInvalidRequestData, "calendly payload without scheduled event", nil)
	}

	ok, release := s.claim(ctx, coreEntity.ProviderCalendly.String(), conn.UserID.String(),
		body.Event+"|"+body.Payload.URI+"|"+body.CreatedAt.UTC().Format(time.RFC3339Nano))
	if !ok {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	ev, err := s.calendlyEvent(ctx, conn, body)
	if err == nil {
		_, err = s.ingestor.Ingest(ctx, scopeOf(conn), ev)
	}
	if err != nil {
		release()
		logger.Error("WebhookService:Calendly:Error", "connection_id", conn.ID, "event", body.Event, "error", err)
		return nil, err
	}
	logger.Info("WebhookService:Calendly", "connection_id", conn.ID, "event", body.Event, "external_id", translator.CalendlyExternalID(eventURI))
	return &Result{Outcome: OutcomeApplied, Applied: 1}, nil
}

// calendlyEvent uses the scheduled event embedded in the delivery and fetches it when
// Calendly left it out. A cancellation needs only the uri.
func (s *WebhookService) calendlyEvent(ctx context.Context, conn *calEntity.CalendarConnection, body providerDto.CalendlyWebhook) (providerDto.ProviderEvent, error) {
	invitee := body.Payload.Invitee()
	if se := body.Payload.ScheduledEvent; se != nil && se.URI != "" {
		return providerDto.CalendlyEvent{Trigger: body.Event, Event: *se, Invitees: []providerDto.CalendlyInvitee{invitee}}, nil
	}
	if body.Event == providerDto.CalendlyInviteeCanceled {
		return providerDto.CalendlyEvent{
			Trigger: body.Event,
			Event:   providerDto.CalendlyScheduledEvent{URI: body.Payload.EventURI()},
		}, nil
	}

	c, token, err := s.token(ctx, conn)
	if err != nil {
		return nil, err
	}
	fetched, err := c.FetchEvent(ctx, token, conn, body.Payload.EventURI())
	if err != nil {
		return nil, err
	}
	ev, ok := fetched.(providerDto.CalendlyEvent)
	if !ok {
		return nil, errors.NewAppError(errors.ErrInternalServer, "calendly client returned a foreign event", nil)
	}
	ev.Trigger = body.Event
	return ev, nil
}

// HandleGoogle verifies a push notification and pulls the connection's changes.
// Google pushes carry no event data.
func (s *WebhookService) HandleGoogle(ctx context.Context, h http.Header) (res *Result, err error) {
	defer func() { record(coreEntity.ProviderGoogle.String(), res, err) }()

	id, err := s.verifier.Google(ctx, h)
	if err != nil {
		logger.Warn("WebhookService:Google:Rejected", "channel_id", h.Get(verifier.HeaderGoogleChannelID), "error", err)
		return nil, err
	}
	conn := id.Connection
	state := h.Get(verifier.HeaderGoogleResourceState)
	if state == "sync" {
		return &Result{Outcome: OutcomeHandshake}, nil
	}
	if !conn.IsActive {
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	ok, release := s.claim(ctx, coreEntity.ProviderGoogle.String(), conn.UserID.String(),
		id.Subscription.ExternalSubscriptionID+":"+h.Get(verifier.HeaderGoogleMessageNumber))
	if !ok {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	run, err := s.poller.Poll(ctx, conn)
	if err != nil {
		if errors.IsCode(err, errors.ErrAuthExpired) {
			// The poller has deactivated the connection; redelivery would not help.
			return &Result{Outcome: OutcomeIgnored}, nil
		}
		release()
		return nil, err
	}
	applied := 0
	for _, n := range run.Transitions {
		applied += n
	}
	logger.Info("WebhookService:Google", "connection_id", conn.ID, "state", state, "events", run.Events)
	return &Result{Outcome: OutcomeApplied, Applied: applied}, nil
}

// HandleMicrosoft verifies a Graph batch and applies each notification. Deleted
// notifications tombstone; the others fetch the current event.
func (s *WebhookService) HandleMicrosoft(ctx context.Context, raw []byte) (res *Result, err error) {
	defer func() { record(coreEntity.ProviderMicrosoft.String(), res, err) }()

	deliveries, err := s.verifier.Microsoft(ctx, raw)
	if err != nil {
		logger.Warn("WebhookService:Microsoft:Rejected", "error", err)
		return nil, err
	}

	res = &Result{Outcome: OutcomeIgnored}
	failed := 0
	var firstErr error
	for _, d := range deliveries {
		applied, err := s.applyGraph(ctx, d)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.Error("WebhookService:Microsoft:Error", "connection_id", d.Connection.ID, "change", d.Notification.ChangeType, "error", err)
			continue
		}
		if applied {
			res.Applied++
			res.Outcome = OutcomeApplied
		}
	}
	if failed > 0 {
		// Graph redelivers the whole batch; already applied notifications are idempotent.
		return nil, errors.NewAppError(errors.ErrPartialBatchFailure, "graph notifications failed", firstErr)
	}
	return res, nil
}

func (s *WebhookService) applyGraph(ctx context.Context, d verifier.GraphDelivery) (bool, error) {
	conn := d.Connection
	if !conn.IsActive {
		return false, nil
	}
	eventID := graphEventID(d.Notification)
	if eventID == "" {
		return false, errors.NewAppError(errors.ErrInvalidRequestData, "graph notification without resource id", nil)
	}
	scope := scopeOf(conn)

	if d.Notification.ChangeType == providerDto.GraphChangeDeleted {
		_, err := s.ingestor.IngestOperation(ctx, scope, meetingDto.Tombstone(eventID))
		return err == nil, err
	}

	c, token, err := s.token(ctx, conn)
	if err != nil {
		return false, err
	}
	ev, err := c.FetchEvent(ctx, token, conn, eventID)
	if err != nil {
		if errors.IsNotFound(err) {
			_, err = s.ingestor.IngestOperation(ctx, scope, meetingDto.Tombstone(eventID))
			return err == nil, err
		}
		return false, err
	}
	_, err = s.ingestor.Ingest(ctx, scope, ev)
	return err == nil, err
}

// graphEventID prefers resourceData.id and falls back to the last segment of the
// resource path, e.g. "Users/<id>/Events/<event id>".
func graphEventID(n providerDto.GraphNotification) string {
	if n.ResourceData != nil && n.ResourceData.ID != "" {
		return n.ResourceData.ID
	}
	res := strings.TrimRight(n.Resource, "/")
	if i := strings.LastIndex(res, "/"); i >= 0 {
		return res[i+1:]
	}
	return ""
}

type recallCode struct {
	Code    string  `json:"code"`
	SubCode *string `json:"sub_code"`
}

type recallWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Bot *struct {
			ID string `json:"id"`
		} `json:"bot"`
		BotID  string      `json:"bot_id"`
		Data   *recallCode `json:"data"`
		Status *recallCode `json:"status"`
	} `json:"data"`
}

// botID and code accept both the per-code events ("bot.done" with data.data.code)
// and the older "bot.status_change" shape with data.status.
func (w recallWebhook) botID() string {
	if w.Data.Bot != nil && w.Data.Bot.ID != "" {
		return w.Data.Bot.ID
	}
	return w.Data.BotID
}

func (w recallWebhook) code() (string, *string) {
	switch {
	case w.Data.Data != nil && w.Data.Data.Code != "":
		return w.Data.Data.Code, w.Data.Data.SubCode
	case w.Data.Status != nil && w.Data.Status.Code != "":
		return w.Data.Status.Code, w.Data.Status.SubCode
	case w.Event == "transcript.done":
		return "done", nil
	case strings.HasPrefix(w.Event, "bot."):
		return strings.TrimPrefix(w.Event, "bot."), nil
	}
	return "", nil
}

// HandleRecall verifies a bot lifecycle delivery and applies it by bot id.
func (s *WebhookService) HandleRecall(ctx context.Context, raw []byte, h http.Header) (res *Result, err error) {
	defer func() { record(SourceRecall, res, err) }()

	if err := s.verifier.Recall(raw, h); err != nil {
		logger.Warn("WebhookService:Recall:Rejected", "error", err)
		return nil, err
	}
	var body recallWebhook
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidRequestData, "malformed bot payload", err)
	}
	botID := body.botID()
	if botID == "" {
		return nil, errors.NewAppError(errors.ErrInvalidRequestData, "bot payload without bot id", nil)
	}
	code, subCode := body.code()
	status, ok := botClient.MapStatusCode(code)
	if !ok {
		logger.Debug("WebhookService:Recall:Ignored", "bot_id", botID, "event", body.Event, "code", code)
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	ok, release := s.claim(ctx, SourceRecall, botID, h.Get(verifier.HeaderSvixID))
	if !ok {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	update := meetingDto.BotStatusUpdate{BotID: botID, Status: status}
	switch status {
	case meetingEntity.RecallStatusFailed:
		reason := code
		if subCode != nil && *subCode != "" {
			reason = *subCode
		}
		update.Error = &reason
	case meetingEntity.RecallStatusDone, meetingEntity.RecallStatusWaitingRoom:
		if subCode != nil && *subCode != "" {
			update.Error = subCode
		}
	case meetingEntity.RecallStatusCompleted:
		text, terr := s.transcripts.Transcript(ctx, botID)
		if terr != nil {
			release()
			logger.Warn("WebhookService:Recall:Transcript", "bot_id", botID, "error", terr)
			// Not ready yet or unreachable; the sender retries the delivery.
			return nil, errors.NewAppError(errors.ErrProviderTransient, "transcript not available", terr)
		}
		update.Transcript = &text
	}

	out, err := s.bots.ApplyBotStatus(ctx, update)
	if err != nil {
		release()
		return nil, err
	}
	if out.Transition == meetingDto.TransitionNoop {
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	return &Result{Outcome: OutcomeApplied, Applied: 1}, nil
}
