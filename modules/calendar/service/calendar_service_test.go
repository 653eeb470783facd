package service

import (
	"sync"
	"testing"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/calendartest"
	"calendar-sync-api/modules/calendar/dto"
	"calendar-sync-api/modules/calendar/entity"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/meetingtest"
	meetingService "calendar-sync-api/modules/meeting/service"
	pollingService "calendar-sync-api/modules/polling/service"
	"calendar-sync-api/modules/provider/client"
	providerDto "calendar-sync-api/modules/provider/dto"
	"calendar-sync-api/modules/provider/providertest"
	subscriptionService "calendar-sync-api/modules/subscription/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingScheduler notes whether the connection row still existed when its
// polling task was cancelled.
type recordingScheduler struct {
	mu        sync.Mutex
	store     *calendartest.Store
	scheduled []uuid.UUID
	cancelled []uuid.UUID
	rowAtStop map[uuid.UUID]bool
}

func (r *recordingScheduler) Schedule(conn *entity.CalendarConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, conn.ID)
}

func (r *recordingScheduler) Cancel(id uuid.UUID) {
	present := r.store.Connection(id) != nil
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
	r.rowAtStop[id] = present
}

type harness struct {
	store     *calendartest.Store
	meetings  *meetingtest.Store
	calendly  *providertest.Client
	google    *providertest.Client
	microsoft *providertest.Client
	tokens    *providertest.Tokens
	scheduler *recordingScheduler
	svc       CalendarService
}

func newHarness() *harness {
	store := calendartest.NewStore()
	h := &harness{
		store:     store,
		meetings:  meetingtest.NewStore(),
		calendly:  providertest.NewClient(coreEntity.ProviderCalendly),
		google:    providertest.NewClient(coreEntity.ProviderGoogle),
		microsoft: providertest.NewClient(coreEntity.ProviderMicrosoft),
		tokens:    providertest.NewTokens(),
		scheduler: &recordingScheduler{store: store, rowAtStop: make(map[uuid.UUID]bool)},
	}
	registry := client.NewRegistry(h.calendly, h.google, h.microsoft)
	manager := subscriptionService.NewManager(registry, h.tokens, store, store, h.scheduler, nil, "https://crm.example.com", 48*time.Hour)
	ingestor := meetingService.NewIngestor(meetingService.NewReconciler(h.meetings, nil), nil)
	poller := pollingService.NewPoller(registry, h.tokens, store, store, ingestor, nil)
	h.svc = NewCalendarService(store, store, h.tokens, manager, h.scheduler, poller)
	return h
}

func (h *harness) connect(t *testing.T, userID uuid.UUID, provider string) *dto.ConnectionResponse {
	t.Helper()
	resp, err := h.svc.Connect(t.Context(), userID, uuid.New(), &dto.ConnectRequest{
		Provider: provider, AccessToken: "access", RefreshToken: "refresh", AccountEmail: "advisor@example.com",
	})
	require.NoError(t, err)
	return resp
}

func mustParse(t *testing.T, id string) uuid.UUID {
	t.Helper()
	u, err := uuid.Parse(id)
	require.NoError(t, err)
	return u
}

func upcoming(id, status string) providerDto.ProviderEvent {
	start := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	return providerDto.CalendlyEvent{
		Event: providerDto.CalendlyScheduledEvent{
			URI:       "https://api.calendly.com/scheduled_events/" + id,
			Name:      "Plan review " + id,
			Status:    status,
			StartTime: start,
			EndTime:   start.Add(45 * time.Minute),
			Location:  &providerDto.CalendlyLocation{Type: "google_conference", JoinURL: "https://meet.google.com/abc-" + id},
		},
		Invitees: []providerDto.CalendlyInvitee{{Email: id + "@client.example.com", Status: "active"}},
	}
}

func TestConnectOnPlanWithoutWebhooksPollsToConsistentState(t *testing.T) {
	h := newHarness()
	h.calendly.CreateFunc = func(*entity.CalendarConnection, client.SubscriptionRequest) (*client.RemoteSubscription, error) {
		return nil, errors.NewAppError(errors.ErrWebhookUnsupported, "webhooks need a paid plan", nil)
	}
	userID := uuid.New()

	resp := h.connect(t, userID, "calendly")
	assert.True(t, resp.IsActive)
	assert.Equal(t, "polling", resp.State)
	connID := mustParse(t, resp.ID)
	assert.Equal(t, []uuid.UUID{connID}, h.scheduler.scheduled)
	assert.Empty(t, h.store.Subscriptions())

	cancelled := false
	h.calendly.PageFunc = func(cursor, pageToken string) (*client.EventPage, error) {
		second := providerDto.CalendlyStatusActive
		if cancelled {
			second = providerDto.CalendlyStatusCanceled
		}
		return &client.EventPage{
			Events:     []providerDto.ProviderEvent{upcoming("A", providerDto.CalendlyStatusActive), upcoming("B", second), upcoming("C", providerDto.CalendlyStatusActive)},
			NextCursor: "2026-10-18T00:00:00Z",
		}, nil
	}

	run, err := h.svc.SyncNow(t.Context(), userID, connID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Transitions[string(meetingDto.TransitionCreated)])
	require.Len(t, h.meetings.All(), 3)

	cancelled = true
	run, err = h.svc.SyncNow(t.Context(), userID, connID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Transitions[string(meetingDto.TransitionTombstoned)])

	deleted := 0
	for _, m := range h.meetings.All() {
		if m.IsDeleted {
			deleted++
			assert.Equal(t, "calendly_B", m.ExternalID)
		}
	}
	assert.Equal(t, 1, deleted)
}

func activeProviders(t *testing.T, h *harness, userID uuid.UUID) []string {
	t.Helper()
	conns, err := h.svc.GetConnections(t.Context(), userID)
	require.NoError(t, err)
	var active []string
	for _, c := range conns {
		if c.IsActive {
			active = append(active, c.Provider)
		}
	}
	return active
}

func TestConnectDeactivatesEveryOtherConnection(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	googleConn := h.connect(t, userID, "google")
	assert.Equal(t, "webhook", googleConn.State)
	require.Len(t, h.store.Subscriptions(), 1)

	outlookConn := h.connect(t, userID, "outlook")
	assert.Equal(t, "microsoft", outlookConn.Provider)
	assert.True(t, outlookConn.IsActive)
	assert.Equal(t, []string{"microsoft"}, activeProviders(t, h, userID))

	assert.False(t, h.store.Connection(mustParse(t, googleConn.ID)).IsActive)
	assert.Len(t, h.google.Deleted(), 1)
	assert.Contains(t, h.scheduler.cancelled, mustParse(t, googleConn.ID))
	for _, sub := range h.store.Subscriptions() {
		assert.NotEqual(t, mustParse(t, googleConn.ID), sub.ConnectionID)
	}
}

func TestActivatingCalendlyDeactivatesGoogle(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	googleConn := h.connect(t, userID, "google")
	calendlyConn := h.connect(t, userID, "calendly")
	assert.Equal(t, []string{"calendly"}, activeProviders(t, h, userID))
	assert.False(t, h.store.Connection(mustParse(t, googleConn.ID)).IsActive)
	assert.Len(t, h.google.Deleted(), 1)

	res, err := h.svc.Activate(t.Context(), userID, mustParse(t, googleConn.ID))
	require.NoError(t, err)
	assert.True(t, res.IsActive)
	assert.Equal(t, []string{"google"}, activeProviders(t, h, userID))
	assert.False(t, h.store.Connection(mustParse(t, calendlyConn.ID)).IsActive)
	assert.Contains(t, h.scheduler.cancelled, mustParse(t, calendlyConn.ID))
}

func TestActivateTwiceKeepsSingleSubscription(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	conn := h.connect(t, userID, "google")

	again, err := h.svc.Activate(t.Context(), userID, mustParse(t, conn.ID))
	require.NoError(t, err)
	assert.True(t, again.IsActive)
	assert.Len(t, h.store.Subscriptions(), 1)
	assert.Equal(t, []string{"create"}, h.google.Calls())
}

func TestActivateWithRevokedGrantMarksInactive(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	conn := h.store.AddConnection(&entity.CalendarConnection{UserID: userID, Provider: coreEntity.ProviderGoogle})
	h.tokens.Fail(conn.ID, errors.NewAppError(errors.ErrAuthExpired, "invalid_grant", nil))

	_, err := h.svc.Activate(t.Context(), userID, conn.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAuthExpired))

	row := h.store.Connection(conn.ID)
	assert.False(t, row.IsActive)
	require.NotNil(t, row.LastError)
	assert.Equal(t, string(errors.ErrAuthExpired), *row.LastError)
}

func TestDisconnectDeletesRemoteThenCancelsThenRemovesRow(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	resp := h.connect(t, userID, "calendly")
	connID := mustParse(t, resp.ID)
	subs := h.store.Subscriptions()
	require.Len(t, subs, 1)

	require.NoError(t, h.svc.Disconnect(t.Context(), userID, connID))

	assert.Equal(t, []string{subs[0].ExternalSubscriptionID}, h.calendly.Deleted())
	assert.True(t, h.scheduler.rowAtStop[connID], "polling cancelled before the row was removed")
	assert.Nil(t, h.store.Connection(connID))
	assert.Empty(t, h.store.Subscriptions())
}

func TestDisconnectAbortsWhenRemoteDeleteFails(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	resp := h.connect(t, userID, "calendly")
	connID := mustParse(t, resp.ID)
	h.calendly.DeleteErr = errors.NewAppError(errors.ErrProviderTransient, "calendly unavailable", nil)
	cancelledBefore := len(h.scheduler.cancelled)

	err := h.svc.Disconnect(t.Context(), userID, connID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrProviderTransient))

	assert.NotNil(t, h.store.Connection(connID))
	assert.Len(t, h.store.Subscriptions(), 1)
	assert.Len(t, h.scheduler.cancelled, cancelledBefore)
}

func TestDisconnectNeverTouchesAnotherUsersRows(t *testing.T) {
	h := newHarness()
	userA, userB := uuid.New(), uuid.New()
	a := h.connect(t, userA, "calendly")
	b := h.connect(t, userB, "calendly")
	aID, bID := mustParse(t, a.ID), mustParse(t, b.ID)

	err := h.svc.Disconnect(t.Context(), userB, aID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
	assert.NotNil(t, h.store.Connection(aID))
	assert.Empty(t, h.calendly.Deleted())

	require.NoError(t, h.svc.Disconnect(t.Context(), userA, aID))

	rowB := h.store.Connection(bID)
	require.NotNil(t, rowB)
	assert.True(t, rowB.IsActive)
	subs := h.store.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, bID, subs[0].ConnectionID)
	assert.Equal(t, userB, subs[0].UserID)
}

func TestWebhookStatusReflectsRemoteState(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	resp := h.connect(t, userID, "calendly")
	connID := mustParse(t, resp.ID)

	status, err := h.svc.WebhookStatus(t.Context(), userID, connID)
	require.NoError(t, err)
	assert.True(t, status.Subscribed)
	assert.True(t, status.Active)

	h.calendly.Drop(status.SubscriptionID)
	status, err = h.svc.WebhookStatus(t.Context(), userID, connID)
	require.NoError(t, err)
	assert.True(t, status.Subscribed)
	assert.False(t, status.Active)
}

func TestDeactivateStopsFeed(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	resp := h.connect(t, userID, "google")
	connID := mustParse(t, resp.ID)

	out, err := h.svc.Deactivate(t.Context(), userID, connID)
	require.NoError(t, err)
	assert.Equal(t, "inactive", out.State)
	assert.Empty(t, h.store.Subscriptions())
	assert.Len(t, h.google.Deleted(), 1)

	_, err = h.svc.SyncNow(t.Context(), userID, connID)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInput))
}

func TestConnectValidatesInput(t *testing.T) {
	h := newHarness()

	_, err := h.svc.Connect(t.Context(), uuid.New(), uuid.New(), &dto.ConnectRequest{Provider: "zoom", AccessToken: "x"})
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInput))

	_, err = h.svc.Connect(t.Context(), uuid.New(), uuid.New(), &dto.ConnectRequest{Provider: "google"})
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInput))
}

func TestSetTranscriptionScopedToOwner(t *testing.T) {
	h := newHarness()
	owner := uuid.New()
	resp := h.connect(t, owner, "calendly")
	connID := mustParse(t, resp.ID)
	require.True(t, resp.TranscriptionEnabled)

	_, err := h.svc.SetTranscription(t.Context(), uuid.New(), connID, false)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))

	out, err := h.svc.SetTranscription(t.Context(), owner, connID, false)
	require.NoError(t, err)
	assert.False(t, out.TranscriptionEnabled)
}
