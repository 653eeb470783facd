package service

import (
	"context"
	"sync"
	"testing"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"
	"calendar-sync-api/modules/meeting/meetingtest"
	providerDto "calendar-sync-api/modules/provider/dto"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []dto.MeetingNotification
}

func (n *recordingNotifier) NotifyMeeting(_ context.Context, msg dto.MeetingNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) types() []dto.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []dto.NotificationType
	for _, s := range n.sent {
		out = append(out, s.Type)
	}
	return out
}

func strPtr(s string) *string { return &s }

func scopeFor(userID uuid.UUID) dto.Scope {
	return dto.Scope{UserID: userID, TenantID: uuid.New(), ConnectionID: uuid.New(), Provider: coreEntity.ProviderCalendly}
}

func event(externalID, title string) dto.MeetingEvent {
	start := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	return dto.MeetingEvent{
		ExternalID: externalID,
		Title:      title,
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Attendees:  entity.Attendees{{Email: "client@example.com", ResponseStatus: "accepted"}},
		MeetingURL: strPtr("https://zoom.us/j/123"),
	}
}

func TestApplyUpsertTwiceKeepsOneRow(t *testing.T) {
	store := meetingtest.NewStore()
	notifier := &recordingNotifier{}
	rec := NewReconciler(store, notifier).(*reconciler)
	scope := scopeFor(uuid.New())

	first, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Review")))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionCreated, first.Transition)

	later := time.Now().Add(time.Minute)
	rec.now = func() time.Time { return later }
	second, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Review")))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionUpdated, second.Transition)

	rows := store.All()
	require.Len(t, rows, 1)
	assert.Equal(t, first.Meeting.ID, rows[0].ID)
	assert.Equal(t, first.Meeting.Title, rows[0].Title)
	assert.True(t, rows[0].LastCalendarSync.After(first.Meeting.LastCalendarSync))
	assert.Equal(t, []dto.NotificationType{dto.NotificationMeetingCreated, dto.NotificationMeetingUpdated}, notifier.types())
}

func TestUpsertDoesNotTouchBotFields(t *testing.T) {
	store := meetingtest.NewStore()
	rec := NewReconciler(store, nil)
	scope := scopeFor(uuid.New())

	created, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Review")))
	require.NoError(t, err)
	require.NoError(t, store.AttachBot(t.Context(), created.Meeting.ID, "bot-1", entity.RecallStatusRecording))

	res, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Renamed")))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", res.Meeting.Title)
	require.NotNil(t, res.Meeting.RecallBotID)
	assert.Equal(t, "bot-1", *res.Meeting.RecallBotID)
	assert.Equal(t, entity.RecallStatusRecording, *res.Meeting.RecallStatus)
}

func TestTombstonePreservesTranscript(t *testing.T) {
	store := meetingtest.NewStore()
	notifier := &recordingNotifier{}
	rec := NewReconciler(store, notifier)
	userID := uuid.New()

	stored := store.Put(&entity.Meeting{
		UserID: userID, Provider: coreEntity.ProviderCalendly, ExternalID: "calendly_E1", Title: "Review",
		RecallBotID: strPtr("bot-1"), RecallStatus: strPtr(entity.RecallStatusCompleted),
		Transcript: strPtr("speaker 1: hello"), SyncStatus: entity.SyncStatusActive,
	})

	res, err := rec.Apply(t.Context(), scopeFor(userID), dto.Tombstone("calendly_E1"))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionTombstoned, res.Transition)

	after := store.All()[0]
	assert.True(t, after.IsDeleted)
	assert.NotNil(t, after.DeletedAt)
	assert.Equal(t, *stored.Transcript, *after.Transcript)
	assert.Equal(t, *stored.RecallStatus, *after.RecallStatus)
	assert.Equal(t, *stored.RecallBotID, *after.RecallBotID)
	assert.Equal(t, stored.Title, after.Title)
	assert.Equal(t, []dto.NotificationType{dto.NotificationMeetingCancelled}, notifier.types())
}

func TestDeletedIsTerminal(t *testing.T) {
	store := meetingtest.NewStore()
	rec := NewReconciler(store, nil)
	scope := scopeFor(uuid.New())

	_, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Review")))
	require.NoError(t, err)
	_, err = rec.Apply(t.Context(), scope, dto.Tombstone("calendly_E1"))
	require.NoError(t, err)

	res, err := rec.Apply(t.Context(), scope, dto.Upsert(event("calendly_E1", "Back again")))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionNoop, res.Transition)

	again, err := rec.Apply(t.Context(), scope, dto.Tombstone("calendly_E1"))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionNoop, again.Transition)

	rows := store.All()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted)
	assert.Equal(t, "Review", rows[0].Title)
}

func TestTombstoneIsScopedToUser(t *testing.T) {
	store := meetingtest.NewStore()
	rec := NewReconciler(store, nil)
	userA, userB := uuid.New(), uuid.New()

	_, err := rec.Apply(t.Context(), scopeFor(userA), dto.Upsert(event("calendly_SHARED", "A's meeting")))
	require.NoError(t, err)
	_, err = rec.Apply(t.Context(), scopeFor(userB), dto.Upsert(event("calendly_SHARED", "B's meeting")))
	require.NoError(t, err)

	res, err := rec.Apply(t.Context(), scopeFor(userB), dto.Tombstone("calendly_SHARED"))
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionTombstoned, res.Transition)

	for _, m := range store.All() {
		if m.UserID == userA {
			assert.False(t, m.IsDeleted)
			assert.Equal(t, "A's meeting", m.Title)
		} else {
			assert.True(t, m.IsDeleted)
		}
	}
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	store := meetingtest.NewStore()
	rec := NewReconciler(store, nil)
	scope := scopeFor(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Apply(context.Background(), scope, dto.Upsert(event("calendly_E1", "Review")))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, store.All(), 1)
}

func TestApplyBotStatusIgnoresRegression(t *testing.T) {
	store := meetingtest.NewStore()
	notifier := &recordingNotifier{}
	rec := NewReconciler(store, notifier)

	store.Put(&entity.Meeting{
		UserID: uuid.New(), Provider: coreEntity.ProviderGoogle, ExternalID: "g1",
		RecallBotID: strPtr("bot-1"), RecallStatus: strPtr(entity.RecallStatusRecording),
	})

	res, err := rec.ApplyBotStatus(t.Context(), dto.BotStatusUpdate{BotID: "bot-1", Status: entity.RecallStatusDone})
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionUpdated, res.Transition)

	res, err = rec.ApplyBotStatus(t.Context(), dto.BotStatusUpdate{BotID: "bot-1", Status: entity.RecallStatusJoining})
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionNoop, res.Transition)
	assert.Equal(t, entity.RecallStatusDone, *store.All()[0].RecallStatus)

	transcript := "a long enough transcript"
	res, err = rec.ApplyBotStatus(t.Context(), dto.BotStatusUpdate{BotID: "bot-1", Status: entity.RecallStatusCompleted, Transcript: &transcript})
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionUpdated, res.Transition)
	assert.Equal(t, transcript, *store.All()[0].Transcript)

	res, err = rec.ApplyBotStatus(t.Context(), dto.BotStatusUpdate{BotID: "unknown", Status: entity.RecallStatusDone})
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionNoop, res.Transition)

	assert.Equal(t, []dto.NotificationType{dto.NotificationBotStatusChanged, dto.NotificationBotStatusChanged}, notifier.types())
}

type recordingEnqueuer struct {
	ids []uuid.UUID
}

func (r *recordingEnqueuer) EnqueueDispatch(_ context.Context, id uuid.UUID) error {
	r.ids = append(r.ids, id)
	return nil
}

func TestIngestorEnqueuesBotForJoinableMeetings(t *testing.T) {
	store := meetingtest.NewStore()
	bots := &recordingEnqueuer{}
	ing := NewIngestor(NewReconciler(store, nil), bots)
	scope := dto.Scope{UserID: uuid.New(), Provider: coreEntity.ProviderGoogle}
	start := time.Now().Add(time.Hour).UTC()

	withURL := providerDto.GoogleEvent{Event: providerDto.GoogleCalendarEvent{
		ID: "g1", Summary: "Call", HangoutLink: "https://meet.google.com/abc-defg-hij",
		Start: providerDto.EventTime{DateTime: start.Format(time.RFC3339)},
		End:   providerDto.EventTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}}
	withoutURL := providerDto.GoogleEvent{Event: providerDto.GoogleCalendarEvent{
		ID: "g2", Summary: "Lunch",
		Start: providerDto.EventTime{DateTime: start.Format(time.RFC3339)},
		End:   providerDto.EventTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}}

	res, err := ing.Ingest(t.Context(), scope, withURL)
	require.NoError(t, err)
	assert.Equal(t, dto.TransitionCreated, res.Transition)
	_, err = ing.Ingest(t.Context(), scope, withoutURL)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{res.Meeting.ID}, bots.ids)
}
