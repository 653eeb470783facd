package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calendar-sync-api/core/config"
	"calendar-sync-api/core/errors"
	meetingEntity "calendar-sync-api/modules/meeting/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleSendsJoinAtAndMetadata(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot/", r.URL.Path)
		assert.Equal(t, "Token key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"bot-42"}`))
	}))
	defer srv.Close()

	c := NewRecallClient(config.RecallConfig{APIKey: "key-1"}).WithBaseURL(srv.URL)
	joinAt := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	meetingID := uuid.New()
	id, err := c.Schedule(t.Context(), ScheduleRequest{MeetingURL: "https://zoom.us/j/9", MeetingID: meetingID, UserID: uuid.New(), JoinAt: &joinAt})
	require.NoError(t, err)
	assert.Equal(t, "bot-42", id)
	assert.Equal(t, "https://zoom.us/j/9", got["meeting_url"])
	assert.Equal(t, "2026-05-01T15:00:00Z", got["join_at"])
	assert.Equal(t, meetingID.String(), got["metadata"].(map[string]any)["meeting_id"])
}

func TestScheduleWithoutAPIKeyFails(t *testing.T) {
	_, err := NewRecallClient(config.RecallConfig{}).Schedule(t.Context(), ScheduleRequest{MeetingURL: "https://zoom.us/j/9"})
	require.Error(t, err)
}

func TestStatusUsesLatestChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bot-1","status_changes":[
			{"code":"call_ended","created_at":"2026-05-01T16:00:00Z"},
			{"code":"joining_call","created_at":"2026-05-01T15:00:00Z"}]}`))
	}))
	defer srv.Close()

	status, err := NewRecallClient(config.RecallConfig{APIKey: "k"}).WithBaseURL(srv.URL).Status(t.Context(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, meetingEntity.RecallStatusDone, status)
}

func TestTranscriptDownloadsAndFlattens(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/bot/bot-1/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bot-1","recordings":[{"id":"r1","media_shortcuts":{"transcript":{"data":{"download_url":"` + srv.URL + `/download"}}}}]}`))
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"participant":{"name":"Dana"},"words":[{"text":"Hello"},{"text":"there"}]},{"speaker":"Sam","text":"Hi"}]`))
	})

	text, err := NewRecallClient(config.RecallConfig{APIKey: "k"}).WithBaseURL(srv.URL).Transcript(t.Context(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana: Hello there\nSam: Hi", text)
}

func TestTranscriptMissingIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bot-1","recordings":[]}`))
	}))
	defer srv.Close()

	_, err := NewRecallClient(config.RecallConfig{APIKey: "k"}).WithBaseURL(srv.URL).Transcript(t.Context(), "bot-1")
	assert.True(t, errors.IsNotFound(err))
}

func TestFlattenTranscriptFormats(t *testing.T) {
	assert.Equal(t, "A: one", FlattenTranscript([]byte(`{"segments":[{"speaker":"A","text":"one"}]}`)))
	assert.Equal(t, "plain words", FlattenTranscript([]byte("  plain words \n")))
	assert.Equal(t, "", FlattenTranscript([]byte(`[]`)))
}

func TestMapStatusCode(t *testing.T) {
	tests := map[string]string{
		"joining_call":                meetingEntity.RecallStatusJoining,
		"in_waiting_room":             meetingEntity.RecallStatusWaitingRoom,
		"in_call_recording":           meetingEntity.RecallStatusRecording,
		"call_ended":                  meetingEntity.RecallStatusDone,
		"done":                        meetingEntity.RecallStatusCompleted,
		"recording_permission_denied": meetingEntity.RecallStatusFailed,
	}
	for code, want := range tests {
		got, ok := MapStatusCode(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, got, code)
	}
	_, ok := MapStatusCode("media_expired")
	assert.False(t, ok)
}
