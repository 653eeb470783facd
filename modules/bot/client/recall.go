package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"calendar-sync-api/core/config"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	meetingEntity "calendar-sync-api/modules/meeting/entity"
	providerClient "calendar-sync-api/modules/provider/client"

	"github.com/google/uuid"
)

type ScheduleRequest struct {
	MeetingURL string
	MeetingID  uuid.UUID
	UserID     uuid.UUID
	// JoinAt is sent when the meeting starts in the future.
	JoinAt *time.Time
}

// BotService schedules recording bots and reads their results.
type BotService interface {
	Schedule(ctx context.Context, req ScheduleRequest) (string, error)
	Status(ctx context.Context, botID string) (string, error)
	Transcript(ctx context.Context, botID string) (string, error)
}

type RecallClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRecallClient(cfg config.RecallConfig) *RecallClient {
	region := cfg.Region
	if region == "" {
		region = "us-west-2"
	}
	return &RecallClient{
		baseURL: fmt.Sprintf("https://%s.recall.ai/api/v1", region),
		apiKey:  cfg.APIKey,
		http:    providerClient.NewHTTPClient(),
	}
}

// WithBaseURL points the client at another API root, e.g. a test server.
func (c *RecallClient) WithBaseURL(u string) *RecallClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type createBotRequest struct {
	MeetingURL      string          `json:"meeting_url"`
	JoinAt          *time.Time      `json:"join_at,omitempty"`
	RecordingConfig recordingConfig `json:"recording_config"`
	Metadata        map[string]any  `json:"metadata"`
}

type recordingConfig struct {
	Transcript transcriptConfig `json:"transcript"`
}

type transcriptConfig struct {
	Provider map[string]struct{} `json:"provider"`
}

type statusChange struct {
	Code      string    `json:"code"`
	SubCode   *string   `json:"sub_code"`
	CreatedAt time.Time `json:"created_at"`
}

type bot struct {
	ID            string         `json:"id"`
	StatusChanges []statusChange `json:"status_changes"`
	Recordings    []struct {
		ID             string `json:"id"`
		MediaShortcuts struct {
			Transcript *struct {
				Data struct {
					DownloadURL string `json:"download_url"`
				} `json:"data"`
			} `json:"transcript"`
		} `json:"media_shortcuts"`
	} `json:"recordings"`
}

func (c *RecallClient) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	if c.apiKey == "" {
		return "", errors.NewAppError(errors.ErrInternalServer, "recording bot api key is not configured", nil)
	}
	body := createBotRequest{
		MeetingURL: req.MeetingURL,
		JoinAt:     req.JoinAt,
		RecordingConfig: recordingConfig{Transcript: transcriptConfig{
			Provider: map[string]struct{}{"meeting_captions": {}},
		}},
		Metadata: map[string]any{
			"user_id":    req.UserID.String(),
			"meeting_id": req.MeetingID.String(),
		},
	}
	var out bot
	if err := providerClient.Call(ctx, c.http, "RecallClient:Schedule", http.MethodPost, c.baseURL+"/bot/", "Token", c.apiKey, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.NewAppError(errors.ErrProviderRequest, "bot service returned no bot id", nil)
	}
	return out.ID, nil
}

func (c *RecallClient) getBot(ctx context.Context, botID string) (*bot, error) {
	var out bot
	if err := providerClient.Call(ctx, c.http, "RecallClient:GetBot", http.MethodGet, c.baseURL+"/bot/"+botID+"/", "Token", c.apiKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the bot's latest lifecycle code mapped onto stored recall statuses.
func (c *RecallClient) Status(ctx context.Context, botID string) (string, error) {
	b, err := c.getBot(ctx, botID)
	if err != nil {
		return "", err
	}
	if len(b.StatusChanges) == 0 {
		return meetingEntity.RecallStatusScheduled, nil
	}
	changes := append([]statusChange(nil), b.StatusChanges...)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].CreatedAt.Before(changes[j].CreatedAt) })
	status, ok := MapStatusCode(changes[len(changes)-1].Code)
	if !ok {
		return meetingEntity.RecallStatusScheduled, nil
	}
	return status, nil
}

type transcriptSegment struct {
	Speaker     string `json:"speaker"`
	Participant *struct {
		Name string `json:"name"`
	} `json:"participant"`
	Words []struct {
		Text string `json:"text"`
	} `json:"words"`
	Text string `json:"text"`
}

// Transcript downloads the first recording's transcript and flattens it to
// "Speaker: text" lines.
func (c *RecallClient) Transcript(ctx context.Context, botID string) (string, error) {
	b, err := c.getBot(ctx, botID)
	if err != nil {
		return "", err
	}
	if len(b.Recordings) == 0 || b.Recordings[0].MediaShortcuts.Transcript == nil ||
		b.Recordings[0].MediaShortcuts.Transcript.Data.DownloadURL == "" {
		return "", errors.NewAppError(errors.ErrNotFound, "bot has no transcript yet", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Recordings[0].MediaShortcuts.Transcript.Data.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewAppError(errors.ErrProviderTransient, "transcript download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewAppError(errors.ErrProviderTransient, fmt.Sprintf("transcript download returned %d", resp.StatusCode), nil)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", errors.NewAppError(errors.ErrProviderTransient, "transcript download failed", err)
	}
	text := FlattenTranscript(raw)
	logger.Info("RecallClient:Transcript", "bot_id", botID, "length", len(text))
	return text, nil
}

// FlattenTranscript accepts the segment array format, an object with a segments
// field, or plain text.
func FlattenTranscript(raw []byte) string {
	var segments []transcriptSegment
	if err := json.Unmarshal(raw, &segments); err != nil {
		var wrapped struct {
			Segments []transcriptSegment `json:"segments"`
			Text     string              `json:"text"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return strings.TrimSpace(string(raw))
		}
		if len(wrapped.Segments) == 0 {
			return strings.TrimSpace(wrapped.Text)
		}
		segments = wrapped.Segments
	}

	var sb strings.Builder
	for _, s := range segments {
		text := s.Text
		if len(s.Words) > 0 {
			words := make([]string, 0, len(s.Words))
			for _, w := range s.Words {
				words = append(words, w.Text)
			}
			text = strings.Join(words, " ")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		speaker := s.Speaker
		if s.Participant != nil && s.Participant.Name != "" {
			speaker = s.Participant.Name
		}
		if speaker != "" {
			sb.WriteString(speaker)
			sb.WriteString(": ")
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// MapStatusCode maps a bot status_change code to a stored recall status. Codes
// without a stored equivalent report false.
func MapStatusCode(code string) (string, bool) {
	switch code {
	case "ready", "joining_call":
		return meetingEntity.RecallStatusJoining, true
	case "in_waiting_room":
		return meetingEntity.RecallStatusWaitingRoom, true
	case "in_call_not_recording", "in_call_recording", "recording_permission_allowed":
		return meetingEntity.RecallStatusRecording, true
	case "call_ended":
		return meetingEntity.RecallStatusDone, true
	case "done", "analysis_done":
		return meetingEntity.RecallStatusCompleted, true
	case "fatal", "recording_permission_denied":
		return meetingEntity.RecallStatusFailed, true
	default:
		return "", false
	}
}
