package service

import (
	"context"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/metrics"
	billingService "calendar-sync-api/modules/billing/service"
	"calendar-sync-api/modules/bot/client"
	calEntity "calendar-sync-api/modules/calendar/entity"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeScheduled        Outcome = "scheduled"
	OutcomeAlreadyScheduled Outcome = "already_scheduled"
	OutcomeNoMeetingURL     Outcome = "no_meeting_url"
	OutcomeTranscriptionOff Outcome = "transcription_disabled"
	OutcomeInactive         Outcome = "connection_inactive"
	OutcomeEnded            Outcome = "ended"
	OutcomeDeleted          Outcome = "deleted"
	OutcomeQuotaExceeded    Outcome = "quota_exceeded"
)

type Result struct {
	Outcome Outcome
	BotID   string
	// Code is set to QUOTA_EXCEEDED when the meeting was marked upgrade_required.
	Code errors.ErrorCode
}

type MeetingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Meeting, error)
	AttachBot(ctx context.Context, id uuid.UUID, botID, status string) error
	SetSyncStatus(ctx context.Context, id uuid.UUID, status entity.SyncStatus) error
	CountQualifyingTranscripts(ctx context.Context, userID uuid.UUID, minTranscriptLen int) (int, error)
}

type ConnectionStore interface {
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*calEntity.CalendarConnection, error)
}

type Notifier interface {
	NotifyMeeting(ctx context.Context, n meetingDto.MeetingNotification)
}

type Config struct {
	FreeMeetingLimit    int
	TranscriptMinLength int
}

// Dispatcher decides whether a meeting gets a recording bot and schedules it.
type Dispatcher struct {
	meetings    MeetingStore
	connections ConnectionStore
	billing     billingService.BillingService
	bots        client.BotService
	notifier    Notifier
	cfg         Config
	now         func() time.Time
}

func NewDispatcher(meetings MeetingStore, connections ConnectionStore, billing billingService.BillingService, bots client.BotService, notifier Notifier, cfg Config) *Dispatcher {
	return &Dispatcher{
		meetings:    meetings,
		connections: connections,
		billing:     billing,
		bots:        bots,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// EnqueueDispatch runs the dispatch inline. It is used when no task queue is configured.
func (d *Dispatcher) EnqueueDispatch(ctx context.Context, meetingID uuid.UUID) error {
	_, err := d.DispatchMeeting(ctx, meetingID)
	return err
}

// DispatchMeeting re-reads the meeting and its connection, checks eligibility and
// quota, and schedules a bot. Ineligible meetings are a result, not an error.
func (d *Dispatcher) DispatchMeeting(ctx context.Context, meetingID uuid.UUID) (*Result, error) {
	res, err := d.dispatch(ctx, meetingID)
	if err != nil {
		metrics.BotDispatchTotal.WithLabelValues("error").Inc()
		logger.Error("Dispatcher:DispatchMeeting:Error", "meeting_id", meetingID, "error", err)
		return nil, err
	}
	metrics.BotDispatchTotal.WithLabelValues(string(res.Outcome)).Inc()
	logger.Info("Dispatcher:DispatchMeeting", "meeting_id", meetingID, "outcome", res.Outcome)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, meetingID uuid.UUID) (*Result, error) {
	m, err := d.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	switch {
	case m.IsDeleted:
		return &Result{Outcome: OutcomeDeleted}, nil
	case m.RecallBotID != nil && *m.RecallBotID != "":
		return &Result{Outcome: OutcomeAlreadyScheduled, BotID: *m.RecallBotID}, nil
	case m.MeetingURL == nil || *m.MeetingURL == "":
		return &Result{Outcome: OutcomeNoMeetingURL}, nil
	case !m.EndTime.IsZero() && !m.EndTime.After(d.now()):
		return &Result{Outcome: OutcomeEnded}, nil
	}

	if m.ConnectionID == nil {
		return &Result{Outcome: OutcomeInactive}, nil
	}
	conn, err := d.connections.GetConnectionByID(ctx, *m.ConnectionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return &Result{Outcome: OutcomeInactive}, nil
		}
		return nil, err
	}
	if conn.UserID != m.UserID || !conn.IsActive {
		return &Result{Outcome: OutcomeInactive}, nil
	}
	if !conn.TranscriptionEnabled {
		return &Result{Outcome: OutcomeTranscriptionOff}, nil
	}

	ok, err := d.quotaOK(ctx, m.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if m.SyncStatus != entity.SyncStatusUpgradeRequired {
			if err := d.meetings.SetSyncStatus(ctx, m.ID, entity.SyncStatusUpgradeRequired); err != nil {
				return nil, err
			}
			if d.notifier != nil {
				d.notifier.NotifyMeeting(ctx, meetingDto.MeetingNotification{
					Type: meetingDto.NotificationUpgradeRequired, MeetingID: m.ID, UserID: m.UserID,
				})
			}
		}
		return &Result{Outcome: OutcomeQuotaExceeded, Code: errors.ErrQuotaExceeded}, nil
	}

	req := client.ScheduleRequest{MeetingURL: *m.MeetingURL, MeetingID: m.ID, UserID: m.UserID}
	if m.StartTime.After(d.now()) {
		start := m.StartTime.UTC()
		req.JoinAt = &start
	}
	botID, err := d.bots.Schedule(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.meetings.AttachBot(ctx, m.ID, botID, entity.RecallStatusRecording); err != nil {
		if errors.IsNotFound(err) {
			// Another worker attached a bot first; the one just created stays unused.
			logger.Warn("Dispatcher:AttachBot:Lost", "meeting_id", m.ID, "bot_id", botID)
			return &Result{Outcome: OutcomeAlreadyScheduled}, nil
		}
		return nil, err
	}
	return &Result{Outcome: OutcomeScheduled, BotID: botID}, nil
}

// quotaOK is true for paying users, and otherwise while the user has fewer than the
// free limit of meaningful transcripts. A billing lookup failure counts as unpaid.
func (d *Dispatcher) quotaOK(ctx context.Context, userID uuid.UUID) (bool, error) {
	paid, err := d.billing.HasActiveSubscription(ctx, userID)
	if err != nil {
		logger.Warn("Dispatcher:QuotaOK:BillingUnavailable", "user_id", userID, "error", err)
		paid = false
	}
	if paid {
		return true, nil
	}
	used, err := d.meetings.CountQualifyingTranscripts(ctx, userID, d.cfg.TranscriptMinLength)
	if err != nil {
		return false, err
	}
	return used < d.cfg.FreeMeetingLimit, nil
}
