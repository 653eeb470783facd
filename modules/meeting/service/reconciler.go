package service

import (
	"context"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/metrics"
	"calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"
	"calendar-sync-api/modules/meeting/repository"
)

// Notifier receives one notification per meeting state transition.
type Notifier interface {
	NotifyMeeting(ctx context.Context, n dto.MeetingNotification)
}

// Reconciler applies operations to the meeting store. Every write is a single-row
// statement keyed by (user, provider, external id); there is no session transaction.
type Reconciler interface {
	Apply(ctx context.Context, scope dto.Scope, op dto.Operation) (*dto.ApplyResult, error)
	// ApplyBotStatus updates bot fields by bot id. Late or out-of-order statuses that
	// would move a bot backwards are dropped as noops.
	ApplyBotStatus(ctx context.Context, update dto.BotStatusUpdate) (*dto.ApplyResult, error)
}

type reconciler struct {
	repo     repository.MeetingRepository
	notifier Notifier
	now      func() time.Time
}

func NewReconciler(repo repository.MeetingRepository, notifier Notifier) Reconciler {
	return &reconciler{repo: repo, notifier: notifier, now: time.Now}
}

func (r *reconciler) Apply(ctx context.Context, scope dto.Scope, op dto.Operation) (*dto.ApplyResult, error) {
	if op.ExternalID == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "operation has no external id", nil)
	}

	var (
		res *dto.ApplyResult
		err error
	)
	switch op.Kind {
	case dto.OperationUpsert:
		res, err = r.upsert(ctx, scope, op.Event)
	case dto.OperationTombstone:
		res, err = r.tombstone(ctx, scope, op.ExternalID)
	default:
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown operation kind "+string(op.Kind), nil)
	}
	if err != nil {
		logger.Error("Reconciler:Apply:Error", "user_id", scope.UserID, "provider", scope.Provider, "external_id", op.ExternalID, "error", err)
		return nil, err
	}

	metrics.MeetingOperationsTotal.WithLabelValues(scope.Provider.String(), string(res.Transition)).Inc()
	logger.Debug("Reconciler:Apply", "user_id", scope.UserID, "external_id", op.ExternalID, "transition", res.Transition)
	r.notify(ctx, res)
	return res, nil
}

func (r *reconciler) upsert(ctx context.Context, scope dto.Scope, ev *dto.MeetingEvent) (*dto.ApplyResult, error) {
	if ev == nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "upsert without event", nil)
	}
	out, err := r.repo.Upsert(ctx, scope, ev, r.now().UTC())
	if err != nil {
		return nil, err
	}
	switch {
	case out.Skipped:
		return &dto.ApplyResult{Transition: dto.TransitionNoop, Meeting: out.Meeting}, nil
	case out.Inserted:
		return &dto.ApplyResult{Transition: dto.TransitionCreated, Meeting: out.Meeting}, nil
	default:
		return &dto.ApplyResult{Transition: dto.TransitionUpdated, Meeting: out.Meeting}, nil
	}
}

func (r *reconciler) tombstone(ctx context.Context, scope dto.Scope, externalID string) (*dto.ApplyResult, error) {
	m, err := r.repo.Tombstone(ctx, entity.Key{UserID: scope.UserID, Provider: scope.Provider, ExternalID: externalID}, r.now().UTC())
	if err != nil {
		if errors.IsNotFound(err) {
			return &dto.ApplyResult{Transition: dto.TransitionNoop}, nil
		}
		return nil, err
	}
	return &dto.ApplyResult{Transition: dto.TransitionTombstoned, Meeting: m}, nil
}

func (r *reconciler) notify(ctx context.Context, res *dto.ApplyResult) {
	if r.notifier == nil || res.Meeting == nil {
		return
	}
	var typ dto.NotificationType
	switch res.Transition {
	case dto.TransitionCreated:
		typ = dto.NotificationMeetingCreated
	case dto.TransitionUpdated:
		typ = dto.NotificationMeetingUpdated
	case dto.TransitionTombstoned:
		typ = dto.NotificationMeetingCancelled
	default:
		return
	}
	r.notifier.NotifyMeeting(ctx, dto.MeetingNotification{Type: typ, MeetingID: res.Meeting.ID, UserID: res.Meeting.UserID})
}

// maxBotStatusAttempts bounds the compare-and-set loop against concurrent bot webhooks.
const maxBotStatusAttempts = 3

func (r *reconciler) ApplyBotStatus(ctx context.Context, update dto.BotStatusUpdate) (*dto.ApplyResult, error) {
	if update.BotID == "" || update.Status == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "bot id and status are required", nil)
	}

	for attempt := 0; attempt < maxBotStatusAttempts; attempt++ {
		m, err := r.repo.GetByBotID(ctx, update.BotID)
		if err != nil {
			if errors.IsNotFound(err) {
				logger.Warn("Reconciler:ApplyBotStatus:UnknownBot", "bot_id", update.BotID, "status", update.Status)
				return &dto.ApplyResult{Transition: dto.TransitionNoop}, nil
			}
			return nil, err
		}
		if !entity.RecallTransitionAllowed(m.RecallStatus, update.Status) || unchanged(m, update) {
			return &dto.ApplyResult{Transition: dto.TransitionNoop, Meeting: m}, nil
		}

		updated, err := r.repo.ApplyBotStatus(ctx, update, m.RecallStatus)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		logger.Info("Reconciler:ApplyBotStatus", "meeting_id", updated.ID, "bot_id", update.BotID, "status", update.Status)
		if r.notifier != nil {
			r.notifier.NotifyMeeting(ctx, dto.MeetingNotification{
				Type: dto.NotificationBotStatusChanged, MeetingID: updated.ID, UserID: updated.UserID,
			})
		}
		return &dto.ApplyResult{Transition: dto.TransitionUpdated, Meeting: updated}, nil
	}
	return nil, errors.NewAppError(errors.ErrProviderTransient, "bot status changed concurrently", nil)
}

func unchanged(m *entity.Meeting, u dto.BotStatusUpdate) bool {
	if m.RecallStatus == nil || *m.RecallStatus != u.Status {
		return false
	}
	if u.Transcript != nil && (m.Transcript == nil || *m.Transcript != *u.Transcript) {
		return false
	}
	if u.Error != nil && (m.RecallError == nil || *m.RecallError != *u.Error) {
		return false
	}
	return true
}
