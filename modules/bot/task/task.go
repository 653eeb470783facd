package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/bot/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeBotDispatch = "bot:dispatch"
	QueueBots       = "bots"

	dispatchUniqueTTL = time.Hour
	dispatchMaxRetry  = 8
)

type DispatchPayload struct {
	MeetingID uuid.UUID `json:"meeting_id"`
}

func NewDispatchTask(meetingID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(DispatchPayload{MeetingID: meetingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBotDispatch, payload), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands bot dispatches to the asynq worker pool. A meeting is enqueued at most
// once per hour; duplicates are dropped silently.
type Queue struct {
	client enqueuer
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) EnqueueDispatch(ctx context.Context, meetingID uuid.UUID) error {
	t, err := NewDispatchTask(meetingID)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(QueueBots),
		asynq.MaxRetry(dispatchMaxRetry),
		asynq.Unique(dispatchUniqueTTL),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Debug("BotQueue:EnqueueDispatch:Duplicate", "meeting_id", meetingID)
			return nil
		}
		logger.Error("BotQueue:EnqueueDispatch", "meeting_id", meetingID, "error", err)
		return err
	}
	logger.Info("BotQueue:EnqueueDispatch", "meeting_id", meetingID, "task_id", info.ID)
	return nil
}

type dispatcher interface {
	DispatchMeeting(ctx context.Context, meetingID uuid.UUID) (*service.Result, error)
}

type Handler struct {
	dispatcher dispatcher
}

func NewHandler(d *service.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DispatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.MeetingID == uuid.Nil {
		return fmt.Errorf("bad %s payload: %v: %w", TypeBotDispatch, err, asynq.SkipRetry)
	}
	_, err := h.dispatcher.DispatchMeeting(ctx, p.MeetingID)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("meeting %s: %v: %w", p.MeetingID, err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeBotDispatch, h)
}
