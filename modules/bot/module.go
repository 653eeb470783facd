package bot

import (
	"context"

	billingService "calendar-sync-api/modules/billing/service"
	"calendar-sync-api/modules/bot/client"
	"calendar-sync-api/modules/bot/service"
	"calendar-sync-api/modules/bot/task"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, meetingID uuid.UUID) error
}

type Module struct {
	Client     client.BotService
	Dispatcher *service.Dispatcher
	Handler    *task.Handler
	// Queue is the asynq queue when one is configured, else the dispatcher itself.
	Queue Enqueuer
}

func NewModule(
	meetings service.MeetingStore,
	connections service.ConnectionStore,
	billing billingService.BillingService,
	bots client.BotService,
	notifier service.Notifier,
	cfg service.Config,
	queue *asynq.Client,
) *Module {
	d := service.NewDispatcher(meetings, connections, billing, bots, notifier, cfg)
	m := &Module{Client: bots, Dispatcher: d, Handler: task.NewHandler(d), Queue: d}
	if queue != nil {
		m.Queue = task.NewQueue(queue)
	}
	return m
}
