package service

import (
	"context"
	"time"

	"calendar-sync-api/core/logger"
	"calendar-sync-api/modules/meeting/dto"
	providerDto "calendar-sync-api/modules/provider/dto"
	"calendar-sync-api/modules/provider/translator"

	"github.com/google/uuid"
)

// BotEnqueuer hands a meeting to the bot dispatcher. Eligibility is decided there.
type BotEnqueuer interface {
	EnqueueDispatch(ctx context.Context, meetingID uuid.UUID) error
}

// Ingestor is the one path provider events take into the meeting store, shared by
// webhook deliveries and polling runs.
type Ingestor struct {
	reconciler Reconciler
	bots       BotEnqueuer
	now        func() time.Time
}

func NewIngestor(reconciler Reconciler, bots BotEnqueuer) *Ingestor {
	return &Ingestor{reconciler: reconciler, bots: bots, now: time.Now}
}

// SetBotEnqueuer wires the dispatcher after construction; the dispatcher itself
// depends on the meeting store.
func (i *Ingestor) SetBotEnqueuer(bots BotEnqueuer) {
	i.bots = bots
}

func (i *Ingestor) Ingest(ctx context.Context, scope dto.Scope, ev providerDto.ProviderEvent) (*dto.ApplyResult, error) {
	op, err := translator.Translate(ev)
	if err != nil {
		return nil, err
	}
	return i.IngestOperation(ctx, scope, op)
}

func (i *Ingestor) IngestOperation(ctx context.Context, scope dto.Scope, op dto.Operation) (*dto.ApplyResult, error) {
	res, err := i.reconciler.Apply(ctx, scope, op)
	if err != nil {
		return nil, err
	}
	if i.bots != nil && i.wantsBot(res) {
		// A lost enqueue only delays the bot until the next update of the meeting.
		if err := i.bots.EnqueueDispatch(ctx, res.Meeting.ID); err != nil {
			logger.Warn("Ingestor:EnqueueDispatch:Error", "meeting_id", res.Meeting.ID, "error", err)
		}
	}
	return res, nil
}

func (i *Ingestor) wantsBot(res *dto.ApplyResult) bool {
	if res.Transition != dto.TransitionCreated && res.Transition != dto.TransitionUpdated {
		return false
	}
	m := res.Meeting
	return m != nil && m.MeetingURL != nil && m.RecallBotID == nil && m.EndTime.After(i.now())
}
