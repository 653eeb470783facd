package task

import (
	"context"
	"encoding/json"
	"testing"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/bot/service"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "t1"}, nil
}

type fakeDispatcher struct {
	got []uuid.UUID
	err error
}

func (f *fakeDispatcher) DispatchMeeting(_ context.Context, id uuid.UUID) (*service.Result, error) {
	f.got = append(f.got, id)
	if f.err != nil {
		return nil, f.err
	}
	return &service.Result{Outcome: service.OutcomeScheduled}, nil
}

func TestEnqueueDispatchEncodesMeetingID(t *testing.T) {
	enq := &fakeEnqueuer{}
	q := &Queue{client: enq}
	id := uuid.New()

	require.NoError(t, q.EnqueueDispatch(t.Context(), id))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeBotDispatch, enq.tasks[0].Type())

	var p DispatchPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, id, p.MeetingID)
}

func TestEnqueueDispatchDropsDuplicates(t *testing.T) {
	q := &Queue{client: &fakeEnqueuer{err: asynq.ErrDuplicateTask}}
	assert.NoError(t, q.EnqueueDispatch(t.Context(), uuid.New()))
}

func TestProcessTaskRunsDispatcher(t *testing.T) {
	d := &fakeDispatcher{}
	h := &Handler{dispatcher: d}
	id := uuid.New()
	task, err := NewDispatchTask(id)
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(t.Context(), task))
	assert.Equal(t, []uuid.UUID{id}, d.got)
}

func TestProcessTaskBadPayloadSkipsRetry(t *testing.T) {
	h := &Handler{dispatcher: &fakeDispatcher{}}
	err := h.ProcessTask(t.Context(), asynq.NewTask(TypeBotDispatch, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskMissingMeetingSkipsRetry(t *testing.T) {
	h := &Handler{dispatcher: &fakeDispatcher{err: errors.ErrRecordNotFound}}
	task, err := NewDispatchTask(uuid.New())
	require.NoError(t, err)
	assert.ErrorIs(t, h.ProcessTask(t.Context(), task), asynq.SkipRetry)
}

func TestProcessTaskTransientErrorRetries(t *testing.T) {
	h := &Handler{dispatcher: &fakeDispatcher{err: errors.New(errors.ErrProviderTransient, "bot api 503")}}
	task, err := NewDispatchTask(uuid.New())
	require.NoError(t, err)
	err = h.ProcessTask(t.Context(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
