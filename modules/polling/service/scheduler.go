package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/metrics"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
)

type runner interface {
	Poll(ctx context.Context, conn *entity.CalendarConnection) (*RunResult, error)
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs one independent polling goroutine per polling connection. A task
// re-reads its connection before each run and exits once the connection is gone,
// inactive, switched to webhooks, or its grant is revoked.
type Scheduler struct {
	poller      runner
	connections ConnectionStore
	interval    time.Duration
	backoff     backoffConfig

	mu    sync.Mutex
	base  context.Context
	tasks map[uuid.UUID]*task
	wg    sync.WaitGroup
}

func NewScheduler(poller *Poller, connections ConnectionStore, interval, maxBackoff time.Duration) *Scheduler {
	return newScheduler(poller, connections, interval, maxBackoff)
}

func newScheduler(poller runner, connections ConnectionStore, interval, maxBackoff time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Scheduler{
		poller:      poller,
		connections: connections,
		interval:    interval,
		backoff:     backoffConfig{Initial: interval, Max: maxBackoff, Jitter: 0.1},
		base:        context.Background(),
		tasks:       make(map[uuid.UUID]*task),
	}
}

// Start schedules every active polling connection. Tasks stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	conns, err := s.connections.ListActiveBySyncMethod(ctx, entity.SyncMethodPolling)
	if err != nil {
		return err
	}
	for i := range conns {
		s.Schedule(&conns[i])
	}
	logger.Info("Scheduler:Start", "connections", len(conns), "interval", s.interval)
	return nil
}

// Schedule starts polling conn unless a task already runs for it. The first run
// starts immediately.
func (s *Scheduler) Schedule(conn *entity.CalendarConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[conn.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[conn.ID] = t
	metrics.PollingTasks.Inc()

	s.wg.Add(1)
	go func(id uuid.UUID) {
		defer s.wg.Done()
		defer close(t.done)
		defer s.remove(id, t)
		s.loop(ctx, id)
	}(conn.ID)
}

func (s *Scheduler) remove(id uuid.UUID, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[id] == t {
		delete(s.tasks, id)
		metrics.PollingTasks.Dec()
	}
}

// Cancel stops the task of connectionID and waits for an in-flight run to return.
func (s *Scheduler) Cancel(connectionID uuid.UUID) {
	s.mu.Lock()
	t, ok := s.tasks[connectionID]
	if ok {
		delete(s.tasks, connectionID)
		metrics.PollingTasks.Dec()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
	logger.Info("Scheduler:Cancel", "connection_id", connectionID)
}

// Running reports whether a task exists for connectionID.
func (s *Scheduler) Running(connectionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[connectionID]
	return ok
}

// Stop cancels every task and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
		metrics.PollingTasks.Dec()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, id uuid.UUID) {
	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		conn, err := s.connections.GetConnectionByID(ctx, id)
		if err != nil {
			if errors.IsNotFound(err) {
				logger.Info("Scheduler:Loop:ConnectionGone", "connection_id", id)
				return
			}
			failures++
			timer.Reset(s.backoff.nextDelay(failures, rand.Float64()))
			continue
		}
		if !conn.Polls() {
			logger.Info("Scheduler:Loop:NoLongerPolling", "connection_id", id, "state", conn.State())
			return
		}

		_, err = s.poller.Poll(ctx, conn)
		switch {
		case err == nil:
			failures = 0
			timer.Reset(s.interval)
		case errors.IsCode(err, errors.ErrAuthExpired):
			return
		case ctx.Err() != nil:
			return
		default:
			failures++
			delay := s.backoff.nextDelay(failures, rand.Float64())
			logger.Warn("Scheduler:Loop:Backoff", "connection_id", id, "failures", failures, "delay", delay, "error", err)
			timer.Reset(delay)
		}
	}
}
