package service

import (
	"context"
	"time"

	"calendar-sync-api/core/logger"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 30 * time.Minute

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("Cron:"+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("Cron:"+msg, append(keysAndValues, "error", err)...)
}

// Jobs runs subscription renewal and the webhook health check on cron schedules.
type Jobs struct {
	manager *Manager
	cron    *cron.Cron
	ctx     context.Context
}

func NewJobs(manager *Manager, renewalSpec, healthSpec string) (*Jobs, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	j := &Jobs{manager: manager, cron: c, ctx: context.Background()}
	if _, err := c.AddFunc(renewalSpec, j.renew); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(healthSpec, j.checkHealth); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Jobs) renew() {
	ctx, cancel := context.WithTimeout(j.ctx, jobTimeout)
	defer cancel()
	report, err := j.manager.RenewExpiring(ctx)
	if err != nil {
		logger.Error("Jobs:Renew:Error", "error", err)
		return
	}
	logger.Info("Jobs:Renew", "renewed", report.Renewed, "failed", report.Failed)
}

func (j *Jobs) checkHealth() {
	ctx, cancel := context.WithTimeout(j.ctx, jobTimeout)
	defer cancel()
	if err := j.manager.CheckAll(ctx); err != nil {
		logger.Error("Jobs:CheckHealth:Error", "error", err)
	}
}

// Start runs the schedule until Stop. Jobs inherit ctx for cancellation.
func (j *Jobs) Start(ctx context.Context) {
	j.ctx = ctx
	j.cron.Start()
}

// Stop halts the schedule and waits for running jobs.
func (j *Jobs) Stop() {
	<-j.cron.Stop().Done()
}
