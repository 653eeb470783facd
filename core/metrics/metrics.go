package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calsync_webhook_requests_total",
			Help: "Inbound provider webhook requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calsync_sync_runs_total",
			Help: "Polling runs by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calsync_sync_run_duration_seconds",
			Help:    "Duration of a polling run.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	MeetingOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calsync_meeting_operations_total",
			Help: "Reconciled meeting operations by provider and resulting transition.",
		},
		[]string{"provider", "transition"},
	)

	BotDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calsync_bot_dispatch_total",
			Help: "Recording bot dispatch decisions by outcome.",
		},
		[]string{"outcome"},
	)

	PollingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calsync_polling_tasks",
			Help: "Number of running per-connection polling tasks.",
		},
	)
)
