// Package metrics 汇总进程级 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitpulse_events_published_total",
		Help: "Domain events handed to the event bus, by type.",
	}, []string{"type"})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitpulse_event_publish_failures_total",
		Help: "Publish calls that failed and were dropped.",
	})

	MailboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitpulse_mailbox_dropped_total",
		Help: "Pending events discarded because a subscriber mailbox was full.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitpulse_deliveries_total",
		Help: "Per-connection delivery attempts, by result.",
	}, []string{"result"})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "habitpulse_live_connections",
		Help: "Client connections currently registered in this process.",
	})

	ListenerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitpulse_listener_resubscribes_total",
		Help: "Times the fan-out listener had to resubscribe after a bus error.",
	})

	Recomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitpulse_recomputes_total",
		Help: "Habit stat recomputations, by trigger.",
	}, []string{"trigger"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitpulse_cache_lookups_total",
		Help: "Cache lookups, by result.",
	}, []string{"result"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitpulse_job_runs_total",
		Help: "Housekeeping job executions, by job and outcome.",
	}, []string{"job", "outcome"})
)
