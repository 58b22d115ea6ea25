// Package services – queue metrics.
//
// Prometheus collectors for the task queue lifecycle. Labels are bounded:
// task kind (2 values) and classifier outcome (3 values).
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// webhookEvents counts classified inbound events by outcome.
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_events_total",
			Help: "Inbound webhook events by classifier outcome.",
		},
		[]string{"outcome"},
	)

	// tasksCreated counts durable tasks written to the store by kind.
	tasksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tasks_created_total",
			Help: "Tasks enqueued by kind.",
		},
		[]string{"kind"},
	)

	// tasksClaimed counts successful claims handed to workers.
	tasksClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_tasks_claimed_total",
			Help: "Tasks successfully claimed by workers.",
		},
	)

	// tasksClosed counts terminal completions by path (done|confirmed|reaped).
	tasksClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tasks_closed_total",
			Help: "Tasks removed or recycled by completion path.",
		},
		[]string{"path"},
	)

	// ingestSwallowed counts internal ingest errors that were deliberately
	// swallowed to keep the webhook endpoint acknowledging.
	ingestSwallowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ingest_errors_total",
			Help: "Swallowed ingest-pipeline errors by stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(webhookEvents, tasksCreated, tasksClaimed, tasksClosed, ingestSwallowed)
}
