package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexEventsTotal counts change events handled by the index worker by kind and outcome.
	IndexEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_index_events_total",
		Help: "Change events processed by the index sync worker",
	}, []string{"kind", "outcome"})

	// IndexEventDuration records index sync latency per event.
	IndexEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postscript_index_event_duration_seconds",
		Help:    "Time spent reconciling one change event with the search index",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// IndexRetriesTotal counts transient failures that were retried.
	IndexRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postscript_index_retries_total",
		Help: "Transient index sync failures that were retried",
	})

	// DeadLettersTotal counts events moved to the dead-letter stream by reason.
	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_index_dead_letters_total",
		Help: "Change events dead-lettered by the index sync worker",
	}, []string{"reason"})

	// OutboxDispatchTotal counts outbox dispatch attempts by source and outcome.
	OutboxDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_outbox_dispatch_total",
		Help: "Outbox change event dispatch attempts",
	}, []string{"source", "outcome"})

	// OutboxBacklog is the number of undispatched outbox rows seen by the last relay sweep.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postscript_outbox_backlog",
		Help: "Undispatched outbox rows observed by the relay",
	})

	// SearchQueriesTotal counts search requests by outcome.
	SearchQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_search_queries_total",
		Help: "Comment search queries by outcome",
	}, []string{"outcome"})

	// ReindexDocumentsTotal counts bulk reindex upserts by outcome.
	ReindexDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_reindex_documents_total",
		Help: "Documents processed by the bulk reindex job",
	}, []string{"outcome"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postscript_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// ActiveWebSockets is the number of open realtime comment feeds.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postscript_active_websockets",
		Help: "Open websocket comment feed connections",
	})
)
