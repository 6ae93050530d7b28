package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery metrics - Track webhook fan-out outcomes
var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_delivery_attempts_total",
			Help: "Total webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventrelay_delivery_duration_seconds",
		Help:    "Time taken for a single webhook delivery attempt",
		Buckets: prometheus.DefBuckets,
	})

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_events_dispatched_total",
			Help: "Total events fanned out to subscribers by event type",
		},
		[]string{"event_type"},
	)
)

// Retry metrics - Track the redelivery queue
var (
	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventrelay_retry_queue_depth",
		Help: "Number of deliveries currently waiting for retry",
	})

	RetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_retries_exhausted_total",
		Help: "Deliveries permanently dropped after exhausting their retry ceiling",
	})
)

// Ingestion metrics - Track the blockchain event pipeline
var (
	ChainEventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventrelay_chain_events_ingested_total",
			Help: "Total chain events decoded and queued by event type",
		},
		[]string{"event_type"},
	)

	ChainEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_chain_events_processed_total",
		Help: "Total chain events successfully processed",
	})

	ChainEventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_chain_events_failed_total",
		Help: "Chain events permanently abandoned after the ingestion retry ceiling",
	})

	ChainEventsUnrecognized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_chain_events_unrecognized_total",
		Help: "Decoded chain events skipped because no processor is registered",
	})

	PendingChainEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventrelay_pending_chain_events",
		Help: "Chain events currently queued for processing",
	})
)

// State metrics - Track current system state
var (
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventrelay_active_subscriptions",
		Help: "Number of active webhook subscriptions",
	})

	ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventrelay_active_listeners",
		Help: "Number of running (network, contract) chain listeners",
	})
)
