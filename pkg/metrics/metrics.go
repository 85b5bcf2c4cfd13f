package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total number of webhook deliveries by outcome (count)",
		},
		[]string{"outcome"},
	)

	WebhooksByEventType = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_by_event_type_total",
			Help: "Total number of accepted webhooks by classified event type (count)",
		},
		[]string{"event_type", "queue_type"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_ingest_duration_ms",
			Help:    "End-to-end ingestion duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"outcome"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dedup_checks_total",
			Help: "Total number of fingerprint checks by result (count)",
		},
		[]string{"result", "tier"},
	)

	DirectProcessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_direct_process_total",
			Help: "Total number of fast-path attempts by result (count)",
		},
		[]string{"result"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Pending items in the webhook queue (count)",
		},
		[]string{"queue_type"},
	)

	QueueItemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_queue_items_processed_total",
			Help: "Queue items processed by the consumer by outcome (count)",
		},
		[]string{"queue_type", "outcome"},
	)

	ConsumerBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_consumer_batch_duration_ms",
			Help:    "Duration of a single queue drain batch in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dead_letter_total",
			Help: "Queue items dead-lettered after exhausting retries (count)",
		},
		[]string{"queue_type"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	ProcessedEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processed_events_published_total",
			Help: "Processed-event notifications published to the broker (count)",
		},
		[]string{"status"},
	)
)

var registered = make(map[string]bool)

func register(name string, collectors ...prometheus.Collector) {
	if registered[name] {
		return
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(fmt.Sprintf("failed to register %s metrics: %v", name, err))
			}
		}
	}
	registered[name] = true
}

func RegisterIngestMetrics() {
	register("ingest",
		WebhooksReceivedTotal,
		WebhooksByEventType,
		IngestDuration,
		DedupChecksTotal,
		DirectProcessTotal,
	)
}

func RegisterQueueMetrics() {
	register("queue",
		QueueDepth,
		QueueItemsProcessedTotal,
		ConsumerBatchDuration,
		DeadLetterTotal,
		RetryAttemptsTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	register("circuit_breaker",
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func RegisterRateLimitMetrics() {
	register("rate_limit",
		RateLimitRequestsTotal,
		FallbackUsageTotal,
	)
}

func RegisterBrokerMetrics() {
	register("broker",
		ProcessedEventsPublishedTotal,
	)
}

func ObserveIngestDuration(d time.Duration, outcome string) {
	IngestDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func ObserveConsumerBatchDuration(d time.Duration) {
	ConsumerBatchDuration.Observe(float64(d.Milliseconds()))
}

func SetQueueDepth(queueType string, depth int64) {
	QueueDepth.WithLabelValues(queueType).Set(float64(depth))
}
