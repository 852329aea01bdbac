package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessageBusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagebus_messages_total",
			Help: "Messages dispatched by the message bus by kind, type and outcome (count)",
		},
		[]string{"kind", "type", "outcome"},
	)

	MessageBusRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagebus_rejected_total",
			Help: "Messages the bus could not enqueue (count)",
		},
		[]string{"type"},
	)

	MessageBusHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messagebus_handler_duration_ms",
			Help:    "Handler execution time in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"kind", "type"},
	)

	MessageBusQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messagebus_queue_depth",
			Help: "Messages waiting in the work queue (count)",
		},
	)

	MessageBusLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messagebus_locks_held",
			Help: "Lock signatures currently held by in-flight commands (count)",
		},
	)

	PollingActiveAssignments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polling_active_assignments",
			Help: "Assignments the polling manager is scheduling (count)",
		},
	)

	PollingDeadAssignments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polling_dead_assignments",
			Help: "Assignments waiting in the dead pile for recovery (count)",
		},
	)

	PollingEmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_emissions_total",
			Help: "Commands emitted for due assignments (count)",
		},
		[]string{"status"},
	)

	PollingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_errors_total",
			Help: "Polling failures by kind: discovery, sync, emission, recovery (count)",
		},
		[]string{"kind"},
	)

	PollingDeadAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polling_dead_abandoned_total",
			Help: "Dead assignments dropped after reaching the retry ceiling (count)",
		},
	)

	PollingTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polling_tick_duration_ms",
			Help:    "Duration of one polling tick in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 15000, 30000, 60000},
		},
	)

	NetBrainRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbrain_requests_total",
			Help: "Requests sent to the NetBrain API (count)",
		},
		[]string{"operation", "status"},
	)

	NetBrainRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netbrain_request_duration_ms",
			Help:    "NetBrain API latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"operation"},
	)

	StackstormNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackstorm_notifications_total",
			Help: "Alerts and comments sent to StackStorm (count)",
		},
		[]string{"kind", "status"},
	)

	PipelineStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stages_total",
			Help: "Benchmark pipeline stage transitions (count)",
		},
		[]string{"stage", "status"},
	)

	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_requests_total",
			Help: "Payloads received on the HTTP ingress by outcome (count)",
		},
		[]string{"outcome"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Retries of broker message processing (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Messages sent to the dead letter topic (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests passed through a circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Failed requests through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Ingress requests by rate limiter decision (count)",
		},
		[]string{"status"},
	)
)

func RegisterMessageBusMetrics() {
	prometheus.MustRegister(MessageBusMessagesTotal)
	prometheus.MustRegister(MessageBusRejectedTotal)
	prometheus.MustRegister(MessageBusHandlerDuration)
	prometheus.MustRegister(MessageBusQueueDepth)
	prometheus.MustRegister(MessageBusLocksHeld)
}

func RegisterPollingMetrics() {
	prometheus.MustRegister(PollingActiveAssignments)
	prometheus.MustRegister(PollingDeadAssignments)
	prometheus.MustRegister(PollingEmissionsTotal)
	prometheus.MustRegister(PollingErrorsTotal)
	prometheus.MustRegister(PollingDeadAbandonedTotal)
	prometheus.MustRegister(PollingTickDuration)
}

func RegisterPipelineMetrics() {
	prometheus.MustRegister(NetBrainRequestsTotal)
	prometheus.MustRegister(NetBrainRequestDuration)
	prometheus.MustRegister(StackstormNotificationsTotal)
	prometheus.MustRegister(PipelineStagesTotal)
	prometheus.MustRegister(IngressRequestsTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func IncMessage(kind, messageType, outcome string) {
	MessageBusMessagesTotal.WithLabelValues(kind, messageType, outcome).Inc()
}

func ObserveHandlerDuration(kind, messageType string, duration time.Duration) {
	MessageBusHandlerDuration.WithLabelValues(kind, messageType).Observe(float64(duration.Milliseconds()))
}

func SetPollingState(active, dead int) {
	PollingActiveAssignments.Set(float64(active))
	PollingDeadAssignments.Set(float64(dead))
}

func ObservePollingTick(duration time.Duration) {
	PollingTickDuration.Observe(float64(duration.Milliseconds()))
}

func ObserveNetBrainRequest(operation, status string, duration time.Duration) {
	NetBrainRequestsTotal.WithLabelValues(operation, status).Inc()
	NetBrainRequestDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func IncPipelineStage(stage, status string) {
	PipelineStagesTotal.WithLabelValues(stage, status).Inc()
}
