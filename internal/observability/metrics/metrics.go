package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "telemetry_engine_"

	resultSuccess = "success"
	resultError   = "error"
)

// Discard reasons.
const (
	ReasonMalformedTopic   = "malformed_topic"
	ReasonMalformedPayload = "malformed_payload"
	ReasonUnknownTenant    = "unknown_tenant"
	ReasonIdentityError    = "identity_error"
	ReasonRateLimited      = "rate_limited"
	ReasonTimeout          = "timeout"
	ReasonPanic            = "panic"
	ReasonQueueClosed      = "queue_closed"
)

// Rule suppression reasons.
const (
	SuppressedCooldown         = "cooldown"
	SuppressedSchedule         = "schedule"
	SuppressedScheduleInvalid  = "schedule_invalid"
	SuppressedCooldownError    = "cooldown_error"
	SuppressedConditionInvalid = "condition_invalid"
	SuppressedAlertError       = "alert_error"
	SuppressedRuleInvalid      = "rule_invalid"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	registerOnce sync.Once

	messagesReceived  prometheus.Counter
	messagesDiscarded *prometheus.CounterVec
	messagesProcessed prometheus.Counter
	ingestTimeouts    prometheus.Counter
	stageLatency      *prometheus.HistogramVec

	rulesEvaluated  prometheus.Counter
	rulesTriggered  prometheus.Counter
	rulesSuppressed *prometheus.CounterVec

	pointsWritten       prometheus.Counter
	pointWriteFailures  prometheus.Counter
	metricsDiscovered   prometheus.Counter
	discoveryFailures   prometheus.Counter
	cacheLookups        *prometheus.CounterVec
	cacheErrors         *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	notificationLatency *prometheus.HistogramVec
	notificationDropped prometheus.Counter
)

// Init registers engine metrics and DB-backed gauges. Safe to call more than once.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "messages_received_total",
			Help: "Total inbound telemetry messages",
		})
		messagesDiscarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_discarded_total",
				Help: "Total discarded telemetry messages by reason",
			},
			[]string{"reason"},
		)
		messagesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "messages_processed_total",
			Help: "Total telemetry messages that reached rule evaluation",
		})
		ingestTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "ingest_timeouts_total",
			Help: "Total messages abandoned after the per-message deadline",
		})
		stageLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stage_latency_seconds",
				Help:    "Per-stage ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		)

		rulesEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "rules_evaluated_total",
			Help: "Total rule evaluations",
		})
		rulesTriggered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "rules_triggered_total",
			Help: "Total rules that produced an alert",
		})
		rulesSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rules_suppressed_total",
				Help: "Total rule evaluations suppressed by reason",
			},
			[]string{"reason"},
		)

		pointsWritten = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "timeseries_points_written_total",
			Help: "Total telemetry points written to the time-series store",
		})
		pointWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "timeseries_write_failures_total",
			Help: "Total failed time-series point writes",
		})
		metricsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "metric_discoveries_total",
			Help: "Total metric discovery upserts",
		})
		discoveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "metric_discovery_failures_total",
			Help: "Total failed metric discovery upserts",
		})
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Identity cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		)
		cacheErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_errors_total",
				Help: "Identity cache layer errors by kind",
			},
			[]string{"kind"},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)
		notificationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "notification_latency_seconds",
				Help:    "Notification delivery latency in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)
		notificationDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "notification_queue_dropped_total",
			Help: "Alerts dropped because the dispatch queue was full",
		})

		prometheus.MustRegister(
			messagesReceived,
			messagesDiscarded,
			messagesProcessed,
			ingestTimeouts,
			stageLatency,
			rulesEvaluated,
			rulesTriggered,
			rulesSuppressed,
			pointsWritten,
			pointWriteFailures,
			metricsDiscovered,
			discoveryFailures,
			cacheLookups,
			cacheErrors,
			notifications,
			notificationLatency,
			notificationDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncMessageReceived counts an inbound message.
func IncMessageReceived() {
	if messagesReceived != nil {
		messagesReceived.Inc()
	}
}

// IncMessageDiscarded counts a discarded message.
func IncMessageDiscarded(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if messagesDiscarded != nil {
		messagesDiscarded.WithLabelValues(reason).Inc()
	}
}

// IncMessageProcessed counts a message that completed the pipeline.
func IncMessageProcessed() {
	if messagesProcessed != nil {
		messagesProcessed.Inc()
	}
}

// IncIngestTimeout counts a message abandoned at its deadline.
func IncIngestTimeout() {
	if ingestTimeouts != nil {
		ingestTimeouts.Inc()
	}
}

// ObserveStage records a stage latency.
func ObserveStage(stage string, duration time.Duration) {
	if stage == "" {
		stage = "unknown"
	}
	if stageLatency != nil {
		stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// IncRuleEvaluated counts a rule evaluation.
func IncRuleEvaluated() {
	if rulesEvaluated != nil {
		rulesEvaluated.Inc()
	}
}

// IncRuleTriggered counts a rule that produced an alert.
func IncRuleTriggered() {
	if rulesTriggered != nil {
		rulesTriggered.Inc()
	}
}

// IncRuleSuppressed counts a suppressed rule evaluation.
func IncRuleSuppressed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if rulesSuppressed != nil {
		rulesSuppressed.WithLabelValues(reason).Inc()
	}
}

// AddPointsWritten counts stored time-series points.
func AddPointsWritten(count int) {
	if count <= 0 {
		return
	}
	if pointsWritten != nil {
		pointsWritten.Add(float64(count))
	}
}

// AddPointWriteFailures counts points that could not be stored.
func AddPointWriteFailures(count int) {
	if count <= 0 {
		return
	}
	if pointWriteFailures != nil {
		pointWriteFailures.Add(float64(count))
	}
}

// ObserveDiscovery records a metric discovery upsert result.
func ObserveDiscovery(result string) {
	if result == resultError {
		if discoveryFailures != nil {
			discoveryFailures.Inc()
		}
		return
	}
	if metricsDiscovered != nil {
		metricsDiscovered.Inc()
	}
}

// IncCacheLookup counts an identity cache lookup.
func IncCacheLookup(kind, result string) {
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(kind, result).Inc()
	}
}

// IncCacheError counts a cache layer failure.
func IncCacheError(kind string) {
	if cacheErrors != nil {
		cacheErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveNotification records a channel delivery outcome.
func ObserveNotification(channel, result string, duration time.Duration) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifications != nil {
		notifications.WithLabelValues(channel, result).Inc()
	}
	if notificationLatency != nil {
		notificationLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// IncNotificationDropped counts an alert the dispatcher could not queue.
func IncNotificationDropped() {
	if notificationDropped != nil {
		notificationDropped.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
