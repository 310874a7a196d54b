package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "lifewatch_"

var (
	registerOnce sync.Once

	evaluationsTotal   *prometheus.CounterVec
	evaluationLatency  prometheus.Histogram
	alertsFiredTotal   *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	dispatchAttempts   *prometheus.CounterVec
	retryEnqueuedTotal prometheus.Counter
	retryExhausted     prometheus.Counter
	escalationsTotal   *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	serviceReports     *prometheus.CounterVec
)

// Init registers engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Subject evaluations by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		alertsFiredTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fired_total",
				Help: "Fired alert events by level",
			},
			[]string{"level"},
		)
		alertsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Suppressed or deferred alert candidates by reason",
			},
			[]string{"reason"},
		)
		dispatchAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_attempts_total",
				Help: "Channel delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		)
		retryEnqueuedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "retry_enqueued_total",
				Help: "Alert events handed to the retry queue",
			},
		)
		retryExhausted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "retry_exhausted_total",
				Help: "Retry items dropped after exhausting attempts",
			},
		)
		escalationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "escalations_total",
				Help: "Escalation actions by level",
			},
			[]string{"level"},
		)
		confirmationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "confirmations_total",
				Help: "Confirmation protocol outcomes",
			},
			[]string{"outcome"},
		)
		serviceReports = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "service_reports_total",
				Help: "Outside-service report attempts by service and result",
			},
			[]string{"service", "result"},
		)

		prometheus.MustRegister(
			evaluationsTotal,
			evaluationLatency,
			alertsFiredTotal,
			alertsSuppressed,
			dispatchAttempts,
			retryEnqueuedTotal,
			retryExhausted,
			escalationsTotal,
			confirmationsTotal,
			serviceReports,
		)
	})
}

// IncEvaluation counts an evaluation by result.
func IncEvaluation(result string) {
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveEvaluation records evaluation latency.
func ObserveEvaluation(seconds float64) {
	if evaluationLatency != nil {
		evaluationLatency.Observe(seconds)
	}
}

// IncAlertFired counts a fired alert by level.
func IncAlertFired(level string) {
	if alertsFiredTotal != nil {
		alertsFiredTotal.WithLabelValues(level).Inc()
	}
}

// IncAlertSuppressed counts a suppressed candidate by reason.
func IncAlertSuppressed(reason string) {
	if alertsSuppressed != nil {
		alertsSuppressed.WithLabelValues(reason).Inc()
	}
}

// IncDispatchAttempt counts a channel attempt.
func IncDispatchAttempt(channel, result string) {
	if dispatchAttempts != nil {
		dispatchAttempts.WithLabelValues(channel, result).Inc()
	}
}

// IncRetryEnqueued counts a retry enqueue.
func IncRetryEnqueued() {
	if retryEnqueuedTotal != nil {
		retryEnqueuedTotal.Inc()
	}
}

// IncRetryExhausted counts a permanently failed retry item.
func IncRetryExhausted() {
	if retryExhausted != nil {
		retryExhausted.Inc()
	}
}

// IncEscalation counts an escalation action by level.
func IncEscalation(level string) {
	if escalationsTotal != nil {
		escalationsTotal.WithLabelValues(level).Inc()
	}
}

// IncConfirmation counts a confirmation outcome.
func IncConfirmation(outcome string) {
	if confirmationsTotal != nil {
		confirmationsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncServiceReport counts an outside-service report attempt.
func IncServiceReport(service, result string) {
	if serviceReports != nil {
		serviceReports.WithLabelValues(service, result).Inc()
	}
}
