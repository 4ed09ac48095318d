package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aura_gateway"

const (
	// OutcomeSuccess labels forwards accepted by the scoring engine.
	OutcomeSuccess = "success"
	// OutcomeError labels forwards that ended in a ScoringError.
	OutcomeError = "error"
)

// Rejection reasons for telemetry the intake endpoint refused.
const (
	ReasonValidation   = "validation"
	ReasonSaturated    = "saturated"
	ReasonClosed       = "closed"
	ReasonUnauthorized = "unauthorized"
)

// Alert intake outcomes.
const (
	AlertCreated   = "created"
	AlertDuplicate = "duplicate"
	AlertInvalid   = "invalid"
	AlertStoreFail = "store_error"
)

var (
	telemetryAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_accepted_total",
			Help:      "Telemetry events accepted onto the ingestion queue.",
		},
	)

	telemetryRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_rejected_total",
			Help:      "Telemetry events rejected at intake, partitioned by reason.",
		},
		[]string{"reason"},
	)

	forwardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Forwards to the scoring engine, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	forwardSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_seconds",
			Help:      "Scoring engine forward latency in seconds, retries included.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	archiveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Raw telemetry archive write failures, partitioned by sink.",
		},
		[]string{"sink"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events waiting on the ingestion queue.",
		},
	)

	droppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Queued events discarded during shutdown.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert submissions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	alertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Applied alert status transitions, partitioned by target status.",
		},
		[]string{"to"},
	)
)

// Register attaches the gateway collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		telemetryAccepted,
		telemetryRejected,
		forwardTotal,
		forwardSeconds,
		archiveFailures,
		queueDepth,
		droppedEvents,
		alertsTotal,
		alertTransitions,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func TelemetryAccepted() {
	telemetryAccepted.Inc()
}

func TelemetryRejected(reason string) {
	telemetryRejected.WithLabelValues(reason).Inc()
}

// ObserveForward records a forward duration and outcome label.
func ObserveForward(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	forwardTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	forwardSeconds.Observe(duration.Seconds())
}

func ArchiveFailed(sink string) {
	archiveFailures.WithLabelValues(sink).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func EventsDropped(n int) {
	if n > 0 {
		droppedEvents.Add(float64(n))
	}
}

func AlertIngested(outcome string) {
	alertsTotal.WithLabelValues(outcome).Inc()
}

func AlertTransitioned(to string) {
	alertTransitions.WithLabelValues(to).Inc()
}
