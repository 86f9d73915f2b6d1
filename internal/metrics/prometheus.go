package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink with Prometheus collectors. Registration
// errors are logged and the affected collector keeps working unregistered.
type PrometheusSink struct {
	logger *zap.Logger

	eventsAppended *prometheus.CounterVec

	enqueueRuns     prometheus.Counter
	enqueueErrors   prometheus.Counter
	eventsFannedOut prometheus.Counter
	deliveriesMade  prometheus.Counter
	enqueueDuration prometheus.Histogram

	claimed         prometheus.Counter
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	outcomes        *prometheus.CounterVec
	inFlight        prometheus.Gauge
	staleRequeued   prometheus.Counter

	archivedEvents prometheus.Counter
	archiveErrors  prometheus.Counter

	cacheLookups *prometheus.CounterVec
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink creates the collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.Named("metrics")}

	s.eventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hookd_outbox_events_appended_total",
		Help: "Events written to the outbox, by whether the row was new.",
	}, []string{"inserted"})

	s.enqueueRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_enqueuer_runs_total",
		Help: "Fan-out batches executed.",
	})
	s.enqueueErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_enqueuer_errors_total",
		Help: "Fan-out batches that failed.",
	})
	s.eventsFannedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_enqueuer_events_total",
		Help: "Events fanned out to subscriptions.",
	})
	s.deliveriesMade = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_enqueuer_deliveries_total",
		Help: "Deliveries created by fan-out.",
	})
	s.enqueueDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hookd_enqueuer_batch_duration_seconds",
		Help:    "Duration of one fan-out batch.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	s.claimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_worker_deliveries_claimed_total",
		Help: "Deliveries claimed by workers.",
	})
	s.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hookd_worker_attempts_total",
		Help: "Delivery attempts, by response status class.",
	}, []string{"status_class"})
	s.attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hookd_worker_attempt_duration_seconds",
		Help:    "Subscriber response time per attempt.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hookd_worker_outcomes_total",
		Help: "What happened to claimed deliveries.",
	}, []string{"outcome"})
	s.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hookd_worker_in_flight",
		Help: "Deliveries currently being dispatched.",
	})
	s.staleRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_reaper_requeued_total",
		Help: "Stale claims returned to pending.",
	})

	s.archivedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_archive_events_total",
		Help: "Events exported to the archive.",
	})
	s.archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hookd_archive_errors_total",
		Help: "Failed archive exports.",
	})

	s.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hookd_analytics_cache_lookups_total",
		Help: "Analytics cache lookups, by result.",
	}, []string{"result"})

	for name, c := range map[string]prometheus.Collector{
		"hookd_outbox_events_appended_total":    s.eventsAppended,
		"hookd_enqueuer_runs_total":             s.enqueueRuns,
		"hookd_enqueuer_errors_total":           s.enqueueErrors,
		"hookd_enqueuer_events_total":           s.eventsFannedOut,
		"hookd_enqueuer_deliveries_total":       s.deliveriesMade,
		"hookd_enqueuer_batch_duration_seconds": s.enqueueDuration,
		"hookd_worker_deliveries_claimed_total": s.claimed,
		"hookd_worker_attempts_total":           s.attempts,
		"hookd_worker_attempt_duration_seconds": s.attemptDuration,
		"hookd_worker_outcomes_total":           s.outcomes,
		"hookd_worker_in_flight":                s.inFlight,
		"hookd_reaper_requeued_total":           s.staleRequeued,
		"hookd_archive_events_total":            s.archivedEvents,
		"hookd_archive_errors_total":            s.archiveErrors,
		"hookd_analytics_cache_lookups_total":   s.cacheLookups,
	} {
		s.register(reg, c, name)
	}
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *PrometheusSink) EventAppended(inserted bool) {
	s.eventsAppended.WithLabelValues(boolLabel(inserted)).Inc()
}

func (s *PrometheusSink) EnqueueCompleted(events, deliveries int, duration time.Duration, err error) {
	s.enqueueRuns.Inc()
	s.enqueueDuration.Observe(duration.Seconds())
	if err != nil {
		s.enqueueErrors.Inc()
		return
	}
	s.eventsFannedOut.Add(float64(events))
	s.deliveriesMade.Add(float64(deliveries))
}

func (s *PrometheusSink) DeliveriesClaimed(n int) {
	s.claimed.Add(float64(n))
}

func (s *PrometheusSink) DeliveryAttemptCompleted(statusClass string, duration time.Duration) {
	s.attempts.WithLabelValues(statusClass).Inc()
	s.attemptDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.outcomes.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) InFlightIncr() { s.inFlight.Inc() }

func (s *PrometheusSink) InFlightDecr() { s.inFlight.Dec() }

func (s *PrometheusSink) StaleRequeued(n int) {
	s.staleRequeued.Add(float64(n))
}

func (s *PrometheusSink) ArchiveExported(events int, err error) {
	if err != nil {
		s.archiveErrors.Inc()
		return
	}
	s.archivedEvents.Add(float64(events))
}

func (s *PrometheusSink) AnalyticsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.cacheLookups.WithLabelValues(result).Inc()
}
