package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/model"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, zap.NewNop()), reg
}

// metricValue returns the counter or gauge value of the series of name
// whose labels equal labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !matchLabels(m.GetLabel(), labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Enqueue(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EnqueueCompleted(3, 7, 10*time.Millisecond, nil)
	sink.EnqueueCompleted(0, 0, time.Millisecond, errors.New("db down"))

	for name, want := range map[string]float64{
		"hookd_enqueuer_runs_total":       2,
		"hookd_enqueuer_errors_total":     1,
		"hookd_enqueuer_events_total":     3,
		"hookd_enqueuer_deliveries_total": 7,
	} {
		if got := metricValue(t, reg, name, nil); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestPrometheusSink_Worker(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveriesClaimed(4)
	sink.InFlightIncr()
	sink.InFlightIncr()
	sink.InFlightDecr()
	sink.DeliveryAttemptCompleted(StatusClass5xx, 200*time.Millisecond)
	sink.DeliveryAttemptCompleted(StatusClass5xx, 300*time.Millisecond)
	sink.DeliveryOutcome(OutcomeRetry)
	sink.StaleRequeued(2)

	if got := metricValue(t, reg, "hookd_worker_deliveries_claimed_total", nil); got != 4 {
		t.Errorf("claimed = %v", got)
	}
	if got := metricValue(t, reg, "hookd_worker_in_flight", nil); got != 1 {
		t.Errorf("in flight = %v", got)
	}
	if got := metricValue(t, reg, "hookd_worker_attempts_total", map[string]string{"status_class": "5xx"}); got != 2 {
		t.Errorf("5xx attempts = %v", got)
	}
	if got := metricValue(t, reg, "hookd_worker_outcomes_total", map[string]string{"outcome": "retry"}); got != 1 {
		t.Errorf("retry outcomes = %v", got)
	}
	if got := metricValue(t, reg, "hookd_reaper_requeued_total", nil); got != 2 {
		t.Errorf("requeued = %v", got)
	}
}

func TestPrometheusSink_OutboxArchiveCache(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EventAppended(true)
	sink.EventAppended(false)
	sink.EventAppended(false)
	sink.ArchiveExported(10, nil)
	sink.ArchiveExported(0, errors.New("s3"))
	sink.AnalyticsCache(true)
	sink.AnalyticsCache(false)

	if got := metricValue(t, reg, "hookd_outbox_events_appended_total", map[string]string{"inserted": "false"}); got != 2 {
		t.Errorf("duplicates = %v", got)
	}
	if got := metricValue(t, reg, "hookd_archive_events_total", nil); got != 10 {
		t.Errorf("archived = %v", got)
	}
	if got := metricValue(t, reg, "hookd_archive_errors_total", nil); got != 1 {
		t.Errorf("archive errors = %v", got)
	}
	if got := metricValue(t, reg, "hookd_analytics_cache_lookups_total", map[string]string{"result": "hit"}); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
}

func TestPrometheusSink_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, zap.NewNop())
	// Second sink on the same registry must not panic and must stay usable.
	sink := NewPrometheusSink(reg, zap.NewNop())
	sink.DeliveryOutcome(OutcomeSuccess)
}

func TestClassifyStatus(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   string
	}{
		{200, StatusClass2xx},
		{204, StatusClass2xx},
		{302, StatusClass3xx},
		{404, StatusClass4xx},
		{503, StatusClass5xx},
		{model.StatusTimeout, StatusClassTimeout},
		{model.StatusNetworkError, StatusClassConnectionError},
		{0, StatusClassOther},
	} {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestNoopSink_ImplementsSink(t *testing.T) {
	var s Sink = NoopSink{}
	s.DeliveryOutcome(OutcomeFailed)
}
