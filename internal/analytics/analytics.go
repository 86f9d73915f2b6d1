// Package analytics computes operator KPIs over delivery history.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// DefaultWindow is used when a filter leaves From unset.
const DefaultWindow = 24 * time.Hour

// SummaryWithin is the latency target reported by Summary.
const SummaryWithin = 60 * time.Second

// Input errors. Callers map these to a client error.
var (
	ErrInvalidWindow = errors.New("from must not be after to")
	ErrInvalidDays   = errors.New("days must be one of 7, 30, 90")
	ErrInvalidBucket = errors.New("bucket must be hour or day")
)

// Aggregator answers KPI queries. It only reads.
type Aggregator struct {
	reader  store.AnalyticsReader
	cache   Cache
	metrics metrics.Sink
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an aggregator. cache may be nil.
func New(r store.AnalyticsReader, cache Cache, sink metrics.Sink, logger *zap.Logger) *Aggregator {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Aggregator{
		reader:  r,
		cache:   cache,
		metrics: sink,
		logger:  logger.Named("analytics"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Window fills in a missing window: To defaults to now and From to
// DefaultWindow before To.
func (a *Aggregator) Window(f model.KPIFilter) (model.KPIFilter, error) {
	if f.To.IsZero() {
		f.To = a.now().Truncate(time.Second)
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-DefaultWindow)
	}
	f.From, f.To = f.From.UTC(), f.To.UTC()
	if f.From.After(f.To) {
		return f, ErrInvalidWindow
	}
	return f, nil
}

// Backlog reports the current pending and processing deliveries. It is
// never cached.
func (a *Aggregator) Backlog(ctx context.Context, f model.KPIFilter) (model.Backlog, error) {
	return a.reader.Backlog(ctx, f, a.now())
}

func (a *Aggregator) DeliveriesCount(ctx context.Context, f model.KPIFilter) (int64, error) {
	f, err := a.Window(f)
	if err != nil {
		return 0, err
	}
	return cached(ctx, a, cacheKey("deliveries", f), func() (int64, error) {
		return a.reader.CountDeliveries(ctx, f)
	})
}

// FirstAttemptSuccessRate is the share of attempted deliveries whose first
// attempt returned a status in [200, 399].
func (a *Aggregator) FirstAttemptSuccessRate(ctx context.Context, f model.KPIFilter) (model.Rate, error) {
	f, err := a.Window(f)
	if err != nil {
		return model.Rate{}, err
	}
	return cached(ctx, a, cacheKey("first-attempt-success", f), func() (model.Rate, error) {
		return a.reader.FirstAttemptSuccess(ctx, f)
	})
}

// EventualSuccessRate is the share of deliveries that reached success.
func (a *Aggregator) EventualSuccessRate(ctx context.Context, f model.KPIFilter) (model.Rate, error) {
	f, err := a.Window(f)
	if err != nil {
		return model.Rate{}, err
	}
	return cached(ctx, a, cacheKey("eventual-success", f), func() (model.Rate, error) {
		return a.reader.EventualSuccess(ctx, f)
	})
}

// DeliveredWithin is the share of successful deliveries whose first
// successful attempt started within d of creation.
func (a *Aggregator) DeliveredWithin(ctx context.Context, f model.KPIFilter, d time.Duration) (model.Rate, error) {
	f, err := a.Window(f)
	if err != nil {
		return model.Rate{}, err
	}
	return cached(ctx, a, cacheKey(fmt.Sprintf("delivered-within-%d", int64(d.Seconds())), f), func() (model.Rate, error) {
		return a.reader.DeliveredWithin(ctx, f, d)
	})
}

// LatencyHistogram buckets attempt response times over the last days days.
// The filter window is ignored.
func (a *Aggregator) LatencyHistogram(ctx context.Context, f model.KPIFilter, days int) (model.LatencyHistogram, error) {
	if !slices.Contains(model.ValidHistogramDays, days) {
		return model.LatencyHistogram{}, ErrInvalidDays
	}
	since := a.now().Truncate(time.Minute).Add(-time.Duration(days) * 24 * time.Hour)
	f.From, f.To = since, time.Time{}

	return cached(ctx, a, cacheKey(fmt.Sprintf("latency-%d", days), f), func() (model.LatencyHistogram, error) {
		counts, err := a.reader.LatencyCounts(ctx, f, since)
		if err != nil {
			return model.LatencyHistogram{}, err
		}
		h := model.EmptyLatencyHistogram(days)
		for i := range h.Buckets {
			if i < len(counts) {
				h.Buckets[i].Count = counts[i]
				h.Total += counts[i]
			}
		}
		return h, nil
	})
}

// VolumeOverTime returns success and failure counts per bucket, with every
// bucket in the window present. A window needing more than
// model.MaxVolumeBuckets buckets fails with model.ErrTooManyBuckets.
func (a *Aggregator) VolumeOverTime(ctx context.Context, f model.KPIFilter, size model.VolumeBucketSize) ([]model.VolumePoint, error) {
	if !size.IsValid() {
		return nil, ErrInvalidBucket
	}
	f, err := a.Window(f)
	if err != nil {
		return nil, err
	}
	starts, err := model.VolumeBuckets(size, f.From, f.To)
	if err != nil {
		return nil, err
	}
	return cached(ctx, a, cacheKey("volume-"+string(size), f), func() ([]model.VolumePoint, error) {
		points, err := a.reader.VolumeCounts(ctx, f, size)
		if err != nil {
			return nil, err
		}
		byStart := make(map[time.Time]model.VolumePoint, len(points))
		for _, p := range points {
			byStart[p.BucketStart.UTC()] = p
		}
		out := make([]model.VolumePoint, 0, len(starts))
		for _, start := range starts {
			p, ok := byStart[start]
			if !ok {
				p = model.VolumePoint{BucketStart: start}
			}
			out = append(out, p)
		}
		return out, nil
	})
}

// Summary combines the scalar KPIs.
func (a *Aggregator) Summary(ctx context.Context, f model.KPIFilter) (model.Summary, error) {
	f, err := a.Window(f)
	if err != nil {
		return model.Summary{}, err
	}
	s := model.Summary{WindowFrom: f.From, WindowTo: f.To}
	if s.Backlog, err = a.Backlog(ctx, f); err != nil {
		return model.Summary{}, err
	}
	if s.Deliveries, err = a.DeliveriesCount(ctx, f); err != nil {
		return model.Summary{}, err
	}
	if s.FirstAttemptSuccess, err = a.FirstAttemptSuccessRate(ctx, f); err != nil {
		return model.Summary{}, err
	}
	if s.EventualSuccess, err = a.EventualSuccessRate(ctx, f); err != nil {
		return model.Summary{}, err
	}
	if s.DeliveredWithin60s, err = a.DeliveredWithin(ctx, f, SummaryWithin); err != nil {
		return model.Summary{}, err
	}
	return s, nil
}

// cached serves key from the cache when present, otherwise loads and
// stores it. Cache failures fall through to the store.
func cached[T any](ctx context.Context, a *Aggregator, key string, load func() (T, error)) (T, error) {
	if a.cache == nil {
		return load()
	}
	var v T
	hit, err := a.cache.Get(ctx, key, &v)
	if err != nil {
		a.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		a.metrics.AnalyticsCache(true)
		return v, nil
	}
	a.metrics.AnalyticsCache(false)

	v, err = load()
	if err != nil {
		return v, err
	}
	if err := a.cache.Set(ctx, key, v); err != nil {
		a.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
