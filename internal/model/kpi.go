package model

import (
	"fmt"
	"time"
)

// Backlog describes deliveries not yet in a terminal state.
type Backlog struct {
	Count            int64      `json:"count"`
	OldestAgeSeconds float64    `json:"oldest_age_seconds"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
}

// Rate is a fraction with its numerator and denominator. Value is 0 when
// Total is 0.
type Rate struct {
	Matched int64   `json:"matched"`
	Total   int64   `json:"total"`
	Value   float64 `json:"value"`
}

// NewRate builds a Rate, guarding against an empty denominator.
func NewRate(matched, total int64) Rate {
	r := Rate{Matched: matched, Total: total}
	if total > 0 {
		r.Value = float64(matched) / float64(total)
	}
	return r
}

// LatencyBucketBounds are the upper bounds in milliseconds of the latency
// histogram buckets. The final bucket is unbounded.
var LatencyBucketBounds = []int64{100, 250, 500, 1000, 2500, 5000}

// LatencyBucket is one bar of the latency histogram: [LowerMs, UpperMs).
// UpperMs is -1 for the unbounded bucket.
type LatencyBucket struct {
	LowerMs int64 `json:"lower_ms"`
	UpperMs int64 `json:"upper_ms"`
	Count   int64 `json:"count"`
}

// LatencyHistogram is the bucketed distribution of attempt response times.
type LatencyHistogram struct {
	Days    int             `json:"days"`
	Buckets []LatencyBucket `json:"buckets"`
	Total   int64           `json:"total"`
}

// EmptyLatencyHistogram returns a histogram with every bucket at zero.
func EmptyLatencyHistogram(days int) LatencyHistogram {
	h := LatencyHistogram{Days: days, Buckets: make([]LatencyBucket, 0, len(LatencyBucketBounds)+1)}
	var lower int64
	for _, upper := range LatencyBucketBounds {
		h.Buckets = append(h.Buckets, LatencyBucket{LowerMs: lower, UpperMs: upper})
		lower = upper
	}
	h.Buckets = append(h.Buckets, LatencyBucket{LowerMs: lower, UpperMs: -1})
	return h
}

// LatencyBucketIndex returns the histogram bucket index for ms.
func LatencyBucketIndex(ms int64) int {
	for i, upper := range LatencyBucketBounds {
		if ms < upper {
			return i
		}
	}
	return len(LatencyBucketBounds)
}

// ValidHistogramDays lists the supported histogram windows.
var ValidHistogramDays = []int{7, 30, 90}

// VolumeBucketSize is the granularity of volume-over-time series.
type VolumeBucketSize string

const (
	VolumeHour VolumeBucketSize = "hour"
	VolumeDay  VolumeBucketSize = "day"
)

// IsValid reports whether b is a supported bucket size.
func (b VolumeBucketSize) IsValid() bool {
	return b == VolumeHour || b == VolumeDay
}

// Duration returns the length of one bucket.
func (b VolumeBucketSize) Duration() time.Duration {
	if b == VolumeDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Truncate returns the start of the bucket containing t, in UTC.
func (b VolumeBucketSize) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if b == VolumeDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// VolumePoint counts terminal outcomes in one bucket.
type VolumePoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Success     int64     `json:"success"`
	Failed      int64     `json:"failed"`
}

// MaxVolumeBuckets bounds a zero-filled volume series.
const MaxVolumeBuckets = 24 * 366

// ErrTooManyBuckets is returned for a window that needs more than
// MaxVolumeBuckets buckets.
var ErrTooManyBuckets = fmt.Errorf("volume window exceeds %d buckets", MaxVolumeBuckets)

// VolumeBuckets enumerates bucket starts covering [from, to]. A window too
// large for one series is an error rather than a truncated series.
func VolumeBuckets(size VolumeBucketSize, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, nil
	}
	start := size.Truncate(from)
	// Sub saturates, so a huge window still lands above the bound.
	n := to.Sub(start)/size.Duration() + 1
	if n > MaxVolumeBuckets {
		return nil, fmt.Errorf("%w: %d %s buckets requested", ErrTooManyBuckets, n, size)
	}
	out := make([]time.Time, 0, n)
	for i := range int(n) {
		out = append(out, start.Add(time.Duration(i)*size.Duration()))
	}
	return out, nil
}

// Summary combines the scalar KPIs for one filter.
type Summary struct {
	Backlog             Backlog   `json:"backlog"`
	Deliveries          int64     `json:"deliveries"`
	FirstAttemptSuccess Rate      `json:"first_attempt_success"`
	EventualSuccess     Rate      `json:"eventual_success"`
	DeliveredWithin60s  Rate      `json:"delivered_within_60s"`
	WindowFrom          time.Time `json:"from"`
	WindowTo            time.Time `json:"to"`
}
