package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// scoped yields deliveries matching the app and webhook filters.
func (m *Store) scoped(f model.KPIFilter) []*model.Delivery {
	var out []*model.Delivery
	for _, d := range m.sortedDeliveries() {
		if f.WebhookID != "" && d.SubscriptionID != f.WebhookID {
			continue
		}
		if f.AppID != "" {
			s, ok := m.st.subs[d.SubscriptionID]
			if !ok || s.AppID != f.AppID {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func inWindow(t time.Time, f model.KPIFilter) bool {
	return !t.Before(f.From) && !t.After(f.To)
}

func (m *Store) Backlog(_ context.Context, f model.KPIFilter, now time.Time) (model.Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		b      model.Backlog
		oldest time.Time
	)
	for _, d := range m.scoped(f) {
		if d.Status != model.DeliveryPending && d.Status != model.DeliveryProcessing {
			continue
		}
		b.Count++
		if oldest.IsZero() || d.CreatedAt.Before(oldest) {
			oldest = d.CreatedAt
		}
		if d.Status == model.DeliveryPending && (b.NextAttemptAt == nil || d.NextAttemptAt.Before(*b.NextAttemptAt)) {
			t := d.NextAttemptAt
			b.NextAttemptAt = &t
		}
	}
	if b.Count > 0 {
		b.OldestAgeSeconds = max(now.Sub(oldest).Seconds(), 0)
	}
	return b, nil
}

func (m *Store) CountDeliveries(_ context.Context, f model.KPIFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.scoped(f) {
		if inWindow(d.CreatedAt, f) {
			n++
		}
	}
	return n, nil
}

func (m *Store) attemptsByDelivery() map[int64][]*model.DeliveryAttempt {
	out := make(map[int64][]*model.DeliveryAttempt)
	for _, a := range m.st.attempts {
		out[a.DeliveryID] = append(out[a.DeliveryID], a)
	}
	return out
}

func (m *Store) FirstAttemptSuccess(_ context.Context, f model.KPIFilter) (model.Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDelivery := m.attemptsByDelivery()
	var matched, total int64
	for _, d := range m.scoped(f) {
		if !inWindow(d.CreatedAt, f) {
			continue
		}
		for _, a := range byDelivery[d.ID] {
			if a.AttemptNumber != 1 {
				continue
			}
			total++
			if a.ResponseStatus >= 200 && a.ResponseStatus <= 399 {
				matched++
			}
		}
	}
	return model.NewRate(matched, total), nil
}

func (m *Store) EventualSuccess(_ context.Context, f model.KPIFilter) (model.Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched, total int64
	for _, d := range m.scoped(f) {
		if !inWindow(d.CreatedAt, f) {
			continue
		}
		total++
		if d.Status == model.DeliverySuccess {
			matched++
		}
	}
	return model.NewRate(matched, total), nil
}

func (m *Store) DeliveredWithin(_ context.Context, f model.KPIFilter, within time.Duration) (model.Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDelivery := m.attemptsByDelivery()
	var matched, total int64
	for _, d := range m.scoped(f) {
		if d.Status != model.DeliverySuccess || !inWindow(d.CreatedAt, f) {
			continue
		}
		var first time.Time
		for _, a := range byDelivery[d.ID] {
			if model.IsSuccessStatus(a.ResponseStatus) && (first.IsZero() || a.AttemptedAt.Before(first)) {
				first = a.AttemptedAt
			}
		}
		if first.IsZero() {
			continue
		}
		total++
		if first.Sub(d.CreatedAt) <= within {
			matched++
		}
	}
	return model.NewRate(matched, total), nil
}

func (m *Store) LatencyCounts(_ context.Context, f model.KPIFilter, since time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inScope := make(map[int64]bool)
	for _, d := range m.scoped(f) {
		inScope[d.ID] = true
	}
	counts := make([]int64, len(model.LatencyBucketBounds)+1)
	for _, a := range m.st.attempts {
		if !inScope[a.DeliveryID] || a.AttemptedAt.Before(since) {
			continue
		}
		counts[model.LatencyBucketIndex(a.ResponseMs)]++
	}
	return counts, nil
}

func (m *Store) VolumeCounts(_ context.Context, f model.KPIFilter, size model.VolumeBucketSize) ([]model.VolumePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make(map[time.Time]*model.VolumePoint)
	for _, d := range m.scoped(f) {
		if !d.Status.IsTerminal() || d.CompletedAt == nil || !inWindow(*d.CompletedAt, f) {
			continue
		}
		start := size.Truncate(*d.CompletedAt)
		p, ok := buckets[start]
		if !ok {
			p = &model.VolumePoint{BucketStart: start}
			buckets[start] = p
		}
		if d.Status == model.DeliverySuccess {
			p.Success++
		} else {
			p.Failed++
		}
	}

	out := make([]model.VolumePoint, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}
