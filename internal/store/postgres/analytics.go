package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// kpiFrom joins deliveries to their subscription so app filters apply.
const kpiFrom = `
	FROM deliveries d
	JOIN webhook_subscriptions s ON s.id = d.subscription_id`

// scopeKPI adds the optional app and webhook conditions.
func scopeKPI(w *where, f model.KPIFilter) {
	if f.AppID != "" {
		w.add("s.app_id = %s", f.AppID)
	}
	if f.WebhookID != "" {
		w.add("d.subscription_id = %s", f.WebhookID)
	}
}

// windowKPI restricts column to [f.From, f.To].
func windowKPI(w *where, column string, f model.KPIFilter) {
	w.add(column+" >= %s", f.From)
	w.add(column+" <= %s", f.To)
}

// Backlog reports current non-terminal deliveries. The time window does not
// apply; the backlog is a point-in-time figure.
func (q queries) Backlog(ctx context.Context, f model.KPIFilter, now time.Time) (model.Backlog, error) {
	var w where
	nowArg := w.arg(now)
	w.clauses = append(w.clauses, "d.status IN ('pending', 'processing')")
	scopeKPI(&w, f)

	var (
		b    model.Backlog
		next sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(EXTRACT(EPOCH FROM (`+nowArg+`::timestamptz - MIN(d.created_at))), 0)::float8,
		       MIN(d.next_attempt_at) FILTER (WHERE d.status = 'pending')`+
		kpiFrom+w.sql(), w.args...).Scan(&b.Count, &b.OldestAgeSeconds, &next)
	if err != nil {
		return model.Backlog{}, fmt.Errorf("backlog: %w", err)
	}
	if b.OldestAgeSeconds < 0 {
		b.OldestAgeSeconds = 0
	}
	b.NextAttemptAt = timePtr(next)
	return b, nil
}

func (q queries) CountDeliveries(ctx context.Context, f model.KPIFilter) (int64, error) {
	var w where
	scopeKPI(&w, f)
	windowKPI(&w, "d.created_at", f)

	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*)`+kpiFrom+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// FirstAttemptSuccess counts deliveries created in the window whose first
// attempt returned a status in [200, 399]. Deliveries never attempted are
// excluded from the denominator.
func (q queries) FirstAttemptSuccess(ctx context.Context, f model.KPIFilter) (model.Rate, error) {
	var w where
	scopeKPI(&w, f)
	windowKPI(&w, "d.created_at", f)

	return q.rate(ctx, "first attempt success", `
		SELECT COUNT(*) FILTER (WHERE a.response_status BETWEEN 200 AND 399), COUNT(*)`+kpiFrom+`
		JOIN delivery_attempts a ON a.delivery_id = d.id AND a.attempt_number = 1`+w.sql(), w.args)
}

// EventualSuccess counts deliveries created in the window that reached
// success, over all deliveries created in the window.
func (q queries) EventualSuccess(ctx context.Context, f model.KPIFilter) (model.Rate, error) {
	var w where
	scopeKPI(&w, f)
	windowKPI(&w, "d.created_at", f)

	return q.rate(ctx, "eventual success", `
		SELECT COUNT(*) FILTER (WHERE d.status = 'success'), COUNT(*)`+kpiFrom+w.sql(), w.args)
}

// DeliveredWithin counts successful deliveries created in the window whose
// first successful attempt started no later than within after creation.
func (q queries) DeliveredWithin(ctx context.Context, f model.KPIFilter, within time.Duration) (model.Rate, error) {
	var w where
	limit := w.arg(within.Seconds())
	w.clauses = append(w.clauses, "d.status = 'success'")
	scopeKPI(&w, f)
	windowKPI(&w, "d.created_at", f)

	return q.rate(ctx, "delivered within", `
		SELECT COUNT(*) FILTER (WHERE EXTRACT(EPOCH FROM (fs.first_success_at - d.created_at)) <= `+limit+`),
		       COUNT(*)`+kpiFrom+`
		JOIN LATERAL (
			SELECT MIN(a.attempted_at) AS first_success_at
			FROM delivery_attempts a
			WHERE a.delivery_id = d.id AND a.response_status BETWEEN 200 AND 299
		) fs ON fs.first_success_at IS NOT NULL`+w.sql(), w.args)
}

func (q queries) rate(ctx context.Context, name, query string, args []any) (model.Rate, error) {
	var matched, total int64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&matched, &total); err != nil {
		return model.Rate{}, fmt.Errorf("%s: %w", name, err)
	}
	return model.NewRate(matched, total), nil
}

// latencyBucketExpr maps response_ms to its model.LatencyBucketBounds index.
func latencyBucketExpr() string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, upper := range model.LatencyBucketBounds {
		fmt.Fprintf(&b, " WHEN a.response_ms < %d THEN %d", upper, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(model.LatencyBucketBounds))
	return b.String()
}

func (q queries) LatencyCounts(ctx context.Context, f model.KPIFilter, since time.Time) ([]int64, error) {
	var w where
	w.add("a.attempted_at >= %s", since)
	scopeKPI(&w, f)

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+latencyBucketExpr()+` AS bucket, COUNT(*)`+kpiFrom+`
		JOIN delivery_attempts a ON a.delivery_id = d.id`+w.sql()+`
		GROUP BY bucket`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("latency histogram: %w", err)
	}
	defer rows.Close()

	counts := make([]int64, len(model.LatencyBucketBounds)+1)
	for rows.Next() {
		var (
			bucket int
			n      int64
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan latency bucket: %w", err)
		}
		if bucket >= 0 && bucket < len(counts) {
			counts[bucket] = n
		}
	}
	return counts, rows.Err()
}

// VolumeCounts groups terminal deliveries by the UTC hour or day in which
// they completed.
func (q queries) VolumeCounts(ctx context.Context, f model.KPIFilter, size model.VolumeBucketSize) ([]model.VolumePoint, error) {
	var w where
	unit := w.arg(string(size))
	w.clauses = append(w.clauses, "d.status IN ('success', 'failed')")
	scopeKPI(&w, f)
	windowKPI(&w, "d.completed_at", f)

	rows, err := q.db.QueryContext(ctx, `
		SELECT date_trunc(`+unit+`, d.completed_at AT TIME ZONE 'UTC') AS bucket,
		       COUNT(*) FILTER (WHERE d.status = 'success'),
		       COUNT(*) FILTER (WHERE d.status = 'failed')`+kpiFrom+w.sql()+`
		GROUP BY bucket
		ORDER BY bucket`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("volume over time: %w", err)
	}
	defer rows.Close()

	var out []model.VolumePoint
	for rows.Next() {
		var p model.VolumePoint
		if err := rows.Scan(&p.BucketStart, &p.Success, &p.Failed); err != nil {
			return nil, fmt.Errorf("scan volume bucket: %w", err)
		}
		// date_trunc on a UTC timestamp yields a zoneless value.
		t := p.BucketStart
		p.BucketStart = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
		out = append(out, p)
	}
	return out, rows.Err()
}
