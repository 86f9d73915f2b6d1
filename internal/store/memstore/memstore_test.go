package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

var t0 = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

func seed(t *testing.T, m *Store, events int, subs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range subs {
		if err := m.CreateSubscription(ctx, &model.WebhookSubscription{
			ID: id, AppID: "app", Name: id, URL: "https://example.com/" + id,
			Auth: model.NoAuth{}, EventFilter: []model.EventType{model.EventCommentAdded},
			CreatedAt: t0, UpdatedAt: t0,
		}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < events; i++ {
		e := &model.Event{
			EventType: model.EventCommentAdded, Version: 1, EntityID: string(rune('a' + i)),
			Data: json.RawMessage(`{}`), CreatedAt: t0,
		}
		e.UID = e.DeriveUID()
		if _, err := m.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAppendEvent_Duplicate(t *testing.T) {
	m := New()
	ctx := context.Background()
	e := &model.Event{UID: "u1", EventType: model.EventChannelCreated, Version: 1, CreatedAt: t0}
	if ok, _ := m.AppendEvent(ctx, e); !ok {
		t.Fatal("first append should insert")
	}
	dup := &model.Event{UID: "u1", EventType: model.EventChannelCreated, Version: 1, CreatedAt: t0.Add(time.Minute)}
	ok, err := m.AppendEvent(ctx, dup)
	if err != nil || ok {
		t.Fatalf("duplicate append = %v, %v", ok, err)
	}
	if dup.ID != e.ID || !dup.CreatedAt.Equal(t0) {
		t.Errorf("duplicate resolved to %d at %v", dup.ID, dup.CreatedAt)
	}
}

func TestEnqueuePending_Idempotent(t *testing.T) {
	m := New()
	seed(t, m, 2, "wh_a", "wh_b")
	ctx := context.Background()

	res, err := m.EnqueuePending(ctx, 10, t0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 2 || res.Deliveries != 4 {
		t.Fatalf("first pass = %+v", res)
	}
	res, _ = m.EnqueuePending(ctx, 10, t0)
	if res != (store.EnqueueResult{}) {
		t.Errorf("second pass = %+v, want zero", res)
	}
}

func TestClaimDue_NoDoubleClaim(t *testing.T) {
	m := New()
	seed(t, m, 20, "wh_a")
	ctx := context.Background()
	if _, err := m.EnqueuePending(ctx, 100, t0); err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, _ := m.ClaimDue(ctx, 3, t0)
			mu.Lock()
			defer mu.Unlock()
			for _, c := range claimed {
				seen[c.Delivery.ID]++
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("claimed %d distinct deliveries, want 20", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("delivery %d claimed %d times", id, n)
		}
	}
}

func TestRecordAttempt_RequiresClaim(t *testing.T) {
	m := New()
	seed(t, m, 1, "wh_a")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)

	_, err := m.RecordAttempt(ctx, model.AttemptOutcome{DeliveryID: 1, AttemptedAt: t0, Next: model.DeliverySuccess})
	if !errors.Is(err, store.ErrNotClaimed) {
		t.Fatalf("err = %v, want ErrNotClaimed", err)
	}

	claimed, _ := m.ClaimDue(ctx, 1, t0)
	a, err := m.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: claimed[0].Delivery.ClaimToken, AttemptedAt: t0, ResponseStatus: 200, Next: model.DeliverySuccess,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.AttemptNumber != 1 {
		t.Errorf("attempt number = %d", a.AttemptNumber)
	}
	d, _ := m.GetDelivery(ctx, 1)
	if d.Status != model.DeliverySuccess || d.AttemptsCount != 1 || d.CompletedAt == nil {
		t.Errorf("delivery = %+v", d)
	}
}

func TestClaimToken_RequeuedClaimIsLost(t *testing.T) {
	m := New()
	seed(t, m, 1, "wh_a")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)

	first, _ := m.ClaimDue(ctx, 1, t0)
	oldToken := first[0].Delivery.ClaimToken
	if oldToken == "" {
		t.Fatal("claim has no token")
	}
	if n, _ := m.RequeueStale(ctx, t0.Add(time.Minute), t0.Add(time.Minute), 10); n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}
	second, _ := m.ClaimDue(ctx, 1, t0.Add(time.Minute))
	if len(second) != 1 || second[0].Delivery.ClaimToken == oldToken {
		t.Fatalf("reclaim = %+v", second)
	}

	// The requeued worker can neither renew, release, nor record.
	if err := m.RenewClaim(ctx, 1, oldToken, t0); !errors.Is(err, store.ErrNotClaimed) {
		t.Errorf("renew: err = %v", err)
	}
	if err := m.ReleaseClaim(ctx, 1, oldToken, t0); !errors.Is(err, store.ErrNotClaimed) {
		t.Errorf("release: err = %v", err)
	}
	_, err := m.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: oldToken, AttemptedAt: t0, ResponseStatus: 200, Next: model.DeliverySuccess,
	})
	if !errors.Is(err, store.ErrNotClaimed) {
		t.Errorf("record: err = %v", err)
	}

	newToken := second[0].Delivery.ClaimToken
	if err := m.RenewClaim(ctx, 1, newToken, t0.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	d, _ := m.GetDelivery(ctx, 1)
	if d.ClaimedAt == nil || !d.ClaimedAt.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("renewed claimed_at = %v", d.ClaimedAt)
	}
	if _, err := m.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: newToken, AttemptedAt: t0, ResponseStatus: 200, Next: model.DeliverySuccess,
	}); err != nil {
		t.Fatal(err)
	}
	if attempts, _, _ := m.ListAttempts(ctx, model.AttemptFilter{DeliveryID: 1}); len(attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(attempts))
	}
}

func TestListUnarchivedEvents(t *testing.T) {
	m := New()
	seed(t, m, 4)
	ctx := context.Background()

	if err := m.MarkEventsArchived(ctx, []int64{1, 3}, t0); err != nil {
		t.Fatal(err)
	}
	events, err := m.ListUnarchivedEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].ID != 2 || events[1].ID != 4 {
		t.Errorf("unarchived = %+v", events)
	}
	if events, _ := m.ListUnarchivedEvents(ctx, 1); len(events) != 1 || events[0].ID != 2 {
		t.Errorf("limited = %+v", events)
	}
	if !m.Archived(3) || m.Archived(2) {
		t.Error("Archived reports the wrong events")
	}
}

func TestRetryDelivery(t *testing.T) {
	m := New()
	seed(t, m, 1, "wh_a")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)

	if _, err := m.RetryDelivery(ctx, 1, t0); !errors.Is(err, store.ErrNotFailed) {
		t.Errorf("retry pending: err = %v", err)
	}
	if _, err := m.RetryDelivery(ctx, 99, t0); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("retry missing: err = %v", err)
	}

	claimed, _ := m.ClaimDue(ctx, 1, t0)
	m.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: claimed[0].Delivery.ClaimToken, AttemptedAt: t0, ResponseStatus: 500, Next: model.DeliveryFailed,
	})
	d, err := m.RetryDelivery(ctx, 1, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != model.DeliveryPending || d.AttemptsCount != 1 || d.CompletedAt != nil {
		t.Errorf("retried delivery = %+v", d)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	m := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.RunInTransaction(ctx, func(tx store.Store) error {
		tx.AppendEvent(ctx, &model.Event{UID: "u", EventType: model.EventChannelCreated, Version: 1})
		return tx.RunInTransaction(ctx, func(store.Store) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.GetEvent(ctx, 1); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("event survived rollback: %v", err)
	}
}

func TestDeleteSubscription_Cascades(t *testing.T) {
	m := New()
	seed(t, m, 1, "wh_a", "wh_b")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)

	if err := m.DeleteSubscription(ctx, "wh_a"); err != nil {
		t.Fatal(err)
	}
	rows, _, _ := m.ListDeliveries(ctx, model.DeliveryFilter{})
	if len(rows) != 1 || rows[0].SubscriptionID != "wh_b" {
		t.Errorf("remaining deliveries = %+v", rows)
	}
}

func TestListDeliveries_Cursor(t *testing.T) {
	m := New()
	seed(t, m, 5, "wh_a")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)

	var ids []int64
	var cursor int64
	for {
		rows, next, err := m.ListDeliveries(ctx, model.DeliveryFilter{Cursor: cursor, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	want := []int64{5, 4, 3, 2, 1}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestAnalytics(t *testing.T) {
	m := New()
	seed(t, m, 3, "wh_a")
	ctx := context.Background()
	m.EnqueuePending(ctx, 10, t0)
	claimed, _ := m.ClaimDue(ctx, 10, t0)
	token := claimed[0].Delivery.ClaimToken

	// 1: success first try, 2: fail then pending, 3: still processing.
	m.RecordAttempt(ctx, model.AttemptOutcome{DeliveryID: 1, ClaimToken: token, AttemptedAt: t0.Add(time.Second), ResponseStatus: 200, ResponseMs: 80, Next: model.DeliverySuccess})
	m.RecordAttempt(ctx, model.AttemptOutcome{DeliveryID: 2, ClaimToken: token, AttemptedAt: t0.Add(time.Second), ResponseStatus: 503, ResponseMs: 300, Next: model.DeliveryPending, NextAttemptAt: t0.Add(time.Minute)})

	f := model.KPIFilter{From: t0.Add(-time.Hour), To: t0.Add(time.Hour)}

	b, _ := m.Backlog(ctx, f, t0.Add(10*time.Second))
	if b.Count != 2 || b.OldestAgeSeconds != 10 || b.NextAttemptAt == nil {
		t.Errorf("backlog = %+v", b)
	}
	first, _ := m.FirstAttemptSuccess(ctx, f)
	if first.Matched != 1 || first.Total != 2 {
		t.Errorf("first attempt = %+v", first)
	}
	eventual, _ := m.EventualSuccess(ctx, f)
	if eventual.Matched != 1 || eventual.Total != 3 {
		t.Errorf("eventual = %+v", eventual)
	}
	within, _ := m.DeliveredWithin(ctx, f, time.Minute)
	if within.Value != 1 {
		t.Errorf("within = %+v", within)
	}
	counts, _ := m.LatencyCounts(ctx, f, t0.Add(-time.Hour))
	if counts[0] != 1 || counts[2] != 1 {
		t.Errorf("latency counts = %v", counts)
	}
	vol, _ := m.VolumeCounts(ctx, f, model.VolumeHour)
	if len(vol) != 1 || vol[0].Success != 1 || !vol[0].BucketStart.Equal(t0) {
		t.Errorf("volume = %+v", vol)
	}

	other, _ := m.CountDeliveries(ctx, model.KPIFilter{AppID: "other", From: f.From, To: f.To})
	if other != 0 {
		t.Errorf("other app count = %d", other)
	}
}
