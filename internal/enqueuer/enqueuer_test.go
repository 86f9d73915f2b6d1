package enqueuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store/memstore"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func subscribe(t *testing.T, s *memstore.Store, id string, paused bool, types ...model.EventType) {
	t.Helper()
	err := s.CreateSubscription(context.Background(), &model.WebhookSubscription{
		ID: id, AppID: "app", Name: id, URL: "https://hooks.example.com/" + id,
		Auth: model.NoAuth{}, EventFilter: types, Paused: paused, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func appendEvents(t *testing.T, s *memstore.Store, n int, typ model.EventType) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := &model.Event{
			EventType: typ, Version: 1, EntityID: fmt.Sprintf("%s-%d", typ, i),
			Data: json.RawMessage(`{}`), CreatedAt: now,
		}
		e.UID = e.DeriveUID()
		if _, err := s.AppendEvent(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestEnqueuer(s *memstore.Store, sub events.Subscriber, opts Options) *Enqueuer {
	e := New(s, sub, opts, nil, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func TestRunOnce_DrainsAllBatches(t *testing.T) {
	s := memstore.New()
	subscribe(t, s, "wh_a", false, model.EventCommentAdded)
	subscribe(t, s, "wh_b", false, model.EventCommentAdded, model.EventChannelCreated)
	appendEvents(t, s, 5, model.EventCommentAdded)
	appendEvents(t, s, 1, model.EventChannelCreated)

	e := newTestEnqueuer(s, nil, Options{BatchSize: 2, Interval: time.Hour})
	res, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Events != 6 || res.Deliveries != 11 {
		t.Errorf("result = %+v, want 6 events / 11 deliveries", res)
	}

	// A second pass finds nothing new.
	res, err = e.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Events != 0 || res.Deliveries != 0 {
		t.Errorf("second pass = %+v", res)
	}
}

func TestRunOnce_SkipsPausedAndUnmatched(t *testing.T) {
	s := memstore.New()
	subscribe(t, s, "wh_paused", true, model.EventCommentAdded)
	subscribe(t, s, "wh_other", false, model.EventApprovalAdded)
	subscribe(t, s, "wh_live", false, model.EventCommentAdded)
	appendEvents(t, s, 1, model.EventCommentAdded)

	e := newTestEnqueuer(s, nil, DefaultOptions)
	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	ds := s.Deliveries()
	if len(ds) != 1 || ds[0].SubscriptionID != "wh_live" {
		t.Fatalf("deliveries = %+v", ds)
	}
	d := ds[0]
	if d.Status != model.DeliveryPending || d.AttemptsCount != 0 || !d.NextAttemptAt.Equal(now) {
		t.Errorf("delivery = %+v", d)
	}
	if !s.FannedOut(1) {
		t.Error("event not marked fanned out")
	}
}

func TestRunOnce_ContextCancelled(t *testing.T) {
	s := memstore.New()
	e := newTestEnqueuer(s, nil, DefaultOptions)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// chanSubscriber hands out a channel the test controls.
type chanSubscriber struct {
	ch  chan []byte
	err error
}

func (c *chanSubscriber) Subscribe(context.Context, string) (<-chan []byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.ch, nil
}

func (c *chanSubscriber) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_WakesOnNotification(t *testing.T) {
	s := memstore.New()
	subscribe(t, s, "wh_a", false, model.EventCommentAdded)

	sub := &chanSubscriber{ch: make(chan []byte, 1)}
	e := newTestEnqueuer(s, sub, Options{Interval: time.Hour})
	e.Start()
	defer e.Stop()

	appendEvents(t, s, 1, model.EventCommentAdded)
	sub.ch <- []byte(`{"event_ids":[1]}`)

	waitFor(t, func() bool { return len(s.Deliveries()) == 1 })
}

func TestStart_PollsWhenSubscribeFails(t *testing.T) {
	s := memstore.New()
	subscribe(t, s, "wh_a", false, model.EventCommentAdded)

	sub := &chanSubscriber{err: errors.New("no nats")}
	e := newTestEnqueuer(s, sub, Options{Interval: 10 * time.Millisecond})
	e.Start()
	defer e.Stop()

	appendEvents(t, s, 2, model.EventCommentAdded)
	waitFor(t, func() bool { return len(s.Deliveries()) == 2 })
}

func TestStart_WakesOverNATS(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	bus, err := events.Connect(srv.ClientURL(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	s := memstore.New()
	subscribe(t, s, "wh_a", false, model.EventCommentAdded)

	e := newTestEnqueuer(s, bus, Options{Interval: time.Hour})
	e.Start()
	defer e.Stop()

	appendEvents(t, s, 1, model.EventCommentAdded)
	if err := bus.Publish(context.Background(), events.SubjectOutboxAppended, events.OutboxAppended{EventIDs: []int64{1}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.Deliveries()) == 1 })
}

func TestStop_WithoutStart(t *testing.T) {
	e := newTestEnqueuer(memstore.New(), nil, DefaultOptions)
	e.Stop()
}
