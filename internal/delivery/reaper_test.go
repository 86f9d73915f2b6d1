package delivery

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/model"
)

func TestReaper_RequeuesStaleClaims(t *testing.T) {
	s := setup(t, "https://hooks.example.com/a", false, 3)
	ctx := context.Background()

	// Two claims abandoned long ago, one fresh.
	if _, err := s.ClaimDue(ctx, 2, start); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimDue(ctx, 1, start.Add(9*time.Minute)); err != nil {
		t.Fatal(err)
	}

	r := NewReaper(s, ReaperOptions{StaleAfter: 5 * time.Minute, BatchSize: 1}, nil, zap.NewNop())
	r.now = func() time.Time { return start.Add(10 * time.Minute) }

	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("requeued %d, want 2", n)
	}

	var pending, processing int
	for _, d := range s.Deliveries() {
		switch d.Status {
		case model.DeliveryPending:
			pending++
			if d.ClaimedAt != nil {
				t.Errorf("requeued delivery %d still claimed", d.ID)
			}
		case model.DeliveryProcessing:
			processing++
		}
	}
	if pending != 2 || processing != 1 {
		t.Errorf("pending=%d processing=%d", pending, processing)
	}

	if n, _ := r.RunOnce(ctx); n != 0 {
		t.Errorf("second pass requeued %d", n)
	}
}

func TestReaper_StartStop(t *testing.T) {
	s := setup(t, "https://hooks.example.com/a", false, 1)
	s.ClaimDue(context.Background(), 1, start)

	r := NewReaper(s, ReaperOptions{StaleAfter: time.Minute, Interval: time.Hour}, nil, zap.NewNop())
	r.now = func() time.Time { return start.Add(time.Hour) }
	r.Start()

	deadline := time.Now().Add(5 * time.Second)
	for {
		d, _ := s.GetDelivery(context.Background(), 1)
		if d.Status == model.DeliveryPending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale claim was not requeued on start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
}
