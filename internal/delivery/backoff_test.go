package delivery

import (
	"testing"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, JitterFraction: 0.5, MaxAttempts: 10}

	tests := []struct {
		failures int
		jitter   float64
		want     time.Duration
	}{
		{0, 0, time.Second},
		{1, 0, 2 * time.Second},
		{3, 0, 8 * time.Second},
		{3, 1, 12 * time.Second},
		{5, 0, 32 * time.Second},
		{5, 1, time.Minute},
		{6, 0, time.Minute},
		{40, 0.9, time.Minute},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.failures, tt.jitter); got != tt.want {
			t.Errorf("Delay(%d, %v) = %s, want %s", tt.failures, tt.jitter, got, tt.want)
		}
	}
}

func TestBackoffDelay_Monotonic(t *testing.T) {
	b := DefaultBackoff
	prev := time.Duration(0)
	for n := 0; n < 30; n++ {
		// Worst case: no jitter now after full jitter before.
		lo := b.Delay(n, 0)
		if lo < prev {
			t.Fatalf("Delay(%d) = %s shrank below %s", n, lo, prev)
		}
		prev = b.Delay(n, 0.999)
		if prev > b.Max {
			t.Fatalf("Delay(%d) = %s exceeds max", n, prev)
		}
	}
}

func TestBackoffPlan(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Hour, MaxAttempts: 3}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		prior    int
		status   int
		want     model.DeliveryStatus
		wantNext time.Time
	}{
		{"2xx succeeds", 0, 204, model.DeliverySuccess, time.Time{}},
		{"success on last attempt", 2, 200, model.DeliverySuccess, time.Time{}},
		{"first failure retries", 0, 500, model.DeliveryPending, at.Add(time.Second)},
		{"second failure retries", 1, model.StatusTimeout, model.DeliveryPending, at.Add(2 * time.Second)},
		{"redirect is a failure", 1, 302, model.DeliveryPending, at.Add(2 * time.Second)},
		{"last failure fails", 2, 503, model.DeliveryFailed, time.Time{}},
		{"manual retry beyond max fails", 5, model.StatusNetworkError, model.DeliveryFailed, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next := b.Plan(tt.prior, tt.status, at, 0)
			if got != tt.want || !next.Equal(tt.wantNext) {
				t.Errorf("Plan = %s at %v, want %s at %v", got, next, tt.want, tt.wantNext)
			}
		})
	}
}

func TestBackoffValidate(t *testing.T) {
	if err := DefaultBackoff.Validate(); err != nil {
		t.Fatalf("default backoff invalid: %v", err)
	}
	bad := []Backoff{
		{Base: 0, Max: time.Second, MaxAttempts: 1},
		{Base: time.Minute, Max: time.Second, MaxAttempts: 1},
		{Base: time.Second, Max: time.Minute, JitterFraction: 1.5, MaxAttempts: 1},
		{Base: time.Second, Max: time.Minute, MaxAttempts: 0},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", b)
		}
	}
}
