package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/analytics"
	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/idgen"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/outbox"
	"github.com/alfredjeanlab/hookd/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testEnv struct {
	srv     *Server
	store   *memstore.Store
	pub     *recordingPublisher
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := memstore.New()
	pub := &recordingPublisher{}
	logger := zap.NewNop()
	srv := New(ms, outbox.NewRunner(ms, pub, nil, logger), analytics.New(ms, nil, nil, logger), logger)
	srv.now = func() time.Time { return t0 }
	return &testEnv{srv: srv, store: ms, pub: pub, handler: srv.NewHTTPHandler("")}
}

// do sends a request through the full handler and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, code, rec.Body.String())
	}
}

// seedDeliveries creates subscription id and n events fanned out to it.
func (e *testEnv) seedDeliveries(t *testing.T, id string, n int) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.CreateSubscription(ctx, &model.WebhookSubscription{
		ID: id, AppID: "app", Name: id, URL: "https://example.com/" + id,
		Auth: model.NoAuth{}, EventFilter: []model.EventType{model.EventCommentAdded},
		CreatedAt: t0, UpdatedAt: t0,
	}); err != nil {
		t.Fatal(err)
	}
	for i := range n {
		ev := &model.Event{
			EventType: model.EventCommentAdded, Version: 1, EntityID: fmt.Sprintf("%s-%d", id, i),
			Data: json.RawMessage(`{}`), CreatedAt: t0,
		}
		ev.UID = ev.DeriveUID()
		if _, err := e.store.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.store.EnqueuePending(ctx, 100, t0); err != nil {
		t.Fatal(err)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["status"]; got != "ok" {
		t.Errorf("status = %q", got)
	}
}

func TestCreateSubscription(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"app_id":       "app",
		"name":         "orders",
		"url":          "https://example.com/hook",
		"event_filter": []string{"comment:added"},
		"auth":         map[string]string{"type": "header", "header_value": "s3cret"},
	})
	expectStatus(t, rec, http.StatusCreated)
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Errorf("response leaks secret: %s", rec.Body.String())
	}

	got := decode[model.WebhookSubscription](t, rec)
	if !idgen.IsSubscriptionID(got.ID) {
		t.Errorf("generated id = %q", got.ID)
	}
	if !got.CreatedAt.Equal(t0) || got.Paused {
		t.Errorf("created = %+v", got)
	}

	stored, err := env.store.GetSubscription(context.Background(), got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := stored.Auth.(model.HeaderAuth); !ok || a.HeaderValue != "s3cret" {
		t.Errorf("stored auth = %#v", stored.Auth)
	}
}

func TestCreateSubscription_Errors(t *testing.T) {
	env := newTestEnv(t)
	valid := map[string]any{
		"id": "wh_fixed", "app_id": "app", "name": "n",
		"url": "https://example.com", "event_filter": []string{"comment:added"},
	}
	expectStatus(t, env.do(t, http.MethodPost, "/v1/subscriptions", valid), http.StatusCreated)

	t.Run("Duplicate", func(t *testing.T) {
		expectStatus(t, env.do(t, http.MethodPost, "/v1/subscriptions", valid), http.StatusConflict)
	})
	t.Run("InvalidJSON", func(t *testing.T) {
		expectStatus(t, env.do(t, http.MethodPost, "/v1/subscriptions", "{"), http.StatusBadRequest)
	})
	t.Run("ValidationFields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
			"app_id": "app", "url": "ftp://example.com", "event_filter": []string{"nope"},
		})
		expectStatus(t, rec, http.StatusBadRequest)
		body := decode[struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}](t, rec)
		if body.Error != "validation failed" || len(body.Fields) < 2 {
			t.Errorf("body = %+v", body)
		}
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"id": "wh_life", "app_id": "app", "name": "before",
		"url": "https://example.com/a", "event_filter": []string{"comment:added"},
		"auth": map[string]string{"type": "basic", "username": "u", "password": "p"},
	})
	expectStatus(t, rec, http.StatusCreated)

	// PUT without auth keeps the stored credentials.
	rec = env.do(t, http.MethodPut, "/v1/subscriptions/wh_life", map[string]any{
		"app_id": "app", "name": "after",
		"url": "https://example.com/b", "event_filter": []string{"comment:added", "comment:edited"},
	})
	expectStatus(t, rec, http.StatusOK)
	stored, _ := env.store.GetSubscription(context.Background(), "wh_life")
	if stored.Name != "after" || len(stored.EventFilter) != 2 {
		t.Errorf("updated = %+v", stored)
	}
	if a, ok := stored.Auth.(model.BasicAuth); !ok || a.Password != "p" {
		t.Errorf("auth after update = %#v", stored.Auth)
	}

	rec = env.do(t, http.MethodPost, "/v1/subscriptions/wh_life/pause", nil)
	expectStatus(t, rec, http.StatusOK)
	if sub := decode[model.WebhookSubscription](t, rec); !sub.Paused || sub.PausedAt == nil {
		t.Errorf("paused = %+v", sub)
	}

	rec = env.do(t, http.MethodGet, "/v1/subscriptions?paused=true", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decode[struct {
		Items []model.WebhookSubscription `json:"items"`
	}](t, rec)
	if len(list.Items) != 1 || list.Items[0].ID != "wh_life" {
		t.Errorf("paused list = %+v", list.Items)
	}

	rec = env.do(t, http.MethodPost, "/v1/subscriptions/wh_life/resume", nil)
	expectStatus(t, rec, http.StatusOK)
	if sub := decode[model.WebhookSubscription](t, rec); sub.Paused {
		t.Errorf("resumed = %+v", sub)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/v1/subscriptions/wh_life", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/subscriptions/wh_life", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/v1/subscriptions/wh_life", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/subscriptions/wh_life/pause", nil), http.StatusNotFound)
}

func TestListSubscriptions_BadFilter(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/subscriptions?paused=maybe", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/subscriptions?event_type=nope", nil), http.StatusBadRequest)

	rec := env.do(t, http.MethodGet, "/v1/subscriptions", nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != `{"items":[]}` {
		t.Errorf("empty list body = %s", rec.Body.String())
	}
}

func TestListDeliveries_Pagination(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeliveries(t, "wh_a", 3)

	rec := env.do(t, http.MethodGet, "/v1/deliveries?limit=2", nil)
	expectStatus(t, rec, http.StatusOK)
	first := decode[page[model.DeliveryRow]](t, rec)
	if len(first.Items) != 2 || first.NextCursor == 0 {
		t.Fatalf("first page = %+v", first)
	}
	if first.Items[0].EventType != model.EventCommentAdded {
		t.Errorf("row = %+v", first.Items[0])
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/deliveries?limit=2&cursor=%d", first.NextCursor), nil)
	expectStatus(t, rec, http.StatusOK)
	second := decode[page[model.DeliveryRow]](t, rec)
	if len(second.Items) != 1 || second.NextCursor != 0 {
		t.Fatalf("second page = %+v", second)
	}
	if strings.Contains(rec.Body.String(), "next_cursor") {
		t.Errorf("last page carries a cursor: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/deliveries?status=failed", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[page[model.DeliveryRow]](t, rec); len(got.Items) != 0 {
		t.Errorf("failed filter = %+v", got.Items)
	}
}

func TestListDeliveries_BadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"status=bogus", "limit=-1", "cursor=x", "delivery_id=abc"} {
		t.Run(q, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodGet, "/v1/deliveries?"+q, nil), http.StatusBadRequest)
		})
	}
}

func TestGetDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeliveries(t, "wh_a", 1)

	rec := env.do(t, http.MethodGet, "/v1/deliveries/1", nil)
	expectStatus(t, rec, http.StatusOK)
	if d := decode[model.Delivery](t, rec); d.ID != 1 || d.Status != model.DeliveryPending {
		t.Errorf("delivery = %+v", d)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/deliveries/99", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/deliveries/abc", nil), http.StatusBadRequest)
}

func TestRetryDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeliveries(t, "wh_a", 1)
	ctx := context.Background()

	expectStatus(t, env.do(t, http.MethodPost, "/v1/deliveries/1/retry", nil), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/deliveries/42/retry", nil), http.StatusNotFound)

	claimed, err := env.store.ClaimDue(ctx, 1, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: claimed[0].Delivery.ClaimToken, AttemptedAt: t0, ResponseStatus: 500, ResponseMs: 12, Next: model.DeliveryFailed,
	}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/v1/deliveries/1/retry", nil)
	expectStatus(t, rec, http.StatusOK)
	d := decode[model.Delivery](t, rec)
	if d.Status != model.DeliveryPending || !d.NextAttemptAt.Equal(t0) || d.AttemptsCount != 1 {
		t.Errorf("retried = %+v", d)
	}

	rec = env.do(t, http.MethodGet, "/v1/attempts?delivery_id=1", nil)
	expectStatus(t, rec, http.StatusOK)
	attempts := decode[page[model.AttemptRow]](t, rec)
	if len(attempts.Items) != 1 || attempts.Items[0].ResponseStatus != 500 {
		t.Errorf("attempts = %+v", attempts.Items)
	}
}

func TestKPIEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeliveries(t, "wh_a", 2)
	ctx := context.Background()
	claimed, _ := env.store.ClaimDue(ctx, 10, t0)
	env.store.RecordAttempt(ctx, model.AttemptOutcome{
		DeliveryID: 1, ClaimToken: claimed[0].Delivery.ClaimToken, AttemptedAt: t0.Add(time.Second), ResponseStatus: 200, ResponseMs: 40, Next: model.DeliverySuccess,
	})

	window := "from=" + t0.Add(-time.Hour).Format(time.RFC3339) + "&to=" + t0.Add(time.Hour).Format(time.RFC3339)

	rec := env.do(t, http.MethodGet, "/v1/kpi/summary?"+window, nil)
	expectStatus(t, rec, http.StatusOK)
	sum := decode[model.Summary](t, rec)
	if sum.Deliveries != 2 || sum.Backlog.Count != 1 || sum.EventualSuccess.Matched != 1 {
		t.Errorf("summary = %+v", sum)
	}

	rec = env.do(t, http.MethodGet, "/v1/kpi/deliveries?"+window, nil)
	expectStatus(t, rec, http.StatusOK)
	if n := decode[map[string]int64](t, rec)["count"]; n != 2 {
		t.Errorf("count = %d", n)
	}

	rec = env.do(t, http.MethodGet, "/v1/kpi/first-attempt-success?"+window, nil)
	expectStatus(t, rec, http.StatusOK)
	if r := decode[model.Rate](t, rec); r.Matched != 1 || r.Total != 1 || r.Value != 1 {
		t.Errorf("first attempt = %+v", r)
	}

	rec = env.do(t, http.MethodGet, "/v1/kpi/volume?bucket=day&"+window, nil)
	expectStatus(t, rec, http.StatusOK)
	vol := decode[struct {
		Bucket string              `json:"bucket"`
		Points []model.VolumePoint `json:"points"`
	}](t, rec)
	if vol.Bucket != "day" || len(vol.Points) == 0 {
		t.Errorf("volume = %+v", vol)
	}

	for _, path := range []string{
		"/v1/kpi/backlog", "/v1/kpi/eventual-success", "/v1/kpi/delivered-within-60s", "/v1/kpi/latency?days=30",
	} {
		expectStatus(t, env.do(t, http.MethodGet, path, nil), http.StatusOK)
	}
}

func TestKPIEndpoints_BadInput(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/v1/kpi/latency?days=14",
		"/v1/kpi/latency?days=two",
		"/v1/kpi/volume?bucket=week",
		"/v1/kpi/volume?bucket=hour&from=2024-01-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		"/v1/kpi/summary?from=yesterday",
		"/v1/kpi/summary?from=2026-03-04T12:00:00Z&to=2026-03-04T11:00:00Z",
	} {
		t.Run(path, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodGet, path, nil), http.StatusBadRequest)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/metrics", nil), http.StatusNotFound)

	env.srv.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "hookd_up 1")
	})
	env.handler = env.srv.NewHTTPHandler("")
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "hookd_up") {
		t.Errorf("metrics body = %s", rec.Body.String())
	}
}

func TestAppendEvent(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"event_type": "comment:added", "entity_id": "c1", "data": map[string]int{"n": 1}}

	expectStatus(t, env.do(t, http.MethodPost, "/v1/events", body), http.StatusNotFound)

	env.srv.DevIngress = true
	rec := env.do(t, http.MethodPost, "/v1/events", body)
	expectStatus(t, rec, http.StatusAccepted)
	got := decode[map[string]any](t, rec)
	if got["id"] != float64(1) || got["uid"] == "" {
		t.Errorf("response = %v", got)
	}
	if len(env.pub.subjects) != 1 || env.pub.subjects[0] != events.SubjectOutboxAppended {
		t.Errorf("published = %v", env.pub.subjects)
	}

	// Replaying the same UID is accepted without a second notification.
	expectStatus(t, env.do(t, http.MethodPost, "/v1/events", body), http.StatusAccepted)
	if len(env.pub.subjects) != 1 {
		t.Errorf("replay published = %v", env.pub.subjects)
	}

	body["event_type"] = "comment:exploded"
	expectStatus(t, env.do(t, http.MethodPost, "/v1/events", body), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/events", "not json"), http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{inputError("bad"), http.StatusBadRequest},
		{&model.ValidationError{}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", outbox.ErrUnknownEventType), http.StatusBadRequest},
		{analytics.ErrInvalidBucket, http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	} {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
