package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

func testEvent() *model.Event {
	chain, block, idx := int64(8453), int64(1200), 3
	return &model.Event{
		ID:          7,
		UID:         "uid-7",
		EventType:   model.EventCommentAdded,
		Version:     1,
		ChainID:     &chain,
		BlockNumber: &block,
		LogIndex:    &idx,
		TxHash:      "0xabc",
		Data:        json.RawMessage(`{"commentId":"c1"}`),
	}
}

func TestHTTPSender_Success(t *testing.T) {
	var (
		got     Payload
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.Client(), time.Second)
	res := s.Send(context.Background(), Request{
		URL:        srv.URL,
		Auth:       model.HeaderAuth{HeaderName: "X-Token", HeaderValue: "secret"},
		Event:      testEvent(),
		DeliveryID: 42,
		Attempt:    3,
	})

	if res.Status != http.StatusNoContent || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if got.Event != model.EventCommentAdded || got.UID != "uid-7" || *got.ChainID != 8453 || string(got.Data) != `{"commentId":"c1"}` {
		t.Errorf("payload = %+v", got)
	}
	checks := map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    "hookd/1",
		HeaderEvent:     "comment:added",
		HeaderDelivery:  "42",
		HeaderAttempt:   "3",
		"X-Token":       "secret",
		"Authorization": "",
	}
	for k, want := range checks {
		if v := headers.Get(k); v != want {
			t.Errorf("header %s = %q, want %q", k, v, want)
		}
	}
}

func TestHTTPSender_BasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
	}))
	defer srv.Close()

	res := NewHTTPSender(nil, time.Second).Send(context.Background(), Request{
		URL: srv.URL, Auth: model.BasicAuth{Username: "u", Password: "p"}, Event: testEvent(),
	})
	if res.Status != http.StatusOK {
		t.Fatalf("status = %d", res.Status)
	}
	if !ok || user != "u" || pass != "p" {
		t.Errorf("basic auth = %q %q %v", user, pass, ok)
	}
}

func TestHTTPSender_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	res := NewHTTPSender(nil, time.Second).Send(context.Background(), Request{URL: srv.URL, Event: testEvent()})
	if res.Status != 500 {
		t.Fatalf("status = %d", res.Status)
	}
	if res.Err == nil || res.Err.Error() != "HTTP 500 Internal Server Error" {
		t.Errorf("err = %v", res.Err)
	}
}

func TestHTTPSender_DoesNotFollowRedirects(t *testing.T) {
	followed := false
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) {
		followed = true
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := NewHTTPSender(srv.Client(), time.Second).Send(context.Background(), Request{URL: srv.URL + "/hook", Event: testEvent()})
	if res.Status != http.StatusFound || res.Err == nil {
		t.Errorf("result = %+v", res)
	}
	if followed {
		t.Error("redirect was followed")
	}
}

func TestHTTPSender_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := NewHTTPSender(nil, 50*time.Millisecond).Send(context.Background(), Request{URL: srv.URL, Event: testEvent()})
	if res.Status != model.StatusTimeout || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestHTTPSender_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewHTTPSender(nil, time.Second).Send(context.Background(), Request{URL: url, Event: testEvent()})
	if res.Status != model.StatusNetworkError || res.Err == nil {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPSender_InvalidURL(t *testing.T) {
	res := NewHTTPSender(nil, time.Second).Send(context.Background(), Request{URL: "://bad", Event: testEvent()})
	if res.Status != model.StatusNetworkError {
		t.Errorf("status = %d", res.Status)
	}
}
