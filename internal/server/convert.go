package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// page is one cursor-paginated listing. NextCursor is omitted on the last
// page.
type page[T any] struct {
	Items      []T   `json:"items"`
	NextCursor int64 `json:"next_cursor,omitempty"`
}

func newPage[T any](items []T, next int64) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, NextCursor: next}
}

func queryInt64(q url.Values, key string) (int64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, inputError(key + " must be a non-negative integer")
	}
	return n, nil
}

func queryInt(q url.Values, key string) (int, error) {
	n, err := queryInt64(q, key)
	return int(n), err
}

func queryTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, inputError(key + " must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

// pathID parses the {id} path segment as a delivery id.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, inputError("id must be a positive integer")
	}
	return id, nil
}

func deliveryFilter(q url.Values) (model.DeliveryFilter, error) {
	f := model.DeliveryFilter{SubscriptionID: q.Get("subscription_id")}
	var err error
	if f.DeliveryID, err = queryInt64(q, "delivery_id"); err != nil {
		return f, err
	}
	if f.Cursor, err = queryInt64(q, "cursor"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(q, "limit"); err != nil {
		return f, err
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st := model.DeliveryStatus(strings.TrimSpace(s))
			if !st.IsValid() {
				return f, inputError("unknown status " + strconv.Quote(s))
			}
			f.Status = append(f.Status, st)
		}
	}
	return f, nil
}

func attemptFilter(q url.Values) (model.AttemptFilter, error) {
	f := model.AttemptFilter{SubscriptionID: q.Get("subscription_id")}
	var err error
	if f.DeliveryID, err = queryInt64(q, "delivery_id"); err != nil {
		return f, err
	}
	if f.Cursor, err = queryInt64(q, "cursor"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func kpiFilter(q url.Values) (model.KPIFilter, error) {
	f := model.KPIFilter{AppID: q.Get("app_id"), WebhookID: q.Get("webhook_id")}
	var err error
	if f.From, err = queryTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(q, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func subscriptionFilter(q url.Values) (model.SubscriptionFilter, error) {
	f := model.SubscriptionFilter{AppID: q.Get("app_id"), EventType: model.EventType(q.Get("event_type"))}
	if f.EventType != "" && !f.EventType.IsValid() {
		return f, inputError("unknown event_type " + strconv.Quote(string(f.EventType)))
	}
	if v := q.Get("paused"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, inputError("paused must be true or false")
		}
		f.Paused = &b
	}
	return f, nil
}
