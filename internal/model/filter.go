package model

import "time"

// DefaultPageSize and MaxPageSize bound cursor-paginated listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// DeliveryFilter holds criteria for listing deliveries. Results are ordered
// by id descending; Cursor is the id of the last row of the previous page.
type DeliveryFilter struct {
	SubscriptionID string           `json:"subscription_id,omitempty"`
	DeliveryID     int64            `json:"delivery_id,omitempty"`
	Status         []DeliveryStatus `json:"status,omitempty"`
	Cursor         int64            `json:"cursor,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

// AttemptFilter holds criteria for listing attempts.
type AttemptFilter struct {
	DeliveryID     int64  `json:"delivery_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Cursor         int64  `json:"cursor,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// SubscriptionFilter holds criteria for listing subscriptions.
type SubscriptionFilter struct {
	AppID     string    `json:"app_id,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	Paused    *bool     `json:"paused,omitempty"`
}

// KPIFilter scopes analytics queries. AppID and WebhookID are optional; the
// window is [From, To].
type KPIFilter struct {
	AppID     string    `json:"app_id,omitempty"`
	WebhookID string    `json:"webhook_id,omitempty"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// PageLimit clamps a requested limit into [1, MaxPageSize].
func PageLimit(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
