// Package client provides a transport-agnostic interface for the hookd admin
// API and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// AdminClient is the interface the hookd CLI commands use to talk to a
// running server. It is implemented by HTTPClient.
type AdminClient interface {
	// Deliveries
	ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) (*Page[model.DeliveryRow], error)
	GetDelivery(ctx context.Context, id int64) (*model.Delivery, error)
	RetryDelivery(ctx context.Context, id int64) (*model.Delivery, error)
	ListAttempts(ctx context.Context, req *ListAttemptsRequest) (*Page[model.AttemptRow], error)

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *model.WebhookSubscription) (*model.WebhookSubscription, error)
	GetSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, req *ListSubscriptionsRequest) ([]*model.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, id string, sub *model.WebhookSubscription) (*model.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	PauseSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	ResumeSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)

	// KPIs
	Summary(ctx context.Context, req *KPIRequest) (*model.Summary, error)
	LatencyHistogram(ctx context.Context, req *KPIRequest, days int) (*model.LatencyHistogram, error)
	VolumeOverTime(ctx context.Context, req *KPIRequest, bucket model.VolumeBucketSize) ([]model.VolumePoint, error)

	// Events
	AppendEvent(ctx context.Context, e *model.Event) (*AppendEventResponse, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// Page is one cursor-paginated listing. NextCursor is zero on the last page.
type Page[T any] struct {
	Items      []*T  `json:"items"`
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// ListDeliveriesRequest holds parameters for listing deliveries.
type ListDeliveriesRequest struct {
	SubscriptionID string
	Status         []model.DeliveryStatus
	DeliveryID     int64
	Cursor         int64
	Limit          int
}

// ListAttemptsRequest holds parameters for listing attempts.
type ListAttemptsRequest struct {
	SubscriptionID string
	DeliveryID     int64
	Cursor         int64
	Limit          int
}

// ListSubscriptionsRequest holds parameters for listing subscriptions.
type ListSubscriptionsRequest struct {
	AppID     string
	EventType model.EventType
	Paused    *bool
}

// KPIRequest scopes a KPI query. Zero times leave the server defaults.
type KPIRequest struct {
	AppID     string
	WebhookID string
	From      time.Time
	To        time.Time
}

// AppendEventResponse is the response from AppendEvent.
type AppendEventResponse struct {
	ID  int64  `json:"id"`
	UID string `json:"uid"`
}
