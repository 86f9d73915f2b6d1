package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// Lookups of a missing row return sql.ErrNoRows.
var (
	// ErrNotClaimed is returned when a delivery is no longer processing
	// under the caller's claim token.
	ErrNotClaimed = errors.New("delivery is not claimed")
	// ErrNotFailed is returned when a manual retry targets a delivery that
	// is not in the failed state.
	ErrNotFailed = errors.New("delivery is not in failed state")
	// ErrConflict is returned when a created row collides with an existing one.
	ErrConflict = errors.New("already exists")
)

// EnqueueResult reports one fan-out batch.
type EnqueueResult struct {
	Events     int `json:"events"`
	Deliveries int `json:"deliveries"`
}

// EventStore is the transactional outbox.
type EventStore interface {
	// AppendEvent inserts e, or on a uid conflict only touches updated_at.
	// inserted is false for a duplicate.
	AppendEvent(ctx context.Context, e *model.Event) (inserted bool, err error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	// ListUnarchivedEvents returns up to limit events not yet archived, in
	// id order. Inside a transaction the rows stay locked until commit and
	// rows locked by another archiver are skipped.
	ListUnarchivedEvents(ctx context.Context, limit int) ([]*model.Event, error)
	MarkEventsArchived(ctx context.Context, ids []int64, at time.Time) error
}

// SubscriptionStore is the webhook subscription registry.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *model.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, filter model.SubscriptionFilter) ([]*model.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, s *model.WebhookSubscription) error
	SetSubscriptionPaused(ctx context.Context, id string, paused bool, now time.Time) (*model.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// DeliveryStore owns delivery rows and their attempts.
type DeliveryStore interface {
	// EnqueuePending fans out up to limit not-yet-fanned-out events.
	EnqueuePending(ctx context.Context, limit int, now time.Time) (EnqueueResult, error)
	// ClaimDue atomically moves up to limit due pending deliveries to
	// processing under one fresh claim token and returns them ordered by
	// (next_attempt_at, id).
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.ClaimedDelivery, error)
	// RenewClaim refreshes claimed_at for a delivery still held under token.
	// Returns ErrNotClaimed if the claim was lost.
	RenewClaim(ctx context.Context, id int64, token string, now time.Time) error
	// ReleaseClaim returns a processing delivery to pending without
	// recording an attempt. Returns ErrNotClaimed if token no longer owns it.
	ReleaseClaim(ctx context.Context, id int64, token string, nextAttemptAt time.Time) error
	// RecordAttempt inserts the attempt and applies the transition in one
	// transaction. Returns ErrNotClaimed unless the delivery is processing
	// under outcome.ClaimToken.
	RecordAttempt(ctx context.Context, outcome model.AttemptOutcome) (*model.DeliveryAttempt, error)
	// RetryDelivery reopens a failed delivery. Returns ErrNotFailed if the
	// delivery exists in another state.
	RetryDelivery(ctx context.Context, id int64, now time.Time) (*model.Delivery, error)
	// RequeueStale returns deliveries stuck in processing since before cutoff
	// to pending.
	RequeueStale(ctx context.Context, cutoff, now time.Time, limit int) (int, error)

	GetDelivery(ctx context.Context, id int64) (*model.Delivery, error)
	ListDeliveries(ctx context.Context, filter model.DeliveryFilter) (rows []*model.DeliveryRow, nextCursor int64, err error)
	ListAttempts(ctx context.Context, filter model.AttemptFilter) (rows []*model.AttemptRow, nextCursor int64, err error)
}

// AnalyticsReader serves read-only aggregate queries.
type AnalyticsReader interface {
	Backlog(ctx context.Context, f model.KPIFilter, now time.Time) (model.Backlog, error)
	CountDeliveries(ctx context.Context, f model.KPIFilter) (int64, error)
	FirstAttemptSuccess(ctx context.Context, f model.KPIFilter) (model.Rate, error)
	EventualSuccess(ctx context.Context, f model.KPIFilter) (model.Rate, error)
	DeliveredWithin(ctx context.Context, f model.KPIFilter, within time.Duration) (model.Rate, error)
	// LatencyCounts returns attempt counts per model.LatencyBucketBounds
	// bucket for attempts at or after since.
	LatencyCounts(ctx context.Context, f model.KPIFilter, since time.Time) ([]int64, error)
	// VolumeCounts returns non-empty buckets of terminal outcomes.
	VolumeCounts(ctx context.Context, f model.KPIFilter, size model.VolumeBucketSize) ([]model.VolumePoint, error)
}

// Store defines the persistence interface for the delivery subsystem.
type Store interface {
	EventStore
	SubscriptionStore
	DeliveryStore
	AnalyticsReader

	// RunInTransaction calls fn with a Store bound to one transaction,
	// committing if fn returns nil.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}
