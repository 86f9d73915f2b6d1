// Package events carries best-effort notifications between hookd
// components over NATS. Nothing here is a source of truth: every consumer
// also polls the database, so a lost message only delays work.
package events

import (
	"context"
	"time"
)

// Subjects published by hookd.
const (
	// SubjectOutboxAppended is published after a transaction that appended
	// events commits. The enqueuer wakes on it.
	SubjectOutboxAppended = "webhooks.outbox.appended"
	// SubjectDeliveryExhausted is published when a delivery reaches failed.
	SubjectDeliveryExhausted = "webhooks.delivery.exhausted"

	// SubjectAll matches every hookd subject.
	SubjectAll = "webhooks.>"
)

// OutboxAppended lists event ids committed by one unit of work.
type OutboxAppended struct {
	EventIDs []int64 `json:"event_ids"`
}

// DeliveryExhausted describes a delivery that used up its attempts.
type DeliveryExhausted struct {
	DeliveryID     int64     `json:"delivery_id"`
	SubscriptionID string    `json:"subscription_id"`
	EventID        int64     `json:"event_id"`
	EventType      string    `json:"event_type"`
	Attempts       int       `json:"attempts"`
	LastStatus     int       `json:"last_status"`
	FailedAt       time.Time `json:"failed_at"`
}

// Publisher emits notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

// Subscriber receives notifications.
type Subscriber interface {
	// Subscribe delivers raw payloads for subject (NATS wildcards allowed)
	// until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, subject string) (<-chan []byte, error)
	Close() error
}

// NoopPublisher drops every notification. It is used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
