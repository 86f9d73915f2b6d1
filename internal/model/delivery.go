package model

import "time"

// DeliveryStatus is the lifecycle state of a Delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliverySuccess    DeliveryStatus = "success"
)

// IsValid reports whether s is a known delivery status.
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryProcessing, DeliveryFailed, DeliverySuccess:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the automatic lifecycle.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryFailed || s == DeliverySuccess
}

// Delivery is one obligation to deliver one Event to one WebhookSubscription.
type Delivery struct {
	ID             int64          `json:"id"`
	EventID        int64          `json:"event_id"`
	SubscriptionID string         `json:"subscription_id"`
	Status         DeliveryStatus `json:"status"`
	AttemptsCount  int            `json:"attempts_count"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`

	// ClaimToken identifies the claim that currently owns a processing
	// delivery. Every claim gets a fresh token, so a worker whose claim was
	// requeued can no longer release or record against the row.
	ClaimToken string `json:"-"`
}

// ClaimedDelivery is a delivery handed to a worker together with its event.
type ClaimedDelivery struct {
	Delivery *Delivery
	Event    *Event
}

// Sentinel response statuses for attempts that never received a status line.
const (
	StatusTimeout      = -1
	StatusNetworkError = -2
)

// DeliveryAttempt is the immutable record of one HTTP call.
type DeliveryAttempt struct {
	ID             int64     `json:"id"`
	DeliveryID     int64     `json:"delivery_id"`
	AttemptNumber  int       `json:"attempt_number"`
	AttemptedAt    time.Time `json:"attempted_at"`
	ResponseStatus int       `json:"response_status"`
	ResponseMs     int64     `json:"response_ms"`
	Error          *string   `json:"error,omitempty"`
}

// Succeeded reports whether the attempt got a 2xx response.
func (a *DeliveryAttempt) Succeeded() bool {
	return IsSuccessStatus(a.ResponseStatus)
}

// IsSuccessStatus reports whether an HTTP status acknowledges a delivery.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// AttemptOutcome is what a worker reports after one dispatch.
type AttemptOutcome struct {
	DeliveryID     int64
	ClaimToken     string
	AttemptedAt    time.Time
	ResponseStatus int
	ResponseMs     int64
	Error          string

	// Next is the resulting delivery status: success, pending, or failed.
	Next DeliveryStatus
	// NextAttemptAt is used only when Next is pending.
	NextAttemptAt time.Time
}

// DeliveryRow is a delivery as listed by the admin API.
type DeliveryRow struct {
	ID             int64          `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	CreatedAt      time.Time      `json:"created_at"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	AttemptsCount  int            `json:"attempts_count"`
	Status         DeliveryStatus `json:"status"`
	EventType      EventType      `json:"event_type"`
}

// AttemptRow is an attempt as listed by the admin API.
type AttemptRow struct {
	ID             int64     `json:"id"`
	DeliveryID     int64     `json:"delivery_id"`
	AttemptedAt    time.Time `json:"attempted_at"`
	AttemptNumber  int       `json:"attempt_number"`
	ResponseStatus int       `json:"response_status"`
	ResponseMs     int64     `json:"response_ms"`
	Error          *string   `json:"error,omitempty"`
	EventType      EventType `json:"event_type"`
}
