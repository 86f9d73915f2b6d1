// Package metrics records delivery pipeline metrics.
package metrics

import (
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// Sink records metrics. Methods are fire-and-forget and never block.
type Sink interface {
	// Outbox
	EventAppended(inserted bool)

	// Enqueuer
	EnqueueCompleted(events, deliveries int, duration time.Duration, err error)

	// Worker pool
	DeliveriesClaimed(n int)
	DeliveryAttemptCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	InFlightIncr()
	InFlightDecr()
	StaleRequeued(n int)

	// Archive
	ArchiveExported(events int, err error)

	// Analytics
	AnalyticsCache(hit bool)
}

// Outcome values for DeliveryOutcome.
const (
	OutcomeSuccess  = "success"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeReleased = "released"
	OutcomeLost     = "lost"
)

// Status classes for DeliveryAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass3xx             = "3xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOther           = "other"
)

// ClassifyStatus maps a recorded response status to its class.
func ClassifyStatus(status int) string {
	switch {
	case status == model.StatusTimeout:
		return StatusClassTimeout
	case status == model.StatusNetworkError:
		return StatusClassConnectionError
	case status >= 200 && status < 300:
		return StatusClass2xx
	case status >= 300 && status < 400:
		return StatusClass3xx
	case status >= 400 && status < 500:
		return StatusClass4xx
	case status >= 500 && status < 600:
		return StatusClass5xx
	default:
		return StatusClassOther
	}
}
