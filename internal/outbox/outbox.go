// Package outbox writes domain events into the event table inside the
// caller's transaction.
//
// Producers never talk to subscribers. They append events in the same
// transaction as their own writes; the enqueuer fans the committed rows out
// later. Runner.Run scopes an Outbox to one transaction so that nothing can
// append outside of one.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

var (
	// ErrClosed is returned by an Outbox whose transaction has ended.
	ErrClosed = errors.New("outbox: transaction already ended")
	// ErrUnknownEventType is returned for an event type hookd does not deliver.
	ErrUnknownEventType = errors.New("outbox: unknown event type")
)

// Append validates e and writes it through tx, deriving the UID when it is
// empty. It reports whether a new row was written; a replay of an existing
// UID is not an error. Append does no network I/O.
func Append(ctx context.Context, tx store.Store, e *model.Event) (bool, error) {
	if !e.EventType.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	if e.UID == "" && (e.HasProvenance() || e.EntityID != "") {
		e.UID = e.DeriveUID()
	}
	if err := model.ValidateEvent(e); err != nil {
		return false, err
	}
	inserted, err := tx.AppendEvent(ctx, e)
	if err != nil {
		return false, fmt.Errorf("append %s event %s: %w", e.EventType, e.UID, err)
	}
	return inserted, nil
}

// Outbox appends events within a single transaction.
type Outbox struct {
	tx      store.Store
	metrics metrics.Sink

	mu       sync.Mutex
	closed   bool
	appended []int64
}

// Append writes e in the Outbox's transaction.
func (o *Outbox) Append(ctx context.Context, e *model.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	inserted, err := Append(ctx, o.tx, e)
	if err != nil {
		return err
	}
	o.metrics.EventAppended(inserted)
	if inserted {
		o.appended = append(o.appended, e.ID)
	}
	return nil
}

// close ends the Outbox and returns the ids of newly inserted events.
func (o *Outbox) close() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return o.appended
}

// Runner executes units of work that append events.
type Runner struct {
	store     store.Store
	publisher events.Publisher
	metrics   metrics.Sink
	logger    *zap.Logger
}

// NewRunner returns a Runner. A nil publisher disables wake-up
// notifications.
func NewRunner(s store.Store, pub events.Publisher, sink metrics.Sink, logger *zap.Logger) *Runner {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Runner{store: s, publisher: pub, metrics: sink, logger: logger.Named("outbox")}
}

// Run opens a transaction and calls fn with a store and an Outbox bound to
// it. Any error from fn, including a failed append, rolls back the domain
// writes together with the events. After commit the enqueuer is notified;
// a failed notification is logged and never reported to the caller.
func (r *Runner) Run(ctx context.Context, fn func(tx store.Store, ob *Outbox) error) error {
	var ob *Outbox
	err := r.store.RunInTransaction(ctx, func(tx store.Store) error {
		ob = &Outbox{tx: tx, metrics: r.metrics}
		return fn(tx, ob)
	})
	var ids []int64
	if ob != nil {
		ids = ob.close()
	}
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := r.publisher.Publish(ctx, events.SubjectOutboxAppended, events.OutboxAppended{EventIDs: ids}); err != nil {
		r.logger.Warn("outbox notification failed", zap.Int("events", len(ids)), zap.Error(err))
	}
	return nil
}
