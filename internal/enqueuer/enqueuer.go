// Package enqueuer fans committed outbox events out into deliveries.
package enqueuer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// Options tunes the fan-out loop.
type Options struct {
	// Interval between polls when no wake-up arrives.
	Interval time.Duration
	// BatchSize is the number of events fanned out per transaction.
	BatchSize int
}

// DefaultOptions polls every second in batches of 500 events.
var DefaultOptions = Options{
	Interval:  time.Second,
	BatchSize: 500,
}

// Enqueuer periodically creates one pending delivery for every matching,
// non-paused subscription of each new event. Running several enqueuers
// against one database is safe: batches are claimed with SKIP LOCKED and
// the (event, subscription) pair is unique.
type Enqueuer struct {
	store      store.DeliveryStore
	subscriber events.Subscriber
	opts       Options
	metrics    metrics.Sink
	logger     *zap.Logger
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Enqueuer. subscriber may be nil, in which case the loop
// relies on polling alone.
func New(s store.DeliveryStore, subscriber events.Subscriber, opts Options, sink metrics.Sink, logger *zap.Logger) *Enqueuer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions.Interval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Enqueuer{
		store:      s,
		subscriber: subscriber,
		opts:       opts,
		metrics:    sink,
		logger:     logger.Named("enqueuer"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the loop in the background: one pass immediately, then on
// every tick or outbox notification.
func (e *Enqueuer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	var wake <-chan []byte
	if e.subscriber != nil {
		ch, err := e.subscriber.Subscribe(ctx, events.SubjectOutboxAppended)
		if err != nil {
			e.logger.Warn("outbox notifications unavailable, polling only", zap.Error(err))
		} else {
			wake = ch
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, wake)
	}()
}

// Stop cancels the loop and waits for the current batch to finish.
func (e *Enqueuer) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Enqueuer) run(ctx context.Context, wake <-chan []byte) {
	e.drain(ctx)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drain(ctx)
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			e.drain(ctx)
		}
	}
}

func (e *Enqueuer) drain(ctx context.Context) {
	res, err := e.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("fan-out failed", zap.Error(err))
		}
		return
	}
	if res.Events > 0 {
		e.logger.Debug("fan-out completed", zap.Int("events", res.Events), zap.Int("deliveries", res.Deliveries))
	}
}

// RunOnce fans out batches until no unprocessed events remain and returns
// the totals.
func (e *Enqueuer) RunOnce(ctx context.Context) (store.EnqueueResult, error) {
	var total store.EnqueueResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		start := time.Now()
		res, err := e.store.EnqueuePending(ctx, e.opts.BatchSize, e.now())
		e.metrics.EnqueueCompleted(res.Events, res.Deliveries, time.Since(start), err)
		if err != nil {
			return total, err
		}
		total.Events += res.Events
		total.Deliveries += res.Deliveries
		if res.Events < e.opts.BatchSize {
			return total, nil
		}
	}
}
