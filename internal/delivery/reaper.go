package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// ReaperOptions tunes stale-claim recovery.
type ReaperOptions struct {
	// StaleAfter is how long a delivery may stay in processing before it is
	// presumed abandoned. It must exceed a full claim batch of attempt
	// timeouts.
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
}

// DefaultReaperOptions requeues claims older than five minutes.
var DefaultReaperOptions = ReaperOptions{
	StaleAfter: 5 * time.Minute,
	Interval:   time.Minute,
	BatchSize:  500,
}

// Reaper returns deliveries claimed by a crashed worker to pending.
type Reaper struct {
	store   store.DeliveryStore
	opts    ReaperOptions
	metrics metrics.Sink
	logger  *zap.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper. It does not start it.
func NewReaper(s store.DeliveryStore, opts ReaperOptions, sink metrics.Sink, logger *zap.Logger) *Reaper {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultReaperOptions.StaleAfter
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultReaperOptions.Interval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultReaperOptions.BatchSize
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Reaper{
		store:   s,
		opts:    opts,
		metrics: sink,
		logger:  logger.Named("reaper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the reaper on its interval until Stop.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		for {
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("requeue stale deliveries", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the reaper and waits for it.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// RunOnce requeues every stale claim, in batches.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		now := r.now()
		n, err := r.store.RequeueStale(ctx, now.Add(-r.opts.StaleAfter), now, r.opts.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < r.opts.BatchSize {
			break
		}
	}
	if total > 0 {
		r.metrics.StaleRequeued(total)
		r.logger.Warn("requeued stale deliveries", zap.Int("count", total))
	}
	return total, nil
}
