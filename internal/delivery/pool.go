// Package delivery claims due deliveries and dispatches them to
// subscribers.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/events"
	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// Store is the persistence the pool needs.
type Store interface {
	store.SubscriptionStore
	store.DeliveryStore
}

// Options tunes the worker pool.
type Options struct {
	// Workers is the number of concurrent claim loops.
	Workers int
	// BatchSize is the number of deliveries one worker claims at a time.
	BatchSize int
	// PollInterval is how long an idle worker waits before claiming again.
	PollInterval time.Duration
	// PausePollDelay reschedules deliveries of paused subscriptions.
	PausePollDelay time.Duration
	Backoff        Backoff
}

// DefaultOptions is a small single-node pool.
var DefaultOptions = Options{
	Workers:        4,
	BatchSize:      10,
	PollInterval:   500 * time.Millisecond,
	PausePollDelay: 30 * time.Second,
	Backoff:        DefaultBackoff,
}

// releaseTimeout bounds the claim release issued after cancellation.
const releaseTimeout = 5 * time.Second

// Pool runs workers that claim due deliveries, dispatch them and record
// the outcome. Any number of pools may share a database: the claim is
// atomic and carries a token, so a worker whose claim was requeued by the
// reaper cannot record over the new owner.
type Pool struct {
	store     Store
	sender    Sender
	publisher events.Publisher
	opts      Options
	metrics   metrics.Sink
	logger    *zap.Logger
	now       func() time.Time
	jitter    func() float64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. It does not start any workers.
func NewPool(s Store, sender Sender, pub events.Publisher, opts Options, sink metrics.Sink, logger *zap.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions.Workers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions.PollInterval
	}
	if opts.PausePollDelay <= 0 {
		opts.PausePollDelay = DefaultOptions.PausePollDelay
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Pool{
		store:     s,
		sender:    sender,
		publisher: pub,
		opts:      opts,
		metrics:   sink,
		logger:    logger.Named("delivery"),
		now:       func() time.Time { return time.Now().UTC() },
		jitter:    rand.Float64,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running.Store(true)

	for i := range p.opts.Workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx, p.logger.With(zap.Int("worker", i)))
		}()
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.opts.Workers))
}

// Stop cancels in-flight requests, releases their claims and waits for the
// workers to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.running.Store(false)
}

// Running reports whether the workers are active.
func (p *Pool) Running() bool {
	return p.running.Load()
}

func (p *Pool) work(ctx context.Context, logger *zap.Logger) {
	for {
		n, err := p.ProcessDue(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("claim failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// ProcessDue claims one batch of due deliveries and processes it. It
// returns the number claimed.
func (p *Pool) ProcessDue(ctx context.Context) (int, error) {
	claimed, err := p.store.ClaimDue(ctx, p.opts.BatchSize, p.now())
	if err != nil {
		return 0, err
	}
	p.metrics.DeliveriesClaimed(len(claimed))
	for i, cd := range claimed {
		if ctx.Err() != nil {
			// Hand back what this worker will not get to.
			for _, rest := range claimed[i:] {
				p.release(rest.Delivery, p.now())
			}
			break
		}
		p.process(ctx, cd)
	}
	return len(claimed), nil
}

func (p *Pool) process(ctx context.Context, cd *model.ClaimedDelivery) {
	p.metrics.InFlightIncr()
	defer p.metrics.InFlightDecr()

	d := cd.Delivery
	logger := p.logger.With(
		zap.Int64("delivery_id", d.ID),
		zap.String("subscription_id", d.SubscriptionID),
		zap.String("event_type", string(cd.Event.EventType)),
	)

	sub, err := p.store.GetSubscription(ctx, d.SubscriptionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		logger.Warn("subscription missing, releasing delivery")
		p.release(d, p.now().Add(p.opts.PausePollDelay))
		return
	case err != nil:
		logger.Error("load subscription", zap.Error(err))
		p.release(d, p.now().Add(p.opts.PollInterval))
		return
	}
	if err := model.ValidateSubscription(sub); err != nil {
		logger.Warn("skipping invalid subscription", zap.Error(err))
		p.release(d, p.now().Add(p.opts.PausePollDelay))
		return
	}
	if sub.Paused {
		p.release(d, p.now().Add(p.opts.PausePollDelay))
		return
	}

	// Earlier items in the batch may have used up most of the stale window.
	// Confirm the claim is still ours and restart its clock before sending.
	attemptedAt := p.now()
	if err := p.store.RenewClaim(ctx, d.ID, d.ClaimToken, attemptedAt); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			logger.Warn("claim lost before dispatch")
			p.metrics.DeliveryOutcome(metrics.OutcomeLost)
			return
		}
		logger.Error("renew claim", zap.Error(err))
		p.release(d, p.now().Add(p.opts.PollInterval))
		return
	}

	attempt := d.AttemptsCount + 1
	res := p.sender.Send(ctx, Request{
		URL:        sub.URL,
		Auth:       sub.Auth,
		Event:      cd.Event,
		DeliveryID: d.ID,
		Attempt:    attempt,
	})

	recordCtx := ctx
	if ctx.Err() != nil {
		if res.Status <= 0 {
			// Shutdown aborted the request; the attempt does not count.
			p.release(d, attemptedAt)
			return
		}
		// The subscriber answered before shutdown; keep the answer.
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
	}

	p.metrics.DeliveryAttemptCompleted(metrics.ClassifyStatus(res.Status), res.Duration)

	next, nextAt := p.opts.Backoff.Plan(d.AttemptsCount, res.Status, attemptedAt, p.jitter())
	outcome := model.AttemptOutcome{
		DeliveryID:     d.ID,
		ClaimToken:     d.ClaimToken,
		AttemptedAt:    attemptedAt,
		ResponseStatus: res.Status,
		ResponseMs:     res.Duration.Milliseconds(),
		Next:           next,
		NextAttemptAt:  nextAt,
	}
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	if _, err := p.store.RecordAttempt(recordCtx, outcome); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			logger.Warn("claim lost before the attempt was recorded", zap.Int("status", res.Status))
			p.metrics.DeliveryOutcome(metrics.OutcomeLost)
			return
		}
		logger.Error("record attempt", zap.Error(err))
		return
	}

	switch next {
	case model.DeliverySuccess:
		p.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
		logger.Debug("delivered", zap.Int("attempt", attempt), zap.Int("status", res.Status))
	case model.DeliveryPending:
		p.metrics.DeliveryOutcome(metrics.OutcomeRetry)
		logger.Info("attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Int("status", res.Status), zap.Time("next_attempt_at", nextAt))
	case model.DeliveryFailed:
		p.metrics.DeliveryOutcome(metrics.OutcomeFailed)
		logger.Warn("delivery exhausted", zap.Int("attempts", attempt), zap.Int("status", res.Status))
		p.notifyExhausted(recordCtx, cd, attempt, res.Status, attemptedAt)
	}
}

// release hands a claim back without recording an attempt.
func (p *Pool) release(d *model.Delivery, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	err := p.store.ReleaseClaim(ctx, d.ID, d.ClaimToken, at)
	switch {
	case errors.Is(err, store.ErrNotClaimed):
		p.metrics.DeliveryOutcome(metrics.OutcomeLost)
	case err != nil:
		p.logger.Error("release claim", zap.Int64("delivery_id", d.ID), zap.Error(err))
	default:
		p.metrics.DeliveryOutcome(metrics.OutcomeReleased)
	}
}

func (p *Pool) notifyExhausted(ctx context.Context, cd *model.ClaimedDelivery, attempts, status int, at time.Time) {
	err := p.publisher.Publish(ctx, events.SubjectDeliveryExhausted, events.DeliveryExhausted{
		DeliveryID:     cd.Delivery.ID,
		SubscriptionID: cd.Delivery.SubscriptionID,
		EventID:        cd.Event.ID,
		EventType:      string(cd.Event.EventType),
		Attempts:       attempts,
		LastStatus:     status,
		FailedAt:       at,
	})
	if err != nil {
		p.logger.Warn("exhausted notification failed", zap.Int64("delivery_id", cd.Delivery.ID), zap.Error(err))
	}
}
