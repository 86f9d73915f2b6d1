// Package archive periodically exports newly appended events to durable
// storage for replay and audit.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/hookd/internal/metrics"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// DefaultBatchSize is the number of events per archive object.
const DefaultBatchSize = 1000

// Destination is an archive target.
type Destination interface {
	// Write stores data as the object named key.
	Write(ctx context.Context, key string, data []byte) error
}

// Scheduler runs periodic exports to a destination.
type Scheduler struct {
	store     store.Store
	dest      Destination
	interval  time.Duration
	batchSize int
	metrics   metrics.Sink
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from s to dest at the given
// interval.
func NewScheduler(s store.Store, dest Destination, interval time.Duration, sink metrics.Sink, logger *zap.Logger) *Scheduler {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Scheduler{
		store:     s,
		dest:      dest,
		interval:  interval,
		batchSize: DefaultBatchSize,
		metrics:   sink,
		logger:    logger.Named("archive"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins periodic export. It runs once immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.runAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("archive export failed", zap.Int("exported", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("archive export completed", zap.Int("events", n))
	}
}

// RunOnce exports every unarchived event, one object per batch, and returns
// how many were exported. Each batch is read, written and marked archived in
// one transaction, so a failed write leaves its events for the next run and
// concurrent archivers skip each other's rows.
func (s *Scheduler) RunOnce(ctx context.Context) (total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.metrics.ArchiveExported(total, err) }()

	for {
		var n int
		n, err = s.exportBatch(ctx)
		total += n
		if err != nil || n < s.batchSize {
			return total, err
		}
	}
}

func (s *Scheduler) exportBatch(ctx context.Context) (int, error) {
	var n int
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		now := s.now()
		var buf bytes.Buffer
		events, err := ExportEvents(ctx, tx, s.batchSize, now, &buf)
		if err != nil || len(events) == 0 {
			return err
		}

		if err := s.dest.Write(ctx, objectKey(events[0].ID, events[len(events)-1].ID), buf.Bytes()); err != nil {
			return err
		}
		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := tx.MarkEventsArchived(ctx, ids, now); err != nil {
			return fmt.Errorf("mark archived: %w", err)
		}
		n = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
