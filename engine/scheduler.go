package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rankkit/core"
)

const defaultRecalcConcurrency = 4

// Scheduler periodically recalculates partitions. An interval of zero
// disables the loop; RecalculateAll can still be called on demand.
type Scheduler struct {
	recalc      *Recalculator
	store       RankingStore
	interval    time.Duration
	partitions  []core.Partition
	concurrency int
	log         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	passes atomic.Int64
}

// NewScheduler builds a scheduler. With no partitions every partition found
// in the store is recalculated.
func NewScheduler(recalc *Recalculator, store RankingStore, interval time.Duration, logger *slog.Logger, partitions ...core.Partition) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		recalc:      recalc,
		store:       store,
		interval:    interval,
		partitions:  partitions,
		concurrency: defaultRecalcConcurrency,
		log:         logger,
	}
}

// Passes reports how many RecalculateAll runs completed.
func (s *Scheduler) Passes() int64 { return s.passes.Load() }

// RecalculateAll recalculates every scheduled partition concurrently and
// returns the total number of positions rewritten.
func (s *Scheduler) RecalculateAll(ctx context.Context) (int, error) {
	parts := s.partitions
	if len(parts) == 0 {
		var err error
		if parts, err = s.store.Partitions(ctx); err != nil {
			return 0, err
		}
	}
	var touched atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range parts {
		g.Go(func() error {
			_, n, err := s.recalc.RecalculatePartition(gctx, p)
			touched.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	s.passes.Add(1)
	return int(touched.Load()), err
}

// Start launches the background loop. It is a no-op when the interval is
// not positive or the loop is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("recalculation scheduler started", "interval", s.interval)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.RecalculateAll(ctx); err != nil {
				s.log.Error("scheduled recalculation failed", "error", err)
			} else {
				s.log.Debug("scheduled recalculation", "touched", n)
			}
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
