package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rankkit/core"
	"rankkit/leaderboard"
)

// RecalcObserver is notified after every recalculation pass.
type RecalcObserver interface {
	ObserveRecalculation(p core.Partition, size, touched int, took time.Duration)
}

// Recalculator restores dense, unique positions within a partition.
//
// A pass reads the whole partition once, sorts the snapshot and writes back
// only positions that changed. Records updated while a pass is running keep
// their stale position until the next pass.
type Recalculator struct {
	store    RankingStore
	pub      Publisher
	observer RecalcObserver
	log      *slog.Logger
	now      func() time.Time
}

func NewRecalculator(store RankingStore, pub Publisher, logger *slog.Logger) *Recalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recalculator{store: store, pub: pub, log: logger, now: time.Now}
}

// WithObserver attaches a metrics observer.
func (r *Recalculator) WithObserver(o RecalcObserver) *Recalculator {
	r.observer = o
	return r
}

// Recalculate reorders the (period, category) partition. It returns the
// records in their new order and how many positions were rewritten.
func (r *Recalculator) Recalculate(ctx context.Context, period core.Period, category string) ([]core.RankingRecord, int, error) {
	p, err := core.NewPartition(period, category)
	if err != nil {
		return nil, 0, err
	}
	return r.RecalculatePartition(ctx, p)
}

func (r *Recalculator) RecalculatePartition(ctx context.Context, p core.Partition) ([]core.RankingRecord, int, error) {
	start := time.Now()
	records, err := rankedSnapshot(ctx, r.store, p)
	if err != nil {
		return nil, 0, fmt.Errorf("recalculate %s: %w", p, err)
	}
	rolled, err := r.rollOver(ctx, records)
	if err != nil {
		return nil, 0, fmt.Errorf("recalculate %s: %w", p, err)
	}
	if rolled > 0 {
		leaderboard.SortRecords(records)
	}

	changed := make(map[core.UserID]int)
	for i := range records {
		pos := i + 1
		if records[i].Position != pos {
			changed[records[i].UserID] = pos
			records[i].Position = pos
		}
	}
	if len(changed) > 0 {
		if err := r.store.SetPositions(ctx, p, changed); err != nil {
			return nil, 0, fmt.Errorf("recalculate %s: %w", p, err)
		}
	}

	took := time.Since(start)
	r.log.Info("rankings recalculated", "partition", p.String(), "size", len(records), "touched", len(changed), "rolled_over", rolled, "took", took)
	if r.observer != nil {
		r.observer.ObserveRecalculation(p, len(records), len(changed), took)
	}
	if r.pub != nil {
		r.pub.Publish(ctx, core.NewRankingsRecalculated(p, len(records), len(changed)))
	}
	return records, len(changed), nil
}

// rollOver resets every record whose period window has ended, so users who
// stopped competing drop out of the current window's totals. The reset goes
// through UpdateRecord and replaces the snapshot entry.
func (r *Recalculator) rollOver(ctx context.Context, records []core.RankingRecord) (int, error) {
	now := r.now()
	rolled := 0
	for i := range records {
		if !records[i].Expired(now) {
			continue
		}
		position := records[i].Position
		updated, err := r.store.UpdateRecord(ctx, records[i].Key(), func(rec *core.RankingRecord) error {
			core.RollOver(rec, now)
			return nil
		})
		if err != nil {
			return rolled, err
		}
		updated.Position = position
		records[i] = updated
		rolled++
	}
	return rolled, nil
}

// rankedSnapshot reads a partition in leaderboard order, using the store's
// ordered index when it has one.
func rankedSnapshot(ctx context.Context, store RankingStore, p core.Partition) ([]core.RankingRecord, error) {
	if rl, ok := store.(RankedLister); ok {
		return rl.ListRanked(ctx, p)
	}
	records, err := store.ListPartition(ctx, p)
	if err != nil {
		return nil, err
	}
	leaderboard.SortRecords(records)
	return records, nil
}
