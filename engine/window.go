package engine

import (
	"context"

	"rankkit/core"
)

// WindowQuery returns the records surrounding a user's persisted position.
type WindowQuery struct {
	store     RankingStore
	maxRadius int
}

// NewWindowQuery builds a query; maxRadius <= 0 leaves the radius unbounded.
func NewWindowQuery(store RankingStore, maxRadius int) *WindowQuery {
	return &WindowQuery{store: store, maxRadius: maxRadius}
}

// Neighbors returns records with positions in [pos-radius, pos+radius],
// clamped at 1 and at the end of the partition. Positions are read as last
// persisted; no recalculation is forced.
func (w *WindowQuery) Neighbors(ctx context.Context, user core.UserID, period core.Period, category string, radius int) ([]core.RankingRecord, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	p, err := core.NewPartition(period, category)
	if err != nil {
		return nil, err
	}
	if radius < 0 {
		return nil, core.NewInputError("radius", "must be non-negative")
	}
	if w.maxRadius > 0 && radius > w.maxRadius {
		radius = w.maxRadius
	}
	rec, err := w.store.GetRecord(ctx, core.RecordKey{UserID: user, Partition: p})
	if err != nil {
		return nil, err
	}
	from := rec.Position - radius
	if from < 1 {
		from = 1
	}
	return w.store.RangeByPosition(ctx, p, from, rec.Position+radius)
}
