package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"rankkit/core"
)

// CompletionRequest is a validated "activity completed" event from the
// activity subsystem. TotalPoints is the activity's full point value.
type CompletionRequest struct {
	UserID           core.UserID     `json:"user_id"`
	ActivityID       core.ActivityID `json:"activity_id"`
	Score            int             `json:"score"`
	TimeSpentMinutes int64           `json:"time_spent_minutes"`
	TotalPoints      int64           `json:"total_points"`
	Category         string          `json:"category,omitempty"`
	Language         string          `json:"language,omitempty"`
	At               time.Time       `json:"at,omitempty"`
}

// Normalize trims identifiers and rejects out-of-range values before any
// mutation happens.
func (r CompletionRequest) Normalize() (CompletionRequest, error) {
	user, err := core.NormalizeUserID(r.UserID)
	if err != nil {
		return r, err
	}
	activity, err := core.NormalizeActivityID(r.ActivityID)
	if err != nil {
		return r, err
	}
	if r.Score < 0 || r.Score > core.MaxScore {
		return r, core.NewInputError("score", "must be between 0 and 100")
	}
	if r.TimeSpentMinutes < 0 {
		return r, core.NewInputError("time_spent_minutes", "must be non-negative")
	}
	if r.TotalPoints < 0 {
		return r, core.NewInputError("total_points", "must be non-negative")
	}
	r.UserID = user
	r.ActivityID = activity
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	return r, nil
}

// CompletionGuard enforces at-most-once awards per (user, activity).
// It gates whether an award may proceed; the amount is decided by the caller.
type CompletionGuard struct {
	store CompletionStore
	now   func() time.Time
}

func NewCompletionGuard(store CompletionStore) *CompletionGuard {
	if store == nil {
		panic("NewCompletionGuard requires a non-nil store")
	}
	return &CompletionGuard{store: store, now: time.Now}
}

// Register creates the completion record for req. A second registration of
// the same pair, concurrent or not, fails with *core.AlreadyCompletedError and
// performs no mutation.
func (g *CompletionGuard) Register(ctx context.Context, req CompletionRequest, pointsAwarded int64) (core.CompletionRecord, error) {
	req, err := req.Normalize()
	if err != nil {
		return core.CompletionRecord{}, err
	}
	if pointsAwarded < 0 {
		return core.CompletionRecord{}, core.NewInputError("points_awarded", "must be non-negative")
	}
	at := req.At
	if at.IsZero() {
		at = g.now()
	}
	rec := core.CompletionRecord{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		ActivityID:       req.ActivityID,
		Score:            req.Score,
		TimeSpentMinutes: req.TimeSpentMinutes,
		PointsAwarded:    pointsAwarded,
		Category:         req.Category,
		Language:         req.Language,
		CompletedAt:      at.UTC(),
	}
	stored, inserted, err := g.store.InsertCompletion(ctx, rec)
	if err != nil {
		return core.CompletionRecord{}, err
	}
	if !inserted {
		return stored, &core.AlreadyCompletedError{Existing: stored}
	}
	return stored, nil
}
