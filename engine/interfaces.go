package engine

import (
	"context"

	"rankkit/core"
)

// Update functions passed to the stores may run more than once when an
// optimistic write is retried, so they must only touch the value they are given.

// ProfileStore persists user profiles with atomic per-profile updates.
type ProfileStore interface {
	// GetProfile returns core.ErrNotFound for unknown users.
	GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error)
	// UpdateProfile creates the profile if absent and applies fn as one
	// read-modify-write. An error from fn aborts the write.
	UpdateProfile(ctx context.Context, user core.UserID, fn func(*core.UserProfile) error) (core.UserProfile, error)
}

// CompletionStore persists immutable completion records.
type CompletionStore interface {
	// InsertCompletion stores rec unless a record for the same (user, activity)
	// exists. The check and the insert are one atomic step: inserted is true
	// for exactly one concurrent caller and the others get the stored record.
	InsertCompletion(ctx context.Context, rec core.CompletionRecord) (stored core.CompletionRecord, inserted bool, err error)
	// GetCompletion returns core.ErrNotFound when absent.
	GetCompletion(ctx context.Context, user core.UserID, activity core.ActivityID) (core.CompletionRecord, error)
}

// RankingStore is the keyed collection of ranking records, one per
// (user, period, category).
type RankingStore interface {
	// EnsureRecord creates an empty record at position partition size + 1 if
	// absent and returns the stored record.
	EnsureRecord(ctx context.Context, key core.RecordKey) (core.RankingRecord, error)
	// GetRecord returns core.ErrNotRanked when absent.
	GetRecord(ctx context.Context, key core.RecordKey) (core.RankingRecord, error)
	// UpdateRecord ensures the record and applies fn atomically. Positions are
	// owned by SetPositions; changes fn makes to Position are discarded.
	UpdateRecord(ctx context.Context, key core.RecordKey, fn func(*core.RankingRecord) error) (core.RankingRecord, error)
	// ListPartition reads every record of a partition.
	ListPartition(ctx context.Context, p core.Partition) ([]core.RankingRecord, error)
	// RangeByPosition returns records with from <= position <= to, ordered by
	// position then user id.
	RangeByPosition(ctx context.Context, p core.Partition, from, to int) ([]core.RankingRecord, error)
	CountPartition(ctx context.Context, p core.Partition) (int, error)
	// SetPositions writes only the given positions.
	SetPositions(ctx context.Context, p core.Partition, positions map[core.UserID]int) error
	// Partitions lists every partition holding at least one record.
	Partitions(ctx context.Context) ([]core.Partition, error)
}

// RankedLister is implemented by stores that keep an ordered index and can
// list a partition already in leaderboard order.
type RankedLister interface {
	ListRanked(ctx context.Context, p core.Partition) ([]core.RankingRecord, error)
}

// LiveRanker is implemented by stores that know a user's current rank
// between recalculation passes. It returns core.ErrNotRanked when absent.
type LiveRanker interface {
	LiveRank(ctx context.Context, key core.RecordKey) (int, error)
}

// Store bundles every persistence concern the engine needs.
type Store interface {
	ProfileStore
	CompletionStore
	RankingStore
}

// Publisher receives engine events.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event)
}
