package leaderboard

import (
	"cmp"
	"slices"

	"rankkit/core"
)

// Entry represents a competitor's sort key.
type Entry struct {
	User   core.UserID
	Points int64
	Level  int64
}

// EntryOf extracts the sort key of a ranking record.
func EntryOf(r core.RankingRecord) Entry {
	return Entry{User: r.UserID, Points: r.PointsTotal, Level: r.Level}
}

// Compare orders entries by points desc, then level desc, then user id asc.
// The user id makes the order total, so equal inputs always rank the same way.
func Compare(a, b Entry) int {
	if c := cmp.Compare(b.Points, a.Points); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Level, a.Level); c != 0 {
		return c
	}
	return cmp.Compare(a.User, b.User)
}

// Less reports whether a ranks ahead of b.
func Less(a, b Entry) bool { return Compare(a, b) < 0 }

// SortRecords sorts records in ranking order in place.
func SortRecords(records []core.RankingRecord) {
	slices.SortFunc(records, func(a, b core.RankingRecord) int {
		return Compare(EntryOf(a), EntryOf(b))
	})
}
