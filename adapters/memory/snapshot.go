package memory

import (
	"slices"
	"strings"

	"rankkit/core"
	"rankkit/leaderboard"
)

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Profiles    []core.UserProfile      `json:"profiles"`
	Completions []core.CompletionRecord `json:"completions"`
	Records     []core.RankingRecord    `json:"records"`
}

// Snapshot copies every profile, completion and ranking record. Each item
// is copied under its own lock; the snapshot as a whole is not atomic.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Profiles:    []core.UserProfile{},
		Completions: []core.CompletionRecord{},
		Records:     []core.RankingRecord{},
	}
	s.profiles.Range(func(_, v any) bool {
		e := v.(*profileEntry)
		e.mu.Lock()
		if e.created {
			snap.Profiles = append(snap.Profiles, e.profile.Clone())
		}
		e.mu.Unlock()
		return true
	})
	s.completions.Range(func(_, v any) bool {
		snap.Completions = append(snap.Completions, v.(core.CompletionRecord))
		return true
	})
	s.mu.RLock()
	for _, part := range s.partitions {
		part.mu.RLock()
		for _, e := range part.records {
			e.mu.Lock()
			snap.Records = append(snap.Records, e.rec.Clone())
			e.mu.Unlock()
		}
		part.mu.RUnlock()
	}
	s.mu.RUnlock()

	slices.SortFunc(snap.Profiles, func(a, b core.UserProfile) int { return strings.Compare(string(a.UserID), string(b.UserID)) })
	slices.SortFunc(snap.Completions, func(a, b core.CompletionRecord) int {
		if c := strings.Compare(string(a.UserID), string(b.UserID)); c != 0 {
			return c
		}
		return strings.Compare(string(a.ActivityID), string(b.ActivityID))
	})
	slices.SortFunc(snap.Records, func(a, b core.RankingRecord) int {
		if c := strings.Compare(a.Key().Partition.Key(), b.Key().Partition.Key()); c != 0 {
			return c
		}
		return byPosition(a, b)
	})
	return snap
}

// Restore loads a snapshot into an empty store.
func (s *Store) Restore(snap Snapshot) {
	for _, p := range snap.Profiles {
		p := p.Clone()
		if p.CompletedActivities == nil {
			p.CompletedActivities = map[core.ActivityID]struct{}{}
		}
		s.profiles.Store(p.UserID, &profileEntry{profile: p, created: true})
	}
	for _, c := range snap.Completions {
		s.completions.Store(completionKey{c.UserID, c.ActivityID}, c)
	}
	for _, r := range snap.Records {
		part := s.partition(r.Key().Partition, true)
		part.mu.Lock()
		part.records[r.UserID] = &recordEntry{rec: r.Clone()}
		part.index.Update(leaderboard.EntryOf(r))
		part.mu.Unlock()
	}
}
