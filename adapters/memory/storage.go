package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"rankkit/core"
	"rankkit/leaderboard"
)

// Store is a concurrent in-memory implementation of the engine stores.
// Each partition keeps a skip list index of the current order, which backs
// ListRanked and LiveRank.
type Store struct {
	profiles    sync.Map // map[core.UserID]*profileEntry
	completions sync.Map // map[completionKey]core.CompletionRecord

	mu         sync.RWMutex
	partitions map[core.Partition]*partition
}

type profileEntry struct {
	mu      sync.Mutex
	profile core.UserProfile
	created bool
}

type completionKey struct {
	user     core.UserID
	activity core.ActivityID
}

type partition struct {
	mu      sync.RWMutex
	records map[core.UserID]*recordEntry
	index   *leaderboard.SkipList
}

type recordEntry struct {
	mu  sync.Mutex
	rec core.RankingRecord
}

func New() *Store { return &Store{partitions: map[core.Partition]*partition{}} }

func (s *Store) profileEntry(user core.UserID) *profileEntry {
	if v, ok := s.profiles.Load(user); ok {
		return v.(*profileEntry)
	}
	actual, _ := s.profiles.LoadOrStore(user, &profileEntry{})
	return actual.(*profileEntry)
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.UserProfile, error) {
	v, ok := s.profiles.Load(user)
	if !ok {
		return core.UserProfile{}, core.ErrNotFound
	}
	e := v.(*profileEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.created {
		return core.UserProfile{}, core.ErrNotFound
	}
	return e.profile.Clone(), nil
}

func (s *Store) UpdateProfile(_ context.Context, user core.UserID, fn func(*core.UserProfile) error) (core.UserProfile, error) {
	e := s.profileEntry(user)
	e.mu.Lock()
	defer e.mu.Unlock()
	var next core.UserProfile
	if e.created {
		next = e.profile.Clone()
	} else {
		next = core.NewUserProfile(user)
	}
	if err := fn(&next); err != nil {
		return core.UserProfile{}, err
	}
	next.UserID = user
	e.profile, e.created = next, true
	return next.Clone(), nil
}

func (s *Store) InsertCompletion(_ context.Context, rec core.CompletionRecord) (core.CompletionRecord, bool, error) {
	actual, loaded := s.completions.LoadOrStore(completionKey{rec.UserID, rec.ActivityID}, rec)
	return actual.(core.CompletionRecord), !loaded, nil
}

func (s *Store) GetCompletion(_ context.Context, user core.UserID, activity core.ActivityID) (core.CompletionRecord, error) {
	v, ok := s.completions.Load(completionKey{user, activity})
	if !ok {
		return core.CompletionRecord{}, core.ErrNotFound
	}
	return v.(core.CompletionRecord), nil
}

func (s *Store) partition(p core.Partition, create bool) *partition {
	s.mu.RLock()
	part := s.partitions[p]
	s.mu.RUnlock()
	if part != nil || !create {
		return part
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if part = s.partitions[p]; part == nil {
		part = &partition{records: map[core.UserID]*recordEntry{}, index: leaderboard.NewSkipList()}
		s.partitions[p] = part
	}
	return part
}

// entry returns the record entry for key, creating it at position size+1.
func (s *Store) entry(key core.RecordKey, create bool) (*partition, *recordEntry) {
	part := s.partition(key.Partition, create)
	if part == nil {
		return nil, nil
	}
	part.mu.RLock()
	e := part.records[key.UserID]
	part.mu.RUnlock()
	if e != nil || !create {
		return part, e
	}
	part.mu.Lock()
	defer part.mu.Unlock()
	if e = part.records[key.UserID]; e == nil {
		rec := core.NewRankingRecord(key, len(part.records)+1, time.Now())
		e = &recordEntry{rec: rec}
		part.records[key.UserID] = e
		part.index.Update(leaderboard.EntryOf(rec))
	}
	return part, e
}

func (s *Store) EnsureRecord(_ context.Context, key core.RecordKey) (core.RankingRecord, error) {
	_, e := s.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) GetRecord(_ context.Context, key core.RecordKey) (core.RankingRecord, error) {
	_, e := s.entry(key, false)
	if e == nil {
		return core.RankingRecord{}, core.ErrNotRanked
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) UpdateRecord(_ context.Context, key core.RecordKey, fn func(*core.RankingRecord) error) (core.RankingRecord, error) {
	part, e := s.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.rec.Clone()
	if err := fn(&next); err != nil {
		return core.RankingRecord{}, err
	}
	next.UserID, next.Period, next.Category = key.UserID, key.Partition.Period, key.Partition.Category
	next.Position = e.rec.Position
	e.rec = next
	part.index.Update(leaderboard.EntryOf(next))
	return next.Clone(), nil
}

func (s *Store) ListPartition(ctx context.Context, p core.Partition) ([]core.RankingRecord, error) {
	return s.ListRanked(ctx, p)
}

// ListRanked returns the partition in ranking order straight from the index.
func (s *Store) ListRanked(_ context.Context, p core.Partition) ([]core.RankingRecord, error) {
	part := s.partition(p, false)
	if part == nil {
		return []core.RankingRecord{}, nil
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	out := make([]core.RankingRecord, 0, len(part.records))
	for _, ent := range part.index.All() {
		if e := part.records[ent.User]; e != nil {
			e.mu.Lock()
			out = append(out, e.rec.Clone())
			e.mu.Unlock()
		}
	}
	return out, nil
}

func (s *Store) RangeByPosition(_ context.Context, p core.Partition, from, to int) ([]core.RankingRecord, error) {
	part := s.partition(p, false)
	out := []core.RankingRecord{}
	if part == nil || to < from {
		return out, nil
	}
	part.mu.RLock()
	for _, e := range part.records {
		e.mu.Lock()
		if e.rec.Position >= from && e.rec.Position <= to {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	part.mu.RUnlock()
	slices.SortFunc(out, byPosition)
	return out, nil
}

func byPosition(a, b core.RankingRecord) int {
	if a.Position != b.Position {
		return a.Position - b.Position
	}
	switch {
	case a.UserID < b.UserID:
		return -1
	case a.UserID > b.UserID:
		return 1
	}
	return 0
}

func (s *Store) CountPartition(_ context.Context, p core.Partition) (int, error) {
	part := s.partition(p, false)
	if part == nil {
		return 0, nil
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	return len(part.records), nil
}

func (s *Store) SetPositions(_ context.Context, p core.Partition, positions map[core.UserID]int) error {
	part := s.partition(p, false)
	if part == nil {
		return nil
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	for user, pos := range positions {
		if e := part.records[user]; e != nil {
			e.mu.Lock()
			e.rec.Position = pos
			e.mu.Unlock()
		}
	}
	return nil
}

func (s *Store) Partitions(_ context.Context) ([]core.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Partition, 0, len(s.partitions))
	for p, part := range s.partitions {
		part.mu.RLock()
		n := len(part.records)
		part.mu.RUnlock()
		if n > 0 {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b core.Partition) int {
		switch {
		case a.Key() < b.Key():
			return -1
		case a.Key() > b.Key():
			return 1
		}
		return 0
	})
	return out, nil
}

// LiveRank is the user's rank by current points, ignoring persisted positions.
func (s *Store) LiveRank(_ context.Context, key core.RecordKey) (int, error) {
	part := s.partition(key.Partition, false)
	if part == nil {
		return 0, core.ErrNotRanked
	}
	rank, ok := part.index.Rank(key.UserID)
	if !ok {
		return 0, core.ErrNotRanked
	}
	return rank, nil
}
