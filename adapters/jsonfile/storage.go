package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"rankkit/adapters/memory"
	"rankkit/core"
)

// Store keeps state in memory and rewrites a single JSON snapshot after
// every write. Suitable for demos and small deployments.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex // serializes snapshot writes
}

func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.Restore(snap)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return core.StorageError("encode snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return core.StorageError("write snapshot", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return core.StorageError("write snapshot", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return core.StorageError("write snapshot", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, user core.UserID, fn func(*core.UserProfile) error) (core.UserProfile, error) {
	p, err := s.Store.UpdateProfile(ctx, user, fn)
	if err != nil {
		return p, err
	}
	return p, s.persist()
}

func (s *Store) InsertCompletion(ctx context.Context, rec core.CompletionRecord) (core.CompletionRecord, bool, error) {
	stored, inserted, err := s.Store.InsertCompletion(ctx, rec)
	if err != nil || !inserted {
		return stored, inserted, err
	}
	return stored, inserted, s.persist()
}

func (s *Store) EnsureRecord(ctx context.Context, key core.RecordKey) (core.RankingRecord, error) {
	rec, err := s.Store.EnsureRecord(ctx, key)
	if err != nil {
		return rec, err
	}
	return rec, s.persist()
}

func (s *Store) UpdateRecord(ctx context.Context, key core.RecordKey, fn func(*core.RankingRecord) error) (core.RankingRecord, error) {
	rec, err := s.Store.UpdateRecord(ctx, key, fn)
	if err != nil {
		return rec, err
	}
	return rec, s.persist()
}

func (s *Store) SetPositions(ctx context.Context, p core.Partition, positions map[core.UserID]int) error {
	if err := s.Store.SetPositions(ctx, p, positions); err != nil {
		return err
	}
	return s.persist()
}
