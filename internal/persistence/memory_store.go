package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// MemoryStore is a non-durable SnapshotStore backed by a map. Best for
// tests and single-process development.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

var _ api.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, snap *api.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.snaps[snap.ID]

	if snap.Version == 0 {
		if exists {
			return api.NewError(api.KindConcurrencyConflict, "snapshot already exists: %s", snap.ID)
		}
		snap.Version = 1
	} else {
		if !exists {
			return api.NewError(api.KindNotFound, "snapshot not found: %s", snap.ID)
		}
		cur, err := decodeSnapshot(stored)
		if err != nil {
			return err
		}
		if cur.Version != snap.Version {
			return api.NewError(api.KindConcurrencyConflict,
				"snapshot %s version mismatch: have %d, stored %d", snap.ID, snap.Version, cur.Version)
		}
		snap.Version++
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.snaps[snap.ID] = data
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*api.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snaps[id]
	s.mu.RUnlock()

	if !ok {
		return nil, api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	return decodeSnapshot(data)
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snaps[id]; !ok {
		return api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	delete(s.snaps, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]api.SnapshotSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]api.SnapshotSummary, 0, len(s.snaps))
	for _, data := range s.snaps {
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, snap.Summary())
	}
	return summaries, nil
}

func (s *MemoryStore) CleanupBefore(ctx context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, data := range s.snaps {
		snap, err := decodeSnapshot(data)
		if err != nil {
			return removed, err
		}
		if snap.CreatedAt.Before(t) {
			delete(s.snaps, id)
			removed++
		}
	}
	return removed, nil
}
