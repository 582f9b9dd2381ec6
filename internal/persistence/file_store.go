package persistence

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// FileStore is a SnapshotStore that keeps one JSON file per snapshot under
// a directory. It is durable across restarts of a single process; the
// optimistic-concurrency check is serialized by an in-process mutex, so a
// directory must not be shared between processes.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ api.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a file-backed
// snapshot store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Save(ctx context.Context, snap *api.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(snap.ID)
	existing, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if snap.Version == 0 {
		if exists {
			return api.NewError(api.KindConcurrencyConflict, "snapshot already exists: %s", snap.ID)
		}
		snap.Version = 1
	} else {
		if !exists {
			return api.NewError(api.KindNotFound, "snapshot not found: %s", snap.ID)
		}
		cur, err := decodeSnapshot(existing)
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

	// Write-then-rename keeps a crash from leaving a half-written snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Load(ctx context.Context, id string) (*api.Snapshot, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, api.NewError(api.KindNotFound, "snapshot not found: %s", id)
		}
		return nil, err
	}
	return decodeSnapshot(data)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	return err
}

func (s *FileStore) List(ctx context.Context) ([]api.SnapshotSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var summaries []api.SnapshotSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, snap.Summary())
	}
	return summaries, nil
}

func (s *FileStore) CleanupBefore(ctx context.Context, t time.Time) (int, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sum := range summaries {
		if sum.CreatedAt.Before(t) {
			if err := s.Delete(ctx, sum.ID); err != nil && !api.IsNotFound(err) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
