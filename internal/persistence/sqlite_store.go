package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// SQLiteStore is a SnapshotStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ api.SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, snap *api.Snapshot) error {
	if snap.Version == 0 {
		snap.Version = 1
		payload, err := encodeSnapshot(snap)
		if err != nil {
			snap.Version = 0
			return err
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (id, workflow_id, version, created_at, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			snap.ID, snap.WorkflowID, snap.Version, snap.CreatedAt.UTC().Format(time.RFC3339Nano), payload,
		)
		if err != nil {
			snap.Version = 0
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			snap.Version = 0
			return api.NewError(api.KindConcurrencyConflict, "snapshot already exists: %s", snap.ID)
		}
		return nil
	}

	expected := snap.Version
	snap.Version++
	payload, err := encodeSnapshot(snap)
	if err != nil {
		snap.Version = expected
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots
		SET workflow_id = ?, version = ?, payload = ?
		WHERE id = ? AND version = ?`,
		snap.WorkflowID, snap.Version, payload, snap.ID, expected,
	)
	if err != nil {
		snap.Version = expected
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		snap.Version = expected
		// Distinguish a lost race from an unknown id.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, snap.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return api.NewError(api.KindNotFound, "snapshot not found: %s", snap.ID)
		}
		if err != nil {
			return err
		}
		return api.NewError(api.KindConcurrencyConflict,
			"snapshot %s version mismatch: have %d", snap.ID, expected)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*api.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE id = ?`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(payload)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]api.SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM snapshots ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []api.SnapshotSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, snap.Summary())
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) CleanupBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE created_at < ?`, t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}
