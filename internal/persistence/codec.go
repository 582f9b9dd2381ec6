package persistence

import (
	"encoding/json"

	"github.com/aleksih/kesto/pkg/api"
)

// Snapshots are persisted as JSON in every backend so the wire schema stays
// readable and stable across engine versions; the version field is what
// allows migration on load if the schema ever grows.

func encodeSnapshot(snap *api.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func decodeSnapshot(data []byte) (*api.Snapshot, error) {
	var snap api.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
