package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aleksih/kesto/pkg/api"
)

// MongoStore is a SnapshotStore backed by MongoDB. The version check is a
// filter on both _id and version, so a lost resume race matches zero
// documents and surfaces as a conflict.
type MongoStore struct {
	coll *mongo.Collection
}

var _ api.SnapshotStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed snapshot store.
// dbName defaults to "kesto" if empty, collName defaults to "snapshots".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "kesto"
	}
	if collName == "" {
		collName = "snapshots"
	}
	return &MongoStore{coll: client.Database(dbName).Collection(collName)}
}

type mongoSnapshotDoc struct {
	ID         string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	Version    int64     `bson:"version"`
	CreatedAt  time.Time `bson:"created_at"`
	Payload    []byte    `bson:"payload"`
}

func (s *MongoStore) doc(snap *api.Snapshot) (*mongoSnapshotDoc, error) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return &mongoSnapshotDoc{
		ID:         snap.ID,
		WorkflowID: snap.WorkflowID,
		Version:    snap.Version,
		CreatedAt:  snap.CreatedAt.UTC(),
		Payload:    payload,
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, snap *api.Snapshot) error {
	if snap.Version == 0 {
		snap.Version = 1
		doc, err := s.doc(snap)
		if err != nil {
			snap.Version = 0
			return err
		}
		if _, err := s.coll.InsertOne(ctx, doc); err != nil {
			snap.Version = 0
			if mongo.IsDuplicateKeyError(err) {
				return api.NewError(api.KindConcurrencyConflict, "snapshot already exists: %s", snap.ID)
			}
			return err
		}
		return nil
	}

	expected := snap.Version
	snap.Version++
	doc, err := s.doc(snap)
	if err != nil {
		snap.Version = expected
		return err
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": snap.ID, "version": expected}, doc)
	if err != nil {
		snap.Version = expected
		return err
	}
	if res.MatchedCount == 0 {
		snap.Version = expected
		count, err := s.coll.CountDocuments(ctx, bson.M{"_id": snap.ID})
		if err != nil {
			return err
		}
		if count == 0 {
			return api.NewError(api.KindNotFound, "snapshot not found: %s", snap.ID)
		}
		return api.NewError(api.KindConcurrencyConflict,
			"snapshot %s version mismatch: have %d", snap.ID, expected)
	}
	return nil
}

func (s *MongoStore) Load(ctx context.Context, id string) (*api.Snapshot, error) {
	var doc mongoSnapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(doc.Payload)
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return api.NewError(api.KindNotFound, "snapshot not found: %s", id)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]api.SnapshotSummary, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var summaries []api.SnapshotSummary
	for cur.Next(ctx) {
		var doc mongoSnapshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(doc.Payload)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, snap.Summary())
	}
	return summaries, cur.Err()
}

func (s *MongoStore) CleanupBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": t.UTC()}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
