package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RemoteApplier applies one queued mutation to the remote. It returns a
// *models.ConflictError when the remote copy is newer than the mutation.
type RemoteApplier interface {
	Apply(ctx context.Context, item models.SyncQueueItem) error
}

// ApplierFunc adapts a function to RemoteApplier
type ApplierFunc func(ctx context.Context, item models.SyncQueueItem) error

func (f ApplierFunc) Apply(ctx context.Context, item models.SyncQueueItem) error { return f(ctx, item) }

// syncStampField stores the enqueue time of the mutation that last wrote a
// remote document
const syncStampField = "_sync_enqueued_at"

// MongoApplier replays mutations into one collection per entity kind
type MongoApplier struct {
	db      *mongo.Database
	timeout time.Duration
}

// NewMongoApplier creates an applier over db
func NewMongoApplier(db *mongo.Database) *MongoApplier {
	return &MongoApplier{db: db, timeout: 30 * time.Second}
}

func (a *MongoApplier) Apply(ctx context.Context, item models.SyncQueueItem) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	coll := a.db.Collection(item.Entity)

	switch item.Kind {
	case models.MutationDelete:
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": item.EntityID}); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", item.Entity, item.EntityID, err)
		}
		return nil
	case models.MutationCreate, models.MutationUpdate:
	default:
		return fmt.Errorf("unknown mutation kind %q", item.Kind)
	}

	doc, err := payloadDocument(item)
	if err != nil {
		return err
	}

	filter := bson.M{"_id": item.EntityID}
	if !item.Force {
		// Only overwrite documents last written by an older mutation
		filter["$or"] = bson.A{
			bson.M{syncStampField: bson.M{"$lte": item.EnqueuedAt}},
			bson.M{syncStampField: bson.M{"$exists": false}},
		}
	}

	_, err = coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err == nil {
		return nil
	}
	if !item.Force && mongo.IsDuplicateKeyError(err) {
		return a.conflict(ctx, coll, item)
	}
	return fmt.Errorf("failed to upsert %s %s: %w", item.Entity, item.EntityID, err)
}

// conflict reads the remote stamp of a document that refused the write
func (a *MongoApplier) conflict(ctx context.Context, coll *mongo.Collection, item models.SyncQueueItem) error {
	var remote struct {
		Stamp time.Time `bson:"_sync_enqueued_at"`
	}
	err := coll.FindOne(ctx, bson.M{"_id": item.EntityID},
		options.FindOne().SetProjection(bson.M{syncStampField: 1})).Decode(&remote)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to read remote %s %s: %w", item.Entity, item.EntityID, err)
	}
	return &models.ConflictError{Entity: item.Entity, EntityID: item.EntityID, RemoteUpdatedAt: remote.Stamp}
}

func payloadDocument(item models.SyncQueueItem) (bson.M, error) {
	doc := bson.M{}
	if len(item.Payload) > 0 {
		if err := bson.UnmarshalExtJSON(item.Payload, false, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", item.Entity, err)
		}
	}
	delete(doc, "id")
	doc["_id"] = item.EntityID
	doc[syncStampField] = item.EnqueuedAt
	return doc, nil
}
