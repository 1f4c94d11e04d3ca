package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"promptgate/internal/core"
)

type mongoRequestDocument struct {
	ID         string `bson:"_id"`
	UserID     string `bson:"user_id"`
	Prompt     string `bson:"prompt"`
	Model      string `bson:"model"`
	Parameters []byte `bson:"parameters,omitempty"`
	Response   []byte `bson:"response,omitempty"`
	Status     string `bson:"status"`
	CreatedAt  int64  `bson:"created_at"`
}

func newMongoDocument(rec *core.RequestRecord) (*mongoRequestDocument, error) {
	params, err := encodeJSONMap(rec.Parameters)
	if err != nil {
		return nil, err
	}
	resp, err := encodeJSONMap(rec.Response)
	if err != nil {
		return nil, err
	}
	return &mongoRequestDocument{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Prompt:     rec.Prompt,
		Model:      rec.Model,
		Parameters: params,
		Response:   resp,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt.UnixMicro(),
	}, nil
}

func (d *mongoRequestDocument) record() (*core.RequestRecord, error) {
	rec := &core.RequestRecord{
		ID:        d.ID,
		UserID:    d.UserID,
		Prompt:    d.Prompt,
		Model:     d.Model,
		Status:    core.RequestStatus(d.Status),
		CreatedAt: time.UnixMicro(d.CreatedAt).UTC(),
	}
	if err := decodeColumns(rec, d.Parameters, d.Response); err != nil {
		return nil, err
	}
	return rec, nil
}

// MongoDBStore stores request records in MongoDB. The settings reference is
// checked with a lookup before insert.
type MongoDBStore struct {
	collection *mongo.Collection
	settings   *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("requests")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create requests indexes: %w", err)
	}

	return &MongoDBStore{
		collection: coll,
		settings:   database.Collection("settings"),
	}, nil
}

// Create inserts a new record after confirming the referenced settings exist.
func (s *MongoDBStore) Create(ctx context.Context, in *core.RequestRecord) (*core.RequestRecord, error) {
	rec, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}

	n, err := s.settings.CountDocuments(ctx, bson.M{"_id": rec.UserID}, options.Count().SetLimit(1))
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, fmt.Errorf("lookup settings: %w", err))
	}
	if n == 0 {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, errUnknownUser)
	}

	doc, err := newMongoDocument(rec)
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, fmt.Errorf("insert request: %w", err))
	}
	return rec, nil
}

// Get returns a record by id.
func (s *MongoDBStore) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	var doc mongoRequestDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("get", id)
		}
		return nil, persistenceFailure("get", id, msgFetchFailed, err)
	}
	rec, err := doc.record()
	if err != nil {
		return nil, persistenceFailure("get", id, msgFetchFailed, err)
	}
	return rec, nil
}

// Update applies patch as a single atomic document update.
func (s *MongoDBStore) Update(ctx context.Context, id string, patch *core.RecordPatch) (*core.RequestRecord, error) {
	set := bson.M{}
	if patch != nil {
		if patch.Prompt != nil {
			set["prompt"] = *patch.Prompt
		}
		if patch.Model != nil {
			set["model"] = *patch.Model
		}
		if patch.Status != nil {
			set["status"] = string(*patch.Status)
		}
		if patch.Parameters != nil {
			b, err := encodeJSONMap(patch.Parameters)
			if err != nil {
				return nil, persistenceFailure("update", id, msgUpdateFailed, err)
			}
			set["parameters"] = b
		}
		if patch.Response != nil {
			b, err := encodeJSONMap(patch.Response)
			if err != nil {
				return nil, persistenceFailure("update", id, msgUpdateFailed, err)
			}
			set["response"] = b
		}
	}

	var doc mongoRequestDocument
	var err error
	if len(set) == 0 {
		err = s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	} else {
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err = s.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("update", id)
		}
		return nil, persistenceFailure("update", id, msgUpdateFailed, fmt.Errorf("update request: %w", err))
	}
	rec, err := doc.record()
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *MongoDBStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, fmt.Errorf("delete request: %w", err))
	}
	if result.DeletedCount == 0 {
		return notFound("delete", id)
	}
	return nil
}

// ListByUser returns records ordered by created_at desc, id desc.
func (s *MongoDBStore) ListByUser(ctx context.Context, userSettingsID string, limit int) ([]*core.RequestRecord, error) {
	limit = normalizeLimit(limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userSettingsID}, opts)
	if err != nil {
		return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("list requests: %w", err))
	}
	defer cursor.Close(ctx)

	items := make([]*core.RequestRecord, 0, limit)
	for cursor.Next(ctx) {
		var doc mongoRequestDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("decode request: %w", err))
		}
		rec, err := doc.record()
		if err != nil {
			return nil, persistenceFailure("list", userSettingsID, msgListFailed, err)
		}
		items = append(items, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("iterate requests: %w", err))
	}
	return items, nil
}

// Close is a no-op; client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
