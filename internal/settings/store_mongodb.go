package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"promptgate/internal/core"
)

// RequestsCollection is the collection holding request records that reference
// settings ids. Deleting settings removes the matching records from it.
const RequestsCollection = "requests"

type mongoSettingsDocument struct {
	ID                  string `bson:"_id"`
	UserID              string `bson:"user_id"`
	APIKey              string `bson:"api_key"`
	PreferredModel      string `bson:"preferred_model"`
	IsCacheEnabled      bool   `bson:"is_cache_enabled"`
	CacheExpirationTime int    `bson:"cache_expiration_time"`
	CreatedAt           int64  `bson:"created_at"`
	UpdatedAt           int64  `bson:"updated_at"`
}

func (d *mongoSettingsDocument) settings() *core.UserSettings {
	return &core.UserSettings{
		ID:                  d.ID,
		UserID:              d.UserID,
		APIKey:              d.APIKey,
		PreferredModel:      d.PreferredModel,
		IsCacheEnabled:      d.IsCacheEnabled,
		CacheExpirationTime: d.CacheExpirationTime,
	}
}

// MongoDBStore stores settings in MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
	requests   *mongo.Collection
}

// NewMongoDBStore creates the unique user_id index if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("settings")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("create settings indexes: %w", err)
	}

	return &MongoDBStore{
		collection: coll,
		requests:   database.Collection(RequestsCollection),
	}, nil
}

// Create inserts a new settings document. The unique index rejects a second
// document for the same user.
func (s *MongoDBStore) Create(ctx context.Context, in *core.UserSettings) (*core.UserSettings, error) {
	row, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	doc := mongoSettingsDocument{
		ID:                  row.ID,
		UserID:              row.UserID,
		APIKey:              row.APIKey,
		PreferredModel:      row.PreferredModel,
		IsCacheEnabled:      row.IsCacheEnabled,
		CacheExpirationTime: row.CacheExpirationTime,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, fmt.Errorf("insert settings: %w", err))
	}
	return row, nil
}

// Get returns the settings of userID.
func (s *MongoDBStore) Get(ctx context.Context, userID string) (*core.UserSettings, error) {
	var doc mongoSettingsDocument
	err := s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("get", userID)
		}
		return nil, persistenceFailure("get", userID, msgFetchFailed, err)
	}
	return doc.settings(), nil
}

// Update applies patch as a single atomic document update.
func (s *MongoDBStore) Update(ctx context.Context, userID string, patch *core.SettingsPatch) (*core.UserSettings, error) {
	set := bson.M{"updated_at": time.Now().Unix()}
	if patch != nil {
		if patch.APIKey != nil {
			set["api_key"] = *patch.APIKey
		}
		if patch.PreferredModel != nil {
			set["preferred_model"] = *patch.PreferredModel
		}
		if patch.IsCacheEnabled != nil {
			set["is_cache_enabled"] = *patch.IsCacheEnabled
		}
		if patch.CacheExpirationTime != nil {
			set["cache_expiration_time"] = *patch.CacheExpirationTime
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc mongoSettingsDocument
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("update", userID)
		}
		return nil, persistenceFailure("update", userID, msgUpdateFailed, fmt.Errorf("update settings: %w", err))
	}
	return doc.settings(), nil
}

// Delete removes the request records of userID, then its settings document.
// Standalone MongoDB has no multi-document transactions: if removing the records
// fails, the settings document stays in place and the delete can be retried.
func (s *MongoDBStore) Delete(ctx context.Context, userID string) error {
	var doc mongoSettingsDocument
	err := s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return notFound("delete", userID)
		}
		return persistenceFailure("delete", userID, msgDeleteFailed, fmt.Errorf("find settings: %w", err))
	}

	err = cascadeDelete(ctx,
		func(ctx context.Context) error {
			_, err := s.requests.DeleteMany(ctx, bson.M{"user_id": doc.ID})
			return err
		},
		func(ctx context.Context) (bool, error) {
			res, err := s.collection.DeleteOne(ctx, bson.M{"_id": doc.ID})
			if err != nil {
				return false, err
			}
			return res.DeletedCount > 0, nil
		},
	)
	switch {
	case errors.Is(err, errSettingsGone):
		return notFound("delete", userID)
	case err != nil:
		return persistenceFailure("delete", userID, msgDeleteFailed, err)
	}
	return nil
}

var errSettingsGone = errors.New("settings deleted concurrently")

// cascadeDelete removes dependent records before the settings row and sweeps
// once more afterwards for records inserted in between. The settings row is
// never removed if the first sweep fails.
func cascadeDelete(ctx context.Context, deleteRecords func(context.Context) error, deleteSettings func(context.Context) (bool, error)) error {
	if err := deleteRecords(ctx); err != nil {
		return fmt.Errorf("delete user requests: %w", err)
	}
	deleted, err := deleteSettings(ctx)
	if err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	if !deleted {
		return errSettingsGone
	}
	if err := deleteRecords(ctx); err != nil {
		slog.Warn("late request records were not removed", "error", err)
	}
	return nil
}

// Close is a no-op; client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
