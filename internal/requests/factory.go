package requests

import (
	"context"
	"fmt"

	"promptgate/internal/storage"
)

// New creates a request store on the shared storage connection.
// The settings store must have been created on it first.
// The storage is owned by the caller.
func New(ctx context.Context, shared storage.Storage) (Store, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}

	switch shared.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(shared.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := shared.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool)
	case storage.TypeMongoDB:
		db := shared.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", shared.Type())
	}
}
