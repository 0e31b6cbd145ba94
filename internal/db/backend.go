package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// BackendConfig selects and addresses a storage backend.
type BackendConfig struct {
	Kind     string // mongo, postgres, sqlite or memory
	MongoURI string
	MongoDB  string
	SQLDSN   string
}

// Backend is an opened pair of collections plus its lifecycle hooks.
type Backend struct {
	Presence PresenceCollection
	History  HistoryCollection
	Ping     func(ctx context.Context) error
	Close    func(ctx context.Context) error
	// Watch streams presence writes from every process sharing the store
	// until ctx is done. Nil when the backend has no change feed.
	Watch func(ctx context.Context, onChange func()) error
}

// Open connects the configured backend and prepares its indexes or tables.
func Open(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	switch cfg.Kind {
	case "mongo":
		client, err := ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.MongoDB)
		if err := EnsureIndexes(ctx, database); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
		presence := database.Collection(PresenceCollectionName)
		return &Backend{
			Presence: &MongoPresenceCollection{Collection: presence},
			History:  &MongoHistoryCollection{Collection: database.Collection(HistoryCollectionName)},
			Ping:     func(ctx context.Context) error { return client.Ping(ctx, nil) },
			Close:    client.Disconnect,
			Watch: func(ctx context.Context, onChange func()) error {
				return WatchPresence(ctx, presence, onChange)
			},
		}, nil

	case "postgres", "sqlite":
		gdb, err := OpenGorm(cfg.Kind, cfg.SQLDSN, 10, 2*time.Second)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("sql handle: %w", err)
		}
		log.WithField("driver", cfg.Kind).Info("Connected to SQL store")
		return &Backend{
			Presence: &GormPresenceCollection{DB: gdb},
			History:  &GormHistoryCollection{DB: gdb},
			Ping:     sqlDB.PingContext,
			Close:    func(context.Context) error { return sqlDB.Close() },
		}, nil

	case "memory":
		log.Warn("Using in-memory store; presence is lost on restart")
		return &Backend{
			Presence: NewMemoryPresenceCollection(),
			History:  NewMemoryHistoryCollection(),
			Ping:     func(context.Context) error { return nil },
			Close:    func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
}
