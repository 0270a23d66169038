package main

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/tallybot/backend/internal/config"
	"github.com/tallybot/backend/internal/database"
	"github.com/tallybot/backend/internal/storage"
	"github.com/tallybot/backend/internal/storage/filestore"
	"github.com/tallybot/backend/internal/storage/memory"
	"github.com/tallybot/backend/internal/storage/mongostore"
	"github.com/tallybot/backend/internal/storage/postgres"
)

// openStore builds the configured backend wrapped in per-subject
// serialization.
func openStore(ctx context.Context, cfg *config.Config) (*storage.SerializedStore, func(), error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		locker      storage.SubjectLocker
		redisClient *redis.Client
	)
	switch cfg.Lock.Backend {
	case "redis":
		redisClient = database.InitRedis(cfg.Redis)
		if redisClient == nil {
			return nil, nil, fmt.Errorf("lock backend redis: %s unreachable", cfg.Redis.Addr())
		}
		locker = storage.NewRedisLocker(redisClient, cfg.Lock.TTL)
	default:
		locker = storage.NewLocalLocker()
	}
	log.Printf("Ledger storage: %s, subject locks: %s", cfg.Storage.Backend, cfg.Lock.Backend)

	store := storage.NewSerialized(backend, locker)
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close ledger store: %v", err)
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return store, closeFn, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.LedgerStore, error) {
	switch cfg.Storage.Backend {
	case "mongo":
		client, err := database.InitMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return mongostore.New(client, cfg.Mongo.Database, cfg.Mongo.Collection), nil
	case "file":
		store, err := filestore.Open(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		db, err := database.InitDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	case "memory":
		log.Println("Warning: memory storage loses every entry on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
