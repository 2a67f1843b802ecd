// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/database"
	"github.com/scenelink/scenelink/internal/storage/memory"
	postgresstorage "github.com/scenelink/scenelink/internal/storage/postgres"
	redisstorage "github.com/scenelink/scenelink/internal/storage/redis"
	sqlitestorage "github.com/scenelink/scenelink/internal/storage/sqlite"
)

// NewBackend creates a cache backend based on configuration. The caller
// owns Init and Close.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("storage key must not be empty")
	}
	switch cfg.Type {
	case "memory", "":
		return memory.New(cfg.Key), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite.Path, cfg.Key, database.NewManager(log)), nil
	case "postgres":
		return postgresstorage.New(cfg.Postgres, cfg.Key, database.NewManager(log)), nil
	case "redis":
		return redisstorage.New(cfg.Redis, cfg.Key), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
