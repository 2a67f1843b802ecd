// Package postgres implements the storage.Backend interface on PostgreSQL,
// reusing the GORM snapshot table.
package postgres

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/database"
	gormstorage "github.com/scenelink/scenelink/internal/storage/gorm"
)

// Backend wraps the GORM backend for a Postgres connection.
type Backend struct {
	*gormstorage.Backend
	cfg     config.PostgresConfig
	key     string
	db      *gorm.DB
	manager *database.Manager
}

// New creates a Postgres backend. No connection is made until Init.
func New(cfg config.PostgresConfig, key string, manager *database.Manager) *Backend {
	return &Backend{
		Backend: gormstorage.New(nil, key),
		cfg:     cfg,
		key:     key,
		manager: manager,
	}
}

// Init connects and migrates the snapshot table.
func (b *Backend) Init() error {
	db, err := b.manager.GetPostgresDB(b.cfg)
	if err != nil {
		return err
	}
	b.db = db
	b.Backend = gormstorage.New(db, b.key)
	if err := b.Backend.Init(); err != nil {
		_ = database.Close(db)
		b.db = nil
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	db := b.db
	b.db = nil
	return database.Close(db)
}
