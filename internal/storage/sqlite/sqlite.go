// Package sqlitestorage implements the storage.Backend interface on a SQLite
// file. It wraps the GORM backend via composition and owns the connection.
package sqlitestorage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/scenelink/scenelink/internal/database"
	gormstorage "github.com/scenelink/scenelink/internal/storage/gorm"
)

// Backend wraps the GORM backend for a SQLite database.
type Backend struct {
	*gormstorage.Backend
	db      *gorm.DB
	path    string
	key     string
	manager *database.Manager
}

// New creates a SQLite backend. An empty path uses an in-memory database.
func New(path, key string, manager *database.Manager) *Backend {
	return &Backend{
		Backend: gormstorage.New(nil, key),
		path:    path,
		key:     key,
		manager: manager,
	}
}

// Init opens the database and migrates the snapshot table.
func (b *Backend) Init() error {
	db, err := b.manager.GetSqliteDB(b.path)
	if err != nil {
		return fmt.Errorf("failed to open SQLite DB: %w", err)
	}
	b.db = db
	b.Backend = gormstorage.New(db, b.key)
	if err := b.Backend.Init(); err != nil {
		_ = database.Close(db)
		b.db = nil
		return err
	}
	return nil
}

// Close closes the SQLite connection.
func (b *Backend) Close() error {
	db := b.db
	b.db = nil
	return database.Close(db)
}

// Path is the database file, empty for in-memory.
func (b *Backend) Path() string { return b.path }
