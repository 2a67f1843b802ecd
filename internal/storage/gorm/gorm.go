// Package gormstorage implements the storage.Backend interface on a single
// GORM table. Each cache key owns one row holding the latest snapshot.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoDB is returned by Init when no connection was injected.
var ErrNoDB = errors.New("gorm backend has no database")

// Snapshot is the stored row. Payload is plain text on every dialect so the
// snapshot bytes come back exactly as saved, never re-encoded as jsonb.
type Snapshot struct {
	CacheKey  string         `gorm:"column:cache_key;primaryKey;size:128"`
	Payload   datatypes.JSON `gorm:"column:payload;type:text"`
	Version   uint64         `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

// TableName keeps the table name stable across dialects.
func (Snapshot) TableName() string { return "scene_snapshots" }

// Backend stores snapshots through GORM. It does not own the connection.
type Backend struct {
	db  *gorm.DB
	key string
}

// New creates a GORM backend storing under key.
func New(db *gorm.DB, key string) *Backend {
	return &Backend{db: db, key: key}
}

// Init migrates the snapshot table.
func (b *Backend) Init() error {
	if b.db == nil {
		return ErrNoDB
	}
	if err := b.db.AutoMigrate(&Snapshot{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", Snapshot{}.TableName(), err)
	}
	return nil
}

// Close is a no-op; the owner of the connection closes it.
func (b *Backend) Close() error { return nil }

func (b *Backend) row(ctx context.Context, tx *gorm.DB) (Snapshot, bool, error) {
	var rows []Snapshot
	err := tx.WithContext(ctx).Where("cache_key = ?", b.key).Limit(1).Find(&rows).Error
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(rows) == 0 {
		return Snapshot{}, false, nil
	}
	return rows[0], true, nil
}

func (b *Backend) Load(ctx context.Context) ([]byte, bool, error) {
	if b.db == nil {
		return nil, false, ErrNoDB
	}
	s, found, err := b.row(ctx, b.db)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", b.key, err)
	}
	if !found {
		return nil, false, nil
	}
	return []byte(s.Payload), true, nil
}

// Save upserts the row for the key and bumps its version.
func (b *Backend) Save(ctx context.Context, data []byte) error {
	if b.db == nil {
		return ErrNoDB
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, _, err := b.row(ctx, tx)
		if err != nil {
			return err
		}
		next := Snapshot{
			CacheKey:  b.key,
			Payload:   datatypes.JSON(append([]byte(nil), data...)),
			Version:   cur.Version + 1,
			UpdatedAt: time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "version", "updated_at"}),
		}).Create(&next).Error
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", b.key, err)
	}
	return nil
}

// SavedVersion returns how many times the key has been saved.
func (b *Backend) SavedVersion(ctx context.Context) (uint64, error) {
	if b.db == nil {
		return 0, ErrNoDB
	}
	s, _, err := b.row(ctx, b.db)
	if err != nil {
		return 0, err
	}
	return s.Version, nil
}
