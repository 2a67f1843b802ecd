// internal/storage/storage.go
package storage

import "context"

// Backend is the cache side of the scene store: it holds one serialized
// snapshot of the whole collection under the configured key.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Load returns the stored snapshot. found is false when nothing has been
	// saved under the key yet.
	Load(ctx context.Context) (data []byte, found bool, err error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, data []byte) error
}

// Versioned is implemented by backends that count saves.
type Versioned interface {
	SavedVersion(ctx context.Context) (uint64, error)
}
