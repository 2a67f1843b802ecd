// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// Backend keeps the snapshot in an in-process cache. Contents do not survive
// a restart.
type Backend struct {
	key   string
	store *gocache.Cache

	mu      sync.Mutex
	version uint64
}

// New creates a memory backend storing under key.
func New(key string) *Backend {
	return &Backend{
		key:   key,
		store: gocache.New(gocache.NoExpiration, 0),
	}
}

func (b *Backend) Init() error { return nil }

// Close drops everything held.
func (b *Backend) Close() error {
	b.store.Flush()
	return nil
}

func (b *Backend) Load(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := b.store.Get(b.key)
	if !ok {
		return nil, false, nil
	}
	data := v.([]byte)
	return append([]byte(nil), data...), true, nil
}

func (b *Backend) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store.Set(b.key, append([]byte(nil), data...), gocache.NoExpiration)
	b.version++
	return nil
}

// SavedVersion counts successful saves since New.
func (b *Backend) SavedVersion(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version, nil
}
