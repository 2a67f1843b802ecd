// Package redisstorage implements the storage.Backend interface on a Redis
// string key.
package redisstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/scenelink/scenelink/internal/config"
)

var errNotConnected = errors.New("redis backend not initialized")

// Backend stores the snapshot at key and a save counter at key+":version".
type Backend struct {
	cfg    config.RedisConfig
	key    string
	client *redis.Client
}

// New creates a Redis backend. No connection is made until Init.
func New(cfg config.RedisConfig, key string) *Backend {
	return &Backend{cfg: cfg, key: key}
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string) *Backend {
	return &Backend{key: key, client: client}
}

// Init connects and pings the server.
func (b *Backend) Init() error {
	if b.client == nil {
		b.client = redis.NewClient(&redis.Options{
			Addr:     b.cfg.Addr,
			Password: b.cfg.Password,
			DB:       b.cfg.DB,
		})
	}
	if err := b.client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", b.client.Options().Addr, err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *Backend) Load(ctx context.Context) ([]byte, bool, error) {
	if b.client == nil {
		return nil, false, errNotConnected
	}
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", b.key, err)
	}
	return data, true, nil
}

// Save writes the snapshot and bumps the counter atomically.
func (b *Backend) Save(ctx context.Context, data []byte) error {
	if b.client == nil {
		return errNotConnected
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.key, data, 0)
		pipe.Incr(ctx, b.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", b.key, err)
	}
	return nil
}

// SavedVersion returns the save counter.
func (b *Backend) SavedVersion(ctx context.Context) (uint64, error) {
	if b.client == nil {
		return 0, errNotConnected
	}
	v, err := b.client.Get(ctx, b.versionKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (b *Backend) versionKey() string { return b.key + ":version" }
