package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/events"
	"github.com/scenelink/scenelink/internal/external"
	"github.com/scenelink/scenelink/internal/storage"
	"github.com/scenelink/scenelink/internal/store"
)

// initStorage creates and initializes the configured cache backend.
func initStorage(ctx context.Context) (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, DBLogger)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		return nil, err
	}
	attrs := []any{"type", storageCfg.Type, "key", storageCfg.Key}
	if v, ok := backend.(storage.Versioned); ok {
		saved, err := v.SavedVersion(ctx)
		if err != nil {
			Logger.Warn("Failed to read cache version", "type", storageCfg.Type, "error", err)
		} else {
			attrs = append(attrs, "savedVersion", saved)
		}
	}
	Logger.Info("Storage backend initialized", attrs...)
	return backend, nil
}

// openStore wires the cache backend, the change bus and the seed file into
// a loaded store. The returned func releases everything in reverse order.
func openStore(ctx context.Context, bus *events.Bus) (*store.Store, func(), error) {
	backend, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []store.Option{
		store.WithLogger(Logger),
		store.WithBaseURL(viper.GetString("link.baseUrl")),
		store.WithExportDir(OsFs, viper.GetString("export.dir")),
	}
	if bus != nil {
		opts = append(opts, store.WithBus(bus))
	}

	s, err := store.New(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("creating store: %w", err)
	}

	seed := external.FileReader{FS: OsFs, Path: viper.GetString("seed.path")}
	scenes, err := s.LoadInitial(ctx, seed)
	if err != nil {
		_ = s.Close()
		_ = backend.Close()
		return nil, nil, fmt.Errorf("loading scenes: %w", err)
	}
	Logger.Debug("Scenes loaded", "count", len(scenes))

	closeFn := func() {
		if err := s.Close(); err != nil {
			Logger.Warn("Failed to close store", "error", err)
		}
		if err := backend.Close(); err != nil {
			Logger.Warn("Failed to close storage backend", "error", err)
		}
	}
	return s, closeFn, nil
}
