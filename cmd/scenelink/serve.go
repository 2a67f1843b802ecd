package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/scenelink/scenelink/internal/api"
	"github.com/scenelink/scenelink/internal/events"
)

const shutdownTimeout = 10 * time.Second

// serve runs the HTTP API until ctx is cancelled, then flushes pending
// autosaves before exiting.
func serve(ctx context.Context) error {
	bus := events.NewBus(Logger)
	defer bus.Close()

	s, closeStore, err := openStore(ctx, bus)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := watchEvents(ctx, bus); err != nil {
		return err
	}

	if viper.GetString("logLevel") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(s,
		api.WithBindingDir(OsFs, viper.GetString("binding.dir")),
		api.WithDragSpeed(viper.GetFloat64("viewer.dragSpeed")),
		api.WithLogger(Logger),
	)
	srv := &http.Server{
		Addr:              viper.GetString("http.addr"),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		Logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// watchEvents logs store changes and autosave failures until ctx is done.
func watchEvents(ctx context.Context, bus *events.Bus) error {
	changes, err := bus.Subscribe(ctx, events.TopicScenesChanged)
	if err != nil {
		return err
	}
	failures, err := bus.Subscribe(ctx, events.TopicAutosaveFailed)
	if err != nil {
		return err
	}

	go func() {
		for msg := range changes {
			ev, err := events.Decode[events.ScenesChanged](msg)
			if err != nil {
				Logger.Warn("Bad change event", "error", err)
				continue
			}
			Logger.Info("Scenes changed", "reason", ev.Reason, "id", ev.ID, "version", ev.Version, "count", ev.Count)
		}
	}()
	go func() {
		for msg := range failures {
			ev, err := events.Decode[events.AutosaveFailed](msg)
			if err != nil {
				Logger.Warn("Bad autosave event", "error", err)
				continue
			}
			Logger.Error("Autosave failed", "target", ev.Target, "error", ev.Error)
		}
	}()
	return nil
}
