// Package store owns the authoritative scene collection. Every mutation is
// written synchronously to the cache backend and, when a file is bound,
// handed to the autosave writer for that file.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/scenelink/scenelink/internal/autosave"
	"github.com/scenelink/scenelink/internal/codec"
	"github.com/scenelink/scenelink/internal/events"
	"github.com/scenelink/scenelink/internal/external"
	"github.com/scenelink/scenelink/internal/storage"
	"github.com/scenelink/scenelink/pkg/core"
)

// ErrVersionConflict is returned by UpsertAt when the collection changed.
var ErrVersionConflict = errors.New("scene collection was modified concurrently")

// FlushResult tells the caller where Flush wrote the snapshot.
type FlushResult struct {
	Bound  bool   `json:"bound"`
	Target string `json:"target,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBus publishes change and autosave failure events.
func WithBus(b *events.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithBaseURL sets the viewer URL used to compute FullURL.
func WithBaseURL(base string) Option {
	return func(s *Store) { s.baseURL = base }
}

// WithExportDir sets where unbound Flush writes its export.
func WithExportDir(fs afero.Fs, dir string) Option {
	return func(s *Store) {
		s.fs = fs
		s.exportDir = dir
	}
}

// WithClock overrides time.Now for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides UUID generation.
func WithIDGenerator(fn func() core.ID) Option {
	return func(s *Store) { s.newID = fn }
}

type Store struct {
	cache     storage.Backend
	writer    *autosave.Writer
	bus       *events.Bus
	logger    *slog.Logger
	baseURL   string
	fs        afero.Fs
	exportDir string
	now       func() time.Time
	newID     func() core.ID

	mu      sync.RWMutex
	scenes  []core.SceneDescriptor
	version uint64
	bound   external.Handle
}

// New creates an empty store over an initialized cache backend. Call
// LoadInitial to populate it.
func New(cache storage.Backend, opts ...Option) (*Store, error) {
	s := &Store{
		cache:     cache,
		logger:    slog.Default(),
		fs:        afero.NewOsFs(),
		exportDir: ".",
		now:       time.Now,
		newID:     func() core.ID { return core.ID(uuid.NewString()) },
		scenes:    []core.SceneDescriptor{},
	}
	for _, opt := range opts {
		opt(s)
	}

	w, err := autosave.New(
		autosave.WithLogger(s.logger),
		autosave.OnError(s.autosaveFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("starting autosave: %w", err)
	}
	s.writer = w
	return s, nil
}

func (s *Store) autosaveFailed(f autosave.Failure) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishAutosaveFailed(events.AutosaveFailed{Target: f.Target, Error: f.Err.Error()}); err != nil {
		s.logger.Warn("Could not publish autosave failure", "error", err)
	}
}

// ListAll returns a copy of the collection.
func (s *Store) ListAll() []core.SceneDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.scenes)
}

// Get returns the descriptor with id.
func (s *Store) Get(id core.ID) (core.SceneDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.scenes[i], true
	}
	return core.SceneDescriptor{}, false
}

// Version increases with every committed change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Bound reports whether an external file is bound.
func (s *Store) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound != nil
}

// BoundName is the bound file's name, empty when unbound.
func (s *Store) BoundName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bound == nil {
		return ""
	}
	return s.bound.Name()
}

// Snapshot serializes the current collection.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Marshal(s.scenes)
}

func (s *Store) indexOf(id core.ID) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.scenes, func(d core.SceneDescriptor) bool { return d.ID == id })
}

// Upsert replaces the descriptor with the same id or appends a new one.
func (s *Store) Upsert(ctx context.Context, d core.SceneDescriptor) ([]core.SceneDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ctx, d)
}

// UpsertAt is Upsert guarded by the collection version the caller last saw.
func (s *Store) UpsertAt(ctx context.Context, version uint64, d core.SceneDescriptor) ([]core.SceneDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != s.version {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, s.version, version)
	}
	return s.upsertLocked(ctx, d)
}

func (s *Store) upsertLocked(ctx context.Context, d core.SceneDescriptor) ([]core.SceneDescriptor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d = d.WithDefaults()

	next := slices.Clone(s.scenes)
	i := s.indexOf(d.ID)
	if i >= 0 {
		d.CreatedAt = next[i].CreatedAt
	} else {
		if d.ID == "" {
			d.ID = s.newID()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = s.now().UTC()
		}
	}

	link, err := codec.Link(s.baseURL, d)
	if err != nil {
		return nil, fmt.Errorf("building link for %s: %w", d.ID, err)
	}
	d.FullURL = link

	if i >= 0 {
		next[i] = d
	} else {
		next = append(next, d)
	}

	if err := s.commit(ctx, next, true); err != nil {
		return nil, err
	}
	s.notify(events.ReasonUpsert, string(d.ID))
	return slices.Clone(s.scenes), nil
}

// DeleteByID removes the descriptor with id. An unknown id leaves the
// collection unchanged.
func (s *Store) DeleteByID(ctx context.Context, id core.ID) ([]core.SceneDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		// still re-persist so the cache always mirrors memory
		if err := s.commit(ctx, s.scenes, false); err != nil {
			return nil, err
		}
		return slices.Clone(s.scenes), nil
	}

	next := slices.Delete(slices.Clone(s.scenes), i, i+1)
	if err := s.commit(ctx, next, true); err != nil {
		return nil, err
	}
	s.notify(events.ReasonDelete, string(id))
	return slices.Clone(s.scenes), nil
}

// BindExternal reads h, replaces the collection with its contents and binds
// it for autosave. On any failure the previous collection and binding stay.
func (s *Store) BindExternal(ctx context.Context, h external.Handle) ([]core.SceneDescriptor, error) {
	raw, err := h.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", h.Name(), err)
	}
	scenes, err := Unmarshal(raw, s.newID)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", h.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the file already holds this content; only the cache needs it
	data, err := Marshal(scenes)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("writing cache: %w", err)
	}
	s.scenes = scenes
	s.version++
	s.bound = h

	s.logger.Info("Bound external file", "file", h.Name(), "scenes", len(scenes))
	s.notify(events.ReasonBind, "")
	return slices.Clone(s.scenes), nil
}

// BindGranted asks g for a handle and binds it. A declined grant changes
// nothing and is not an error.
func (s *Store) BindGranted(ctx context.Context, g external.Granter) ([]core.SceneDescriptor, error) {
	h, err := g.Grant(ctx)
	if errors.Is(err, external.ErrGrantDeclined) {
		s.logger.Info("File access declined")
		return s.ListAll(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("granting file access: %w", err)
	}
	return s.BindExternal(ctx, h)
}

// Unbind stops autosaving to the bound file.
func (s *Store) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		s.logger.Info("Unbound external file", "file", s.bound.Name())
	}
	s.bound = nil
}

// Import replaces the collection with raw, which must be a valid snapshot.
func (s *Store) Import(ctx context.Context, raw []byte) ([]core.SceneDescriptor, error) {
	scenes, err := Unmarshal(raw, s.newID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(ctx, scenes, true); err != nil {
		return nil, err
	}
	s.notify(events.ReasonImport, "")
	return slices.Clone(s.scenes), nil
}

// Flush writes the collection synchronously to the bound file, or to an
// export file in the export directory when nothing is bound.
func (s *Store) Flush(ctx context.Context) (FlushResult, error) {
	if err := ctx.Err(); err != nil {
		return FlushResult{}, err
	}
	s.writer.Wait()

	s.mu.RLock()
	data, err := Marshal(s.scenes)
	bound := s.bound
	s.mu.RUnlock()
	if err != nil {
		return FlushResult{}, err
	}

	if bound != nil {
		if err := bound.Write(data); err != nil {
			return FlushResult{}, fmt.Errorf("writing %s: %w", bound.Name(), err)
		}
		return FlushResult{Bound: true, Target: bound.Name()}, nil
	}

	if err := s.fs.MkdirAll(s.exportDir, 0o755); err != nil {
		return FlushResult{}, fmt.Errorf("creating export dir: %w", err)
	}
	path := filepath.Join(s.exportDir, ExportFileName)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return FlushResult{}, fmt.Errorf("writing export: %w", err)
	}
	s.logger.Info("Exported scenes", "path", path)
	return FlushResult{Path: path}, nil
}

// LoadInitial populates the store at startup from the cache. The seed is
// only consulted when the cache holds no readable collection, so an emptied
// collection stays empty across restarts. Unreadable or invalid data is
// logged and the store starts empty.
func (s *Store) LoadInitial(ctx context.Context, seed external.Reader) ([]core.SceneDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found, err := s.cache.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}
	if found {
		scenes, err := Unmarshal(raw, s.newID)
		if err == nil {
			s.scenes = scenes
			s.version++
			s.notify(events.ReasonLoad, "")
			return slices.Clone(s.scenes), nil
		}
		s.logger.Warn("Ignoring invalid cached scenes", "error", err)
	}

	if seed != nil {
		if scenes, ok := s.readSeed(seed); ok {
			if err := s.commit(ctx, scenes, true); err != nil {
				return nil, err
			}
			s.logger.Info("Seeded empty cache", "count", len(scenes))
			s.notify(events.ReasonLoad, "")
			return slices.Clone(s.scenes), nil
		}
	}

	s.scenes = []core.SceneDescriptor{}
	s.version++
	s.notify(events.ReasonLoad, "")
	return slices.Clone(s.scenes), nil
}

func (s *Store) readSeed(seed external.Reader) ([]core.SceneDescriptor, bool) {
	raw, err := seed.Read()
	if err != nil {
		s.logger.Debug("No seed file", "error", err)
		return nil, false
	}
	scenes, err := Unmarshal(raw, s.newID)
	if err != nil {
		s.logger.Warn("Ignoring invalid seed file", "error", err)
		return nil, false
	}
	return scenes, true
}

// Close waits for pending autosaves.
func (s *Store) Close() error {
	s.writer.Close()
	return nil
}

// commit persists next to the cache and, on success, installs it and queues
// an autosave. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next []core.SceneDescriptor, changed bool) error {
	data, err := Marshal(next)
	if err != nil {
		return err
	}
	if err := s.cache.Save(ctx, data); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	s.scenes = next
	if changed {
		s.version++
	}
	if s.bound != nil {
		s.writer.Submit(s.bound, data)
	}
	return nil
}

func (s *Store) notify(reason, id string) {
	if s.bus == nil {
		return
	}
	ev := events.ScenesChanged{Reason: reason, ID: id, Version: s.version, Count: len(s.scenes)}
	if err := s.bus.PublishScenesChanged(ev); err != nil {
		s.logger.Warn("Could not publish change", "reason", reason, "error", err)
	}
}
