// Package viewer runs one viewing session: it resolves a shared link into a
// descriptor, drives a presentation machine from an engine and holds host
// resources (camera, screen locks) for exactly the session's lifetime.
package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/scenelink/scenelink/internal/codec"
	"github.com/scenelink/scenelink/internal/presentation"
	"github.com/scenelink/scenelink/pkg/core"
)

// ErrHostBusy is returned by LockHost when another session holds the lock.
var ErrHostBusy = errors.New("viewer host already in use")

// Host is a resource a session needs while it runs. Acquire returns the
// matching release.
type Host interface {
	Acquire() (release func(), err error)
}

// HostFunc adapts a function to Host.
type HostFunc func() (func(), error)

func (f HostFunc) Acquire() (func(), error) { return f() }

// LockHost holds an exclusive lock file, so two sessions never drive the
// same camera.
type LockHost struct {
	FS   afero.Fs
	Path string
}

func (h LockHost) Acquire() (func(), error) {
	f, err := h.FS.OpenFile(h.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrHostBusy, h.Path)
		}
		return nil, err
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = h.FS.Remove(h.Path) }, nil
}

// Resolve turns a link into the descriptor to show. Malformed parts of a
// link are logged and whatever could be read is used; a link without a name
// yields the placeholder. The viewer never fails to open.
func Resolve(link string, log *slog.Logger) core.SceneDescriptor {
	t, err := codec.ParseLink(link)
	if err != nil && log != nil {
		log.Warn("Partly unreadable scene link", "error", err)
	}
	return codec.Decode(t)
}

// Option configures a Session.
type Option func(*Session)

func WithHosts(hosts ...Host) Option {
	return func(s *Session) { s.hosts = append(s.hosts, hosts...) }
}

func WithDragSpeed(speed float64) Option {
	return func(s *Session) { s.machineOpts = append(s.machineOpts, presentation.WithDragSpeed(speed)) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.log = l
		s.machineOpts = append(s.machineOpts, presentation.WithLogger(l))
	}
}

// Session is one open viewer.
type Session struct {
	machine     *presentation.Machine
	machineOpts []presentation.Option
	hosts       []Host
	log         *slog.Logger

	mu       sync.Mutex
	releases []func()
	closed   bool
}

// Open acquires every host, builds the machine for link and attaches it to
// e. If a host cannot be acquired the ones already held are released.
func Open(link string, e presentation.Engine, opts ...Option) (*Session, error) {
	s := &Session{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	for _, h := range s.hosts {
		release, err := h.Acquire()
		if err != nil {
			s.releaseAll()
			return nil, fmt.Errorf("acquiring viewer host: %w", err)
		}
		if release != nil {
			s.releases = append(s.releases, release)
		}
	}

	d := Resolve(link, s.log)
	s.machine = presentation.NewMachine(d, s.machineOpts...)
	if e != nil {
		s.machine.Attach(e)
	}
	s.log.Info("Viewer opened", "scene", d.Name, "placeholder", d.IsPlaceholder())
	return s, nil
}

// Machine is the session's presentation state.
func (s *Session) Machine() *presentation.Machine { return s.machine }

// Close detaches from the engine and releases every host, in reverse
// order. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	defer s.releaseAll()
	s.machine.Detach()
	s.log.Info("Viewer closed")
}

func (s *Session) releaseAll() {
	s.mu.Lock()
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		release(releases[i], s.log)
	}
}

// release recovers a panicking fn so the remaining releases still run.
func release(fn func(), log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Viewer host release panicked", "panic", r)
		}
	}()
	fn()
}
