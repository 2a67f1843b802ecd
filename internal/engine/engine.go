// Package engine bridges a line-oriented event stream to presentation
// machines. It stands in for the render collaborator: tracking and input
// events arrive as protocol lines and frames leave as JSON lines.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/scenelink/scenelink/internal/dispatcher"
	"github.com/scenelink/scenelink/internal/presentation"
)

// Protocol commands.
const (
	CmdMarkerFound  = ":MARKER:FOUND:"
	CmdMarkerLost   = ":MARKER:LOST:"
	CmdPointerDown  = ":POINTER:DOWN:"
	CmdPointerMove  = ":POINTER:MOVE:"
	CmdPointerUp    = ":POINTER:UP:"
	CmdAssetError   = ":ASSET:ERROR:"
	CmdRotate       = ":ROTATE:"
	CmdLineNext     = ":LINE:NEXT:"
	CmdLinePrevious = ":LINE:PREV:"
	CmdFrame        = ":FRAME:"
)

var (
	ErrBadArgs      = errors.New("bad arguments")
	ErrNoController = errors.New("no viewer controls attached")
)

// Controller is the viewer-side control surface, satisfied by
// *presentation.Machine.
type Controller interface {
	Rotate(axis presentation.Axis, direction int) error
	NextLine() bool
	PreviousLine() bool
	Frame() presentation.Frame
}

// Stream implements presentation.Engine and presentation.Renderer.
type Stream struct {
	d   *dispatcher.Dispatcher
	log *slog.Logger

	mu      sync.Mutex
	subs    map[int]presentation.Handlers
	nextID  int
	control Controller

	outMu  sync.Mutex
	enc    *json.Encoder
	frames int
}

// New creates a stream writing frames to out. A nil out discards frames.
func New(out io.Writer, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		d:    d,
		log:  logger,
		subs: make(map[int]presentation.Handlers),
	}
	if out != nil {
		s.enc = json.NewEncoder(out)
	}
	s.register()
	return s, nil
}

func (s *Stream) register() {
	s.d.Register(CmdMarkerFound, func(dispatcher.Event) (any, error) {
		for _, h := range s.handlers() {
			if h.OnMarkerFound != nil {
				h.OnMarkerFound()
			}
		}
		return nil, nil
	}, dispatcher.Logged())

	s.d.Register(CmdMarkerLost, func(dispatcher.Event) (any, error) {
		for _, h := range s.handlers() {
			if h.OnMarkerLost != nil {
				h.OnMarkerLost()
			}
		}
		return nil, nil
	}, dispatcher.Logged())

	s.d.Register(CmdPointerDown, s.pointer(presentation.PointerDown))
	s.d.Register(CmdPointerMove, s.pointer(presentation.PointerMove))
	s.d.Register(CmdPointerUp, s.pointer(presentation.PointerUp))

	s.d.Register(CmdAssetError, func(e dispatcher.Event) (any, error) {
		if len(e.Args) != 1 {
			return nil, fmt.Errorf("%w: %s wants <url>", ErrBadArgs, CmdAssetError)
		}
		for _, h := range s.handlers() {
			if h.OnAssetLoadError != nil {
				h.OnAssetLoadError(e.Args[0])
			}
		}
		return nil, nil
	}, dispatcher.Logged())

	s.d.Register(CmdRotate, func(e dispatcher.Event) (any, error) {
		c, err := s.controller()
		if err != nil {
			return nil, err
		}
		if len(e.Args) != 2 {
			return nil, fmt.Errorf("%w: %s wants <x|y> <-1|1>", ErrBadArgs, CmdRotate)
		}
		dir, err := strconv.Atoi(e.Args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: direction %q", ErrBadArgs, e.Args[1])
		}
		return nil, c.Rotate(presentation.Axis(strings.ToLower(e.Args[0])), dir)
	}, dispatcher.Logged())

	s.d.Register(CmdLineNext, func(dispatcher.Event) (any, error) {
		c, err := s.controller()
		if err != nil {
			return nil, err
		}
		return c.NextLine(), nil
	})

	s.d.Register(CmdLinePrevious, func(dispatcher.Event) (any, error) {
		c, err := s.controller()
		if err != nil {
			return nil, err
		}
		return c.PreviousLine(), nil
	})

	s.d.Register(CmdFrame, func(dispatcher.Event) (any, error) {
		c, err := s.controller()
		if err != nil {
			return nil, err
		}
		f := c.Frame()
		s.Render(f)
		return f, nil
	})
}

func (s *Stream) pointer(kind presentation.PointerKind) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		ev := presentation.PointerEvent{Kind: kind}
		if kind != presentation.PointerUp {
			if len(e.Args) != 2 {
				return nil, fmt.Errorf("%w: %s wants <x> <y>", ErrBadArgs, e.Command)
			}
			x, errX := strconv.ParseFloat(e.Args[0], 64)
			y, errY := strconv.ParseFloat(e.Args[1], 64)
			if errX != nil || errY != nil {
				return nil, fmt.Errorf("%w: %s %v", ErrBadArgs, e.Command, e.Args)
			}
			ev.X, ev.Y = x, y
		}
		for _, h := range s.handlers() {
			if h.OnPointer != nil {
				h.OnPointer(ev)
			}
		}
		return nil, nil
	}
}

func (s *Stream) handlers() []presentation.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]presentation.Handlers, 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if h, ok := s.subs[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (s *Stream) controller() (Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.control == nil {
		return nil, ErrNoController
	}
	return s.control, nil
}

// Subscribe registers h. Handlers run in subscription order.
func (s *Stream) Subscribe(h presentation.Handlers) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers is the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Control routes viewer commands to c. Pass nil to detach.
func (s *Stream) Control(c Controller) {
	s.mu.Lock()
	s.control = c
	s.mu.Unlock()
}

// Render writes f as one JSON line.
func (s *Stream) Render(f presentation.Frame) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.frames++
	if s.enc == nil {
		return
	}
	if err := s.enc.Encode(f); err != nil {
		s.log.Error("Failed to write frame", "error", err)
	}
}

// Frames counts Render calls.
func (s *Stream) Frames() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return s.frames
}

// Feed handles one protocol line.
func (s *Stream) Feed(line string) error {
	_, err := s.d.DispatchLine(line)
	return err
}

// Run feeds every line of r until EOF or ctx is done. Blank lines and lines
// starting with '#' are skipped; bad lines are logged and skipped.
func (s *Stream) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.Feed(line); err != nil {
			s.log.Warn("Skipping line", "line", line, "error", err)
		}
	}
	return scanner.Err()
}

// Close stops the dispatcher.
func (s *Stream) Close() {
	s.d.Close()
}
