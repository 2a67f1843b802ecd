// Package presentation drives what the viewer shows for one scene: marker
// acquisition, the live object transform, narrative playback and the
// position of the floating narrative card.
//
// The render engine is a collaborator. It raises marker, pointer and asset
// events through Engine.Subscribe and reads the resulting Frame. When it also
// implements Renderer, a fresh Frame is pushed after every change.
package presentation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/scenelink/scenelink/internal/narrative"
	"github.com/scenelink/scenelink/pkg/core"
)

// State is the marker acquisition state.
type State int

const (
	Searching State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "searching"
}

// Status labels shown to the viewer.
const (
	StatusTracking  = "Marker detected"
	StatusSearching = "Searching for marker..."
)

// AssetState tracks custom model loading.
type AssetState int

const (
	AssetOK AssetState = iota
	// AssetFallback means the custom model failed and the built-in asset is shown.
	AssetFallback
	// AssetMissing is terminal: the fallback failed too and nothing is loaded.
	AssetMissing
)

func (a AssetState) String() string {
	switch a {
	case AssetFallback:
		return "fallback"
	case AssetMissing:
		return "missing"
	default:
		return "ok"
	}
}

// Axis is a manual rotation axis.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

const (
	// RotationStep is the angle added by one manual rotation, in radians.
	RotationStep = math.Pi / 8
	// DefaultDragSpeed scales pointer deltas into radians (delta*speed/1000).
	DefaultDragSpeed = 5.0
	// TextMargin is the gap between the object edge and the narrative card.
	TextMargin = 1.2
)

var (
	ErrInvalidAxis      = errors.New("rotation axis must be x or y")
	ErrInvalidDirection = errors.New("rotation direction must be -1 or 1")
)

// Transform is the effective object transform. Rotation is in radians.
type Transform struct {
	Position core.Vector3 `json:"position"`
	Rotation core.Vector3 `json:"rotation"`
	Scale    core.Vector3 `json:"scale"`
}

// Frame is everything the render collaborator needs for one update.
type Frame struct {
	State       string         `json:"state"`
	MarkerFound bool           `json:"markerFound"`
	Status      string         `json:"status"`
	Transform   Transform      `json:"transform"`
	ModelType   core.ModelType `json:"modelType"`
	ModelURL    string         `json:"modelUrl"`
	Asset       string         `json:"asset"`
	Title       string         `json:"title"`
	Line        string         `json:"line"`
	LineIndex   int            `json:"lineIndex"`
	LineCount   int            `json:"lineCount"`
	LineLabel   string         `json:"lineLabel"`
	Anchor      core.Vector3   `json:"anchor"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithDragSpeed overrides the drag rotation speed. Non-positive values are ignored.
func WithDragSpeed(speed float64) Option {
	return func(m *Machine) {
		if speed > 0 {
			m.dragSpeed = speed
		}
	}
}

// WithLogger sets the logger used for asset fallback and tracking messages.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// Machine is the presentation state for one viewer session.
type Machine struct {
	mu sync.Mutex

	scene  core.SceneDescriptor
	state  State
	base   Transform
	offset core.Vector3
	anchor core.Vector3
	asset  AssetState
	cursor *narrative.Cursor

	dragSpeed    float64
	dragging     bool
	lastX, lastY float64

	renderer    Renderer
	unsubscribe func()
	log         *slog.Logger
}

// NewMachine creates a machine in the Searching state showing d.
func NewMachine(d core.SceneDescriptor, opts ...Option) *Machine {
	m := &Machine{
		dragSpeed: DefaultDragSpeed,
		log:       slog.Default(),
		cursor:    narrative.NewCursor(""),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load(d)
	return m
}

// Load replaces the descriptor. Transform offsets, asset state and the
// narrative cursor start over; the marker state is kept since it comes from
// the engine.
func (m *Machine) Load(d core.SceneDescriptor) {
	m.mu.Lock()
	m.load(d)
	m.mu.Unlock()
	m.push()
}

func (m *Machine) load(d core.SceneDescriptor) {
	if d.ModelType == core.ModelCustom && d.ModelURL == "" {
		d.ModelURL = core.FallbackModelURL
	}
	m.scene = d
	m.base = Transform{
		Position: core.ParseVector(d.Position, 0),
		Rotation: core.ParseVector(d.Rotation, 0).DegToRad(),
		Scale:    core.ParseVector(d.Scale, 1),
	}
	m.anchor = TextAnchor(m.base.Position, m.base.Scale)
	m.offset = core.Vector3{}
	m.asset = AssetOK
	m.dragging = false
	m.cursor.Reset(d.Description)
}

// TextAnchor places the narrative card to the right of the object:
// (x + scaleX/2 + TextMargin, 0, z).
func TextAnchor(position, scale core.Vector3) core.Vector3 {
	return core.Vector3{position.X() + scale.X()/2 + TextMargin, 0, position.Z()}
}

// Scene returns the live descriptor, including any asset substitution.
func (m *Machine) Scene() core.SceneDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scene
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MarkerFound switches to Tracking. The transform is left alone.
func (m *Machine) MarkerFound() {
	m.mu.Lock()
	changed := m.state != Tracking
	m.state = Tracking
	name := m.scene.Name
	m.mu.Unlock()
	if changed {
		m.log.Debug("Marker found", "scene", name)
		m.push()
	}
}

// MarkerLost switches back to Searching.
func (m *Machine) MarkerLost() {
	m.mu.Lock()
	changed := m.state != Searching
	m.state = Searching
	name := m.scene.Name
	m.mu.Unlock()
	if changed {
		m.log.Debug("Marker lost", "scene", name)
		m.push()
	}
}

// Rotate adds direction*RotationStep to the live rotation around axis.
func (m *Machine) Rotate(axis Axis, direction int) error {
	if direction != 1 && direction != -1 {
		return fmt.Errorf("%w: %d", ErrInvalidDirection, direction)
	}
	m.mu.Lock()
	switch axis {
	case AxisX:
		m.offset[0] += float64(direction) * RotationStep
	case AxisY:
		m.offset[1] += float64(direction) * RotationStep
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidAxis, axis)
	}
	m.mu.Unlock()
	m.push()
	return nil
}

// RotationOffset is the accumulated manual and drag rotation in radians.
func (m *Machine) RotationOffset() core.Vector3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// PointerDown starts a drag at (x, y).
func (m *Machine) PointerDown(x, y float64) {
	m.mu.Lock()
	m.dragging = true
	m.lastX, m.lastY = x, y
	m.mu.Unlock()
}

// PointerMove rotates by the delta since the previous sample while a drag is
// active: dx turns yaw, dy turns pitch.
func (m *Machine) PointerMove(x, y float64) {
	m.mu.Lock()
	if !m.dragging {
		m.mu.Unlock()
		return
	}
	dx, dy := x-m.lastX, y-m.lastY
	m.offset[1] += dx * m.dragSpeed / 1000
	m.offset[0] += dy * m.dragSpeed / 1000
	m.lastX, m.lastY = x, y
	m.mu.Unlock()
	m.push()
}

// PointerUp ends the drag.
func (m *Machine) PointerUp() {
	m.mu.Lock()
	m.dragging = false
	m.mu.Unlock()
}

// AssetLoadFailed reacts to the engine failing to load url for a custom
// model. The first failure swaps in the built-in asset; a failing built-in
// asset ends in AssetMissing. Failures for other URLs are stale and ignored.
func (m *Machine) AssetLoadFailed(url string) {
	m.mu.Lock()
	if m.scene.ModelType != core.ModelCustom || m.asset == AssetMissing {
		m.mu.Unlock()
		return
	}
	if url != "" && url != m.scene.ModelURL {
		m.mu.Unlock()
		return
	}

	failed := m.scene.ModelURL
	if failed != core.FallbackModelURL {
		m.scene.ModelURL = core.FallbackModelURL
		m.asset = AssetFallback
		m.mu.Unlock()
		m.log.Warn("Custom model failed to load, using fallback asset", "url", failed, "fallback", core.FallbackModelURL)
	} else {
		m.asset = AssetMissing
		m.mu.Unlock()
		m.log.Error("Fallback asset failed to load, no model will be shown", "url", failed)
	}
	m.push()
}

func (m *Machine) AssetState() AssetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asset
}

// NextLine advances the narrative; false at the last line.
func (m *Machine) NextLine() bool {
	m.mu.Lock()
	moved := m.cursor.Next()
	m.mu.Unlock()
	if moved {
		m.push()
	}
	return moved
}

// PreviousLine steps the narrative back; false at the first line.
func (m *Machine) PreviousLine() bool {
	m.mu.Lock()
	moved := m.cursor.Previous()
	m.mu.Unlock()
	if moved {
		m.push()
	}
	return moved
}

// Lines returns the paginated narrative.
func (m *Machine) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor.Lines()
}

// Frame snapshots the current render values.
func (m *Machine) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame()
}

func (m *Machine) frame() Frame {
	status := StatusSearching
	if m.state == Tracking {
		status = StatusTracking
	}
	modelURL := m.scene.ModelURL
	if m.scene.ModelType != core.ModelCustom || m.asset == AssetMissing {
		modelURL = ""
	}
	return Frame{
		State:       m.state.String(),
		MarkerFound: m.state == Tracking,
		Status:      status,
		Transform: Transform{
			Position: m.base.Position,
			Rotation: m.base.Rotation.Add(m.offset),
			Scale:    m.base.Scale,
		},
		ModelType: m.scene.ModelType,
		ModelURL:  modelURL,
		Asset:     m.asset.String(),
		Title:     m.scene.Name,
		Line:      m.cursor.Current(),
		LineIndex: m.cursor.Index(),
		LineCount: m.cursor.Len(),
		LineLabel: m.cursor.Label(),
		Anchor:    m.anchor,
	}
}
