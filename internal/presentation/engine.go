package presentation

// PointerKind distinguishes pointer and touch samples.
type PointerKind int

const (
	PointerDown PointerKind = iota
	PointerMove
	PointerUp
)

// PointerEvent is one pointer or touch sample in screen coordinates.
type PointerEvent struct {
	Kind PointerKind
	X, Y float64
}

// Handlers is the set of callbacks a Machine registers with the engine.
type Handlers struct {
	OnMarkerFound    func()
	OnMarkerLost     func()
	OnPointer        func(PointerEvent)
	OnAssetLoadError func(url string)
}

// Engine is the render collaborator that raises tracking and input events.
type Engine interface {
	Subscribe(h Handlers) (unsubscribe func())
}

// Renderer is implemented by engines that want frames pushed to them.
type Renderer interface {
	Render(Frame)
}

// Attach subscribes the machine to e, replacing any previous subscription.
// If e implements Renderer it receives the current frame immediately.
func (m *Machine) Attach(e Engine) {
	m.Detach()

	unsubscribe := e.Subscribe(Handlers{
		OnMarkerFound:    m.MarkerFound,
		OnMarkerLost:     m.MarkerLost,
		OnPointer:        m.HandlePointer,
		OnAssetLoadError: m.AssetLoadFailed,
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	if r, ok := e.(Renderer); ok {
		m.renderer = r
	}
	m.mu.Unlock()
	m.push()
}

// Detach drops the engine subscription. Safe to call more than once.
func (m *Machine) Detach() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.renderer = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// HandlePointer routes a pointer sample to the drag handlers.
func (m *Machine) HandlePointer(e PointerEvent) {
	switch e.Kind {
	case PointerDown:
		m.PointerDown(e.X, e.Y)
	case PointerMove:
		m.PointerMove(e.X, e.Y)
	case PointerUp:
		m.PointerUp()
	}
}

func (m *Machine) push() {
	m.mu.Lock()
	r := m.renderer
	var f Frame
	if r != nil {
		f = m.frame()
	}
	m.mu.Unlock()

	if r != nil {
		r.Render(f)
	}
}
