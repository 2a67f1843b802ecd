// Package autosave writes collection snapshots to the bound external file in
// the background. Only the newest pending snapshot is written; older ones are
// superseded while a write is in flight.
package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/scenelink/scenelink/internal/autosave"

// Target is where a snapshot is written.
type Target interface {
	Write(data []byte) error
	Name() string
}

// Failure describes a write that did not reach its target.
type Failure struct {
	Target string
	Err    error
}

func (f Failure) Error() string { return fmt.Sprintf("autosave %s: %v", f.Target, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

// Option configures a Writer.
type Option func(*Writer)

// OnError registers a callback invoked from the writer goroutine after a
// failed write.
func OnError(fn func(Failure)) Option {
	return func(w *Writer) { w.onError = fn }
}

// WithLogger sets the logger for write outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

type job struct {
	target Target
	data   []byte
}

// Writer is a single-goroutine coalescing writer.
type Writer struct {
	onError func(Failure)
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *job
	busy    bool
	closed  bool
	stopped chan struct{}

	written   metric.Int64Counter
	failed    metric.Int64Counter
	coalesced metric.Int64Counter
}

// New starts the writer goroutine. Metrics go to the global OTel meter.
func New(opts ...Option) (*Writer, error) {
	w := &Writer{
		logger:  slog.Default(),
		stopped: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}

	m := otel.Meter(instrumentationName)
	var err error
	w.written, err = m.Int64Counter("autosave.writes",
		metric.WithDescription("Snapshots written to the external file"))
	if err != nil {
		return nil, fmt.Errorf("creating writes counter: %w", err)
	}
	w.failed, err = m.Int64Counter("autosave.failures",
		metric.WithDescription("Snapshot writes that failed"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	w.coalesced, err = m.Int64Counter("autosave.coalesced",
		metric.WithDescription("Pending snapshots superseded before being written"))
	if err != nil {
		return nil, fmt.Errorf("creating coalesced counter: %w", err)
	}

	go w.run()
	return w, nil
}

// Submit queues data for target and returns immediately. It reports false
// once the writer is closed.
func (w *Writer) Submit(target Target, data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if w.pending != nil {
		w.coalesced.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("target", w.pending.target.Name())))
	}
	w.pending = &job{target: target, data: data}
	w.cond.Broadcast()
	return true
}

// Wait blocks until nothing is pending or in flight.
func (w *Writer) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending != nil || w.busy {
		w.cond.Wait()
	}
}

// Close writes whatever is pending, then stops the goroutine. Safe to call
// more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.stopped
}

func (w *Writer) run() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		for w.pending == nil && !w.closed {
			w.cond.Wait()
		}
		if w.pending == nil {
			w.mu.Unlock()
			return
		}
		j := w.pending
		w.pending = nil
		w.busy = true
		w.mu.Unlock()

		w.write(j)

		w.mu.Lock()
		w.busy = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *Writer) write(j *job) {
	name := j.target.Name()
	attrs := metric.WithAttributes(attribute.String("target", name))

	if err := j.target.Write(j.data); err != nil {
		w.failed.Add(context.Background(), 1, attrs)
		w.logger.Error("Autosave failed", "target", name, "error", err)
		if w.onError != nil {
			w.onError(Failure{Target: name, Err: err})
		}
		return
	}
	w.written.Add(context.Background(), 1, attrs)
	w.logger.Debug("Autosaved", "target", name, "bytes", len(j.data))
}
