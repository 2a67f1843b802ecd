package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// SlogManager owns the process logger. Records go to the log file when one is
// given and to stdout otherwise, plus any extra sinks such as Graylog.
type SlogManager struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	closers []io.Closer
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Setup replaces the current logger. Calling it again detaches the previous
// file and sinks.
func (m *SlogManager) Setup(file io.Writer, level string, sinks ...slog.Handler) {
	opts := handlerOptions(level)

	primary := stdout
	if file != nil {
		primary = file
	}
	handlers := append([]slog.Handler{slog.NewTextHandler(primary, opts)}, sinks...)

	m.mu.Lock()
	m.logger = slog.New(NewFanout(handlers...))
	logger := m.logger
	m.mu.Unlock()

	logger.Info("Logging initialized", "level", opts.Level.Level().String())
}

// AddGraylog opens a GELF writer at addr and returns a JSON handler over it,
// to be passed to Setup. The UDP writer is closed by Close.
func (m *SlogManager) AddGraylog(addr, level string) (slog.Handler, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("graylog writer %s: %w", addr, err)
	}
	m.mu.Lock()
	m.closers = append(m.closers, w)
	m.mu.Unlock()
	return slog.NewJSONHandler(w, handlerOptions(level)), nil
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Close releases network sinks.
func (m *SlogManager) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WriteLog logs data at the named level, tagged with the calling function.
func (m *SlogManager) WriteLog(functionName, data, level string) {
	m.mu.RLock()
	logger := m.logger
	m.mu.RUnlock()
	if logger == nil {
		return
	}

	switch parseLevel(level) {
	case slog.LevelDebug:
		logger.Debug(data, "function", functionName)
	case slog.LevelWarn:
		logger.Warn(data, "function", functionName)
	case slog.LevelError:
		logger.Error(data, "function", functionName)
	default:
		logger.Info(data, "function", functionName)
	}
}
