package worker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/cache"
	"github.com/nowa-engine/raycastvehicle/internal/parser"
	"github.com/nowa-engine/raycastvehicle/internal/session"
	"github.com/nowa-engine/raycastvehicle/internal/storage"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// ErrTooEarlyForStateAssociation is returned when a sample arrives before its vehicle is registered
var ErrTooEarlyForStateAssociation = errors.New("too early for state association")

// TelemetrySink receives a copy of every recorded sample and event, in addition to storage.
type TelemetrySink interface {
	WriteSample(s core.VehicleSample)
	WriteRecovery(e core.RecoveryEvent)
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Session  *session.Context
	Vehicles *cache.VehicleCache
	Parser   *parser.Parser
	Logger   *slog.Logger
	// Telemetry is optional
	Telemetry TelemetrySink
	// DrainTimeout bounds how long EndRun waits for buffered samples.
	DrainTimeout time.Duration
	// OnRunEnd is optional and runs after storage has closed the run.
	OnRunEnd func(run *core.Run)
}

// Manager turns recording commands into storage backend calls.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	// vehicles registered with the backend for the active run
	mu         sync.Mutex
	registered map[uint16]bool
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger)
	}
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = 10 * time.Second
	}
	return &Manager{
		deps:       deps,
		backend:    backend,
		registered: make(map[uint16]bool),
	}
}

func (m *Manager) hasBackend() bool {
	return m.backend != nil
}

// WriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type WriteDurationProvider interface {
	LastWriteDuration() time.Duration
}

// LastWriteDuration returns the duration of the last backend write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) LastWriteDuration() time.Duration {
	if p, ok := m.backend.(WriteDurationProvider); ok {
		return p.LastWriteDuration()
	}
	return 0
}

// QueueLengths returns the backend's pending writes, or nil when it does not buffer.
func (m *Manager) QueueLengths() map[string]int {
	if q, ok := m.backend.(storage.QueueReporter); ok {
		return q.QueueLengths()
	}
	return nil
}

// ExportedFilePath returns the file the backend wrote for the last run, if any.
func (m *Manager) ExportedFilePath() string {
	if e, ok := m.backend.(storage.Exporter); ok {
		return e.GetExportedFilePath()
	}
	return ""
}

func (m *Manager) isRegistered(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered[id]
}

func (m *Manager) setRegistered(id uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[id] = true
}

func (m *Manager) resetRegistered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = make(map[uint16]bool)
}
