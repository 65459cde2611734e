// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// ErrNoRun is returned when data arrives before StartRun.
var ErrNoRun = errors.New("no run in progress")

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Vehicle core.VehicleInfo
	Samples []core.VehicleSample
	Events  []core.RecoveryEvent
}

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg    config.MemoryConfig
	logger *slog.Logger
	run    *core.Run

	vehicles map[uint16]*VehicleRecord // keyed by vehicle id

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		cfg:      cfg,
		logger:   logger,
		vehicles: make(map[uint16]*VehicleRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.vehicles = make(map[uint16]*VehicleRecord)
	b.lastExportPath = ""
	return nil
}

// EndRun finalizes and exports the run data
func (b *Backend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	if err := b.exportJSON(); err != nil {
		return err
	}
	b.logger.Info("Run exported", "path", b.lastExportPath, "vehicles", len(b.vehicles))
	b.run = nil
	return nil
}

// AddVehicle registers a vehicle. Registering the same id again replaces its
// description and keeps the recorded data.
func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	if record, ok := b.vehicles[v.ID]; ok {
		record.Vehicle = *v
		return nil
	}
	b.vehicles[v.ID] = &VehicleRecord{
		Vehicle: *v,
		Samples: make([]core.VehicleSample, 0),
	}
	return nil
}

// record returns the record for id, creating a placeholder for vehicles that
// were never registered.
func (b *Backend) record(id uint16) *VehicleRecord {
	record, ok := b.vehicles[id]
	if !ok {
		record = &VehicleRecord{Vehicle: core.VehicleInfo{ID: id}}
		b.vehicles[id] = record
	}
	return record
}

// RecordVehicleSample appends a telemetry sample
func (b *Backend) RecordVehicleSample(s *core.VehicleSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	record := b.record(s.VehicleID)
	record.Samples = append(record.Samples, *s)
	return nil
}

// RecordRecoveryEvent appends a recovery event
func (b *Backend) RecordRecoveryEvent(e *core.RecoveryEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	record := b.record(e.VehicleID)
	record.Events = append(record.Events, *e)
	return nil
}

// GetExportedFilePath returns the path of the last export, empty before the first EndRun.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// Vehicle returns a copy of the record for id.
func (b *Backend) Vehicle(id uint16) (VehicleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.vehicles[id]
	if !ok {
		return VehicleRecord{}, false
	}
	out := VehicleRecord{
		Vehicle: record.Vehicle,
		Samples: append([]core.VehicleSample(nil), record.Samples...),
		Events:  append([]core.RecoveryEvent(nil), record.Events...),
	}
	return out, true
}
