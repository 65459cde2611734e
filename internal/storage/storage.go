// internal/storage/storage.go
package storage

import "github.com/nowa-engine/raycastvehicle/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun() error

	// Vehicle registration
	AddVehicle(v *core.VehicleInfo) error

	// Telemetry recording
	RecordVehicleSample(s *core.VehicleSample) error
	RecordRecoveryEvent(e *core.RecoveryEvent) error
}

// Exporter is an optional interface for storage backends that produce a file
// at the end of a run.
type Exporter interface {
	GetExportedFilePath() string
}

// QueueReporter is an optional interface for backends that buffer writes.
type QueueReporter interface {
	QueueLengths() map[string]int
}
