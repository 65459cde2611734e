package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/session"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// Recording commands. The vehicle layer produces the payload-carrying ones in process.
const (
	CmdRunStart       = ":RUN:START:"
	CmdRunEnd         = ":RUN:END:"
	CmdRecordVehicle  = ":RECORD:VEHICLE:"
	CmdRecordSample   = ":RECORD:SAMPLE:"
	CmdRecordRecovery = ":RECORD:RECOVERY:"
)

// RegisterHandlers registers all recording handlers with the dispatcher and keeps
// the dispatcher for the Recorder and EndRun.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) *Recorder {
	// Run lifecycle - sync (the host waits for the run id / export path)
	d.Register(CmdRunStart, m.handleRunStart, dispatcher.Logged())
	d.Register(CmdRunEnd, func(e dispatcher.Event) (any, error) {
		return m.handleRunEnd(d, e)
	}, dispatcher.Logged())

	// Registration - sync (must land before samples arrive)
	d.Register(CmdRecordVehicle, m.handleRecordVehicle)

	// High-volume telemetry - buffered
	d.Register(CmdRecordSample, m.handleRecordSample, dispatcher.Buffered(10000))
	d.Register(CmdRecordRecovery, m.handleRecordRecovery, dispatcher.Buffered(1000), dispatcher.Blocking(), dispatcher.Logged())

	return &Recorder{d: d, session: m.deps.Session}
}

// handleRunStart accepts either host args [name, timestep, substeps, origin?] or a *core.Run payload.
func (m *Manager) handleRunStart(e dispatcher.Event) (any, error) {
	var run *core.Run
	switch p := e.Payload.(type) {
	case *core.Run:
		run = p
	case nil:
		parsed, err := m.deps.Parser.ParseRun(e.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run: %w", err)
		}
		run = &parsed
	default:
		return nil, fmt.Errorf("unexpected run payload %T", e.Payload)
	}

	if err := m.deps.Session.Start(run); err != nil {
		return nil, err
	}
	m.resetRegistered()

	if m.hasBackend() {
		if err := m.backend.StartRun(run); err != nil {
			// leave no half-started run behind
			_, _ = m.deps.Session.End()
			return nil, fmt.Errorf("failed to start run in storage: %w", err)
		}
	}

	// vehicles created before the run are part of it
	if m.deps.Vehicles != nil {
		for _, v := range m.deps.Vehicles.All() {
			info := v.Info()
			if err := m.registerVehicle(&info); err != nil {
				m.deps.Logger.Warn("Failed to register vehicle with run", "vehicle", info.ID, "error", err)
			}
		}
	}

	m.deps.Logger.Info("Run started", "run", run.UUID, "name", run.Name)
	return run.UUID, nil
}

func (m *Manager) handleRunEnd(d *dispatcher.Dispatcher, _ dispatcher.Event) (any, error) {
	if !m.deps.Session.Active() {
		return nil, fmt.Errorf("failed to end run: %w", session.ErrNoRun)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.DrainTimeout)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		m.deps.Logger.Warn("Ending run with undrained samples", "error", err)
	}

	run, err := m.deps.Session.End()
	if err != nil {
		return nil, err
	}
	m.resetRegistered()

	if m.hasBackend() {
		if err := m.backend.EndRun(); err != nil {
			return nil, fmt.Errorf("failed to end run in storage: %w", err)
		}
	}

	m.deps.Logger.Info("Run ended", "run", run.UUID, "export", m.ExportedFilePath())
	if m.deps.OnRunEnd != nil {
		m.deps.OnRunEnd(run)
	}
	return m.ExportedFilePath(), nil
}

func (m *Manager) handleRecordVehicle(e dispatcher.Event) (any, error) {
	info, ok := e.Payload.(core.VehicleInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected vehicle payload %T", e.Payload)
	}
	if !m.deps.Session.Active() {
		return nil, nil
	}
	return nil, m.registerVehicle(&info)
}

func (m *Manager) registerVehicle(info *core.VehicleInfo) error {
	if info.JoinTime.IsZero() {
		info.JoinTime = time.Now()
	}
	if m.hasBackend() {
		if err := m.backend.AddVehicle(info); err != nil {
			return fmt.Errorf("failed to add vehicle %d: %w", info.ID, err)
		}
	}
	m.setRegistered(info.ID)
	return nil
}

func (m *Manager) handleRecordSample(e dispatcher.Event) (any, error) {
	s, ok := e.Payload.(core.VehicleSample)
	if !ok {
		return nil, fmt.Errorf("unexpected sample payload %T", e.Payload)
	}
	if !m.deps.Session.Active() {
		return nil, nil
	}
	if !m.isRegistered(s.VehicleID) {
		return nil, fmt.Errorf("sample for vehicle %d: %w", s.VehicleID, ErrTooEarlyForStateAssociation)
	}

	if m.deps.Telemetry != nil {
		m.deps.Telemetry.WriteSample(s)
	}
	if m.hasBackend() {
		if err := m.backend.RecordVehicleSample(&s); err != nil {
			return nil, fmt.Errorf("failed to record sample: %w", err)
		}
	}
	return nil, nil
}

func (m *Manager) handleRecordRecovery(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.RecoveryEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected recovery payload %T", e.Payload)
	}
	if !m.deps.Session.Active() {
		return nil, nil
	}

	if m.deps.Telemetry != nil {
		m.deps.Telemetry.WriteRecovery(ev)
	}
	if m.hasBackend() {
		if err := m.backend.RecordRecoveryEvent(&ev); err != nil {
			return nil, fmt.Errorf("failed to record recovery event: %w", err)
		}
	}
	return nil, nil
}
