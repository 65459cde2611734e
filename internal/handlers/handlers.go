// Package handlers implements the host commands that create, drive and inspect vehicles.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/cache"
	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/parser"
	"github.com/nowa-engine/raycastvehicle/internal/util"
	"github.com/nowa-engine/raycastvehicle/internal/vehicle"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownVehicle   = errors.New("unknown vehicle")
	ErrDuplicateVehicle = errors.New("vehicle id already in use")
)

// Engine is the physics engine the host runs vehicles in. sandbox.World implements it.
type Engine interface {
	physics.World
	AddDynamicBox(pose core.Pose, halfExtents mgl64.Vec3, props physics.MassProperties) (core.BodyHandle, error)
	RemoveBody(h core.BodyHandle) error
	AddListener(l physics.SubstepListener)
	RemoveListener(l physics.SubstepListener)
	Step(dt float64)
}

// Recorder receives telemetry from vehicles and learns about new or changed vehicles.
type Recorder interface {
	vehicle.Recorder
	RegisterVehicle(info core.VehicleInfo) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Engine   Engine
	Vehicles *cache.VehicleCache
	Parser   *parser.Parser
	Tuning   vehicle.Tuning
	Logger   *slog.Logger
	// Sampled is used for per-substep warnings.
	Sampled zerolog.Logger
	// Optional
	Recorder       Recorder
	PoseSink       vehicle.PoseSink
	SampleInterval uint
}

// Service provides handler methods for host commands. Every call that touches the
// engine holds mu, so host commands and stepping never overlap.
type Service struct {
	deps Dependencies
	mu   sync.Mutex
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Vehicles == nil {
		deps.Vehicles = cache.NewVehicleCache()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger)
	}
	return &Service{deps: deps}
}

// Vehicles returns the registry the service creates vehicles in.
func (s *Service) Vehicles() *cache.VehicleCache {
	return s.deps.Vehicles
}

// RegisterHandlers registers every vehicle command with the dispatcher.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Lifecycle - sync, the host needs the result
	d.Register(":VEHICLE:CREATE:", s.args(s.CreateVehicle), dispatcher.Logged())
	d.Register(":VEHICLE:REMOVE:", s.args(s.RemoveVehicle), dispatcher.Logged())
	d.Register(":VEHICLE:WHEEL:ADD:", s.args(s.AddWheel), dispatcher.Logged())
	d.Register(":VEHICLE:WHEEL:REMOVE:", s.args(s.RemoveWheel), dispatcher.Logged())

	// Control - sync, applied before the next step
	d.Register(":VEHICLE:INPUT:", s.args(s.SetInput))
	d.Register(":VEHICLE:CANDRIVE:", s.args(s.SetCanDrive), dispatcher.Logged())
	d.Register(":VEHICLE:WHEELIE:", s.args(s.Wheelie), dispatcher.Logged())
	d.Register(":VEHICLE:DRIFT:", s.args(s.Drift), dispatcher.Logged())
	d.Register(":VEHICLE:RECOVERY:RESET:", s.args(s.ResetRecovery), dispatcher.Logged())

	// Queries
	d.Register(":VEHICLE:FORCE:", s.args(s.NetForce))
	d.Register(":VEHICLE:STATUS:", s.args(s.Status))

	d.Register(":SIM:STEP:", s.args(s.Step))
}

func (s *Service) args(fn func([]string) (any, error)) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		return fn(e.Args)
	}
}

func (s *Service) vehicle(id uint16) (*vehicle.Vehicle, error) {
	v, ok := s.deps.Vehicles.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVehicle, id)
	}
	return v, nil
}

func (s *Service) register(v *vehicle.Vehicle) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.RegisterVehicle(v.Info()); err != nil {
		s.deps.Logger.Warn("Failed to register vehicle with recorder", "vehicle", v.ID(), "error", err)
	}
}

// CreateVehicle adds a box chassis to the engine and a vehicle on top of it. Returns the id.
func (s *Service) CreateVehicle(data []string) (any, error) {
	spec, err := s.deps.Parser.ParseVehicle(data)
	if err != nil {
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deps.Vehicles.Get(spec.ID); ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateVehicle, spec.ID)
	}

	props := physics.BoxMass(spec.Mass, spec.HalfExtents)
	chassis, err := s.deps.Engine.AddDynamicBox(spec.Pose, spec.HalfExtents, props)
	if err != nil {
		return nil, fmt.Errorf("failed to add chassis: %w", err)
	}

	opts := []vehicle.Option{
		vehicle.WithID(spec.ID),
		vehicle.WithName(spec.Name),
		vehicle.WithLogger(s.deps.Logger),
		vehicle.WithSampledLogger(s.deps.Sampled),
		vehicle.WithSampleInterval(s.deps.SampleInterval),
	}
	if s.deps.Recorder != nil {
		opts = append(opts, vehicle.WithRecorder(s.deps.Recorder))
	}
	if s.deps.PoseSink != nil {
		opts = append(opts, vehicle.WithPoseSink(s.deps.PoseSink))
	}
	if spec.HasCOM {
		opts = append(opts, vehicle.WithCenterOfMass(spec.CenterOfMass))
	}

	v, err := vehicle.New(s.deps.Engine, chassis, s.deps.Tuning, opts...)
	if err != nil {
		_ = s.deps.Engine.RemoveBody(chassis)
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}

	s.deps.Vehicles.Add(v)
	s.deps.Engine.AddListener(v)
	s.register(v)

	s.deps.Logger.Info("Vehicle created", "id", spec.ID, "name", spec.Name, "mass", spec.Mass)
	return spec.ID, nil
}

// RemoveVehicle detaches a vehicle from the engine and deletes its chassis.
func (s *Service) RemoveVehicle(data []string) (any, error) {
	id, err := s.deps.Parser.ParseVehicleID(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.deps.Vehicles.Remove(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVehicle, id)
	}
	s.deps.Engine.RemoveListener(v)
	v.RemoveAllWheels()
	if err := s.deps.Engine.RemoveBody(v.Chassis()); err != nil {
		s.deps.Logger.Warn("Failed to remove chassis body", "vehicle", id, "error", err)
	}
	return nil, nil
}

// AddWheel attaches a wheel and returns its handle.
func (s *Service) AddWheel(data []string) (any, error) {
	spec, err := s.deps.Parser.ParseWheel(data)
	if err != nil {
		return nil, fmt.Errorf("failed to add wheel: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(spec.VehicleID)
	if err != nil {
		return nil, err
	}
	h, err := v.AddWheel(spec.Tire, spec.Mount, core.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to add wheel: %w", err)
	}
	s.register(v)
	return uint32(h), nil
}

// RemoveWheel detaches one wheel.
func (s *Service) RemoveWheel(data []string) (any, error) {
	id, h, err := s.deps.Parser.ParseWheelHandle(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	if !v.RemoveWheel(h) {
		return nil, fmt.Errorf("%w: %d", vehicle.ErrUnknownWheel, h)
	}
	s.register(v)
	return nil, nil
}

// SetInput latches driver input for the next substep.
func (s *Service) SetInput(data []string) (any, error) {
	cmd, err := s.deps.Parser.ParseDriverInput(data)
	if err != nil {
		return nil, err
	}
	v, err := s.vehicle(cmd.VehicleID)
	if err != nil {
		return nil, err
	}
	v.SetDriverInput(cmd.Input)
	return nil, nil
}

// SetCanDrive switches a vehicle's substep on or off.
func (s *Service) SetCanDrive(data []string) (any, error) {
	id, on, err := s.deps.Parser.ParseToggle(data)
	if err != nil {
		return nil, err
	}
	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	v.SetCanDrive(on)
	return nil, nil
}

// Wheelie applies a nose-up impulse. Returns whether it was applied.
func (s *Service) Wheelie(data []string) (any, error) {
	id, strength, _, err := s.deps.Parser.ParseStrength(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	return v.ApplyWheelie(strength), nil
}

// Drift applies a yaw impulse; args are [id, strength, direction?] with direction
// +1 (right, default) or -1 (left).
func (s *Service) Drift(data []string) (any, error) {
	id, strength, extra, err := s.deps.Parser.ParseStrength(data)
	if err != nil {
		return nil, err
	}
	dir := 1.0
	if len(extra) > 0 {
		if dir, err = strconv.ParseFloat(extra[0], 64); err != nil {
			return nil, fmt.Errorf("error converting drift direction: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	return v.ApplyDrift(dir, strength), nil
}

// ResetRecovery cancels any rescue in progress and clears the recovery timers.
func (s *Service) ResetRecovery(data []string) (any, error) {
	id, err := s.deps.Parser.ParseVehicleID(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	v.ResetRecovery()
	return nil, nil
}

// NetForce returns the force applied to the chassis in the last substep as "[x,y,z]".
func (s *Service) NetForce(data []string) (any, error) {
	id, err := s.deps.Parser.ParseVehicleID(data)
	if err != nil {
		return nil, err
	}
	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}
	f := v.NetAppliedForce()
	return formatVec(f), nil
}

// WheelStatus is the per-wheel part of Status.
type WheelStatus struct {
	Handle      uint32  `json:"handle"`
	Contact     bool    `json:"contact"`
	Compression float64 `json:"compression"`
	Load        float64 `json:"load"`
	SpinAngle   float64 `json:"spinAngle"`
	SteerAngle  float64 `json:"steerAngle"`
}

// VehicleStatus is the JSON answer to :VEHICLE:STATUS:.
type VehicleStatus struct {
	ID       uint16             `json:"id"`
	Name     string             `json:"name"`
	CanDrive bool               `json:"canDrive"`
	Contacts int                `json:"contacts"`
	NetForce mgl64.Vec3         `json:"netForce"`
	Input    core.DriverInput   `json:"input"`
	Recovery core.RecoveryState `json:"recovery"`
	Wheels   []WheelStatus      `json:"wheels"`
}

// Status returns a JSON snapshot of a vehicle.
func (s *Service) Status(data []string) (any, error) {
	id, err := s.deps.Parser.ParseVehicleID(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.vehicle(id)
	if err != nil {
		return nil, err
	}

	st := VehicleStatus{
		ID:       v.ID(),
		Name:     v.Name(),
		CanDrive: v.CanDrive(),
		Contacts: v.Contacts(),
		NetForce: v.NetAppliedForce(),
		Input:    v.DriverInput(),
		Recovery: v.RecoveryState(),
	}
	for _, w := range v.Info().Wheels {
		ws, err := v.WheelState(w.Handle)
		if err != nil {
			continue
		}
		st.Wheels = append(st.Wheels, WheelStatus{
			Handle:      uint32(w.Handle),
			Contact:     ws.Contact,
			Compression: ws.Compression,
			Load:        ws.Load,
			SpinAngle:   ws.SpinAngle,
			SteerAngle:  ws.SteerAngle,
		})
	}

	out, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(out), nil
}

// Step advances the engine by dt seconds.
func (s *Service) Step(data []string) (any, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: step needs a dt", parser.ErrMissingArgs)
	}
	dt, err := strconv.ParseFloat(util.TrimQuotes(data[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("error converting dt: %w", err)
	}
	if dt <= 0 || dt > 1 {
		return nil, fmt.Errorf("dt must be in (0, 1], got %v", dt)
	}
	s.StepFor(dt)
	return nil, nil
}

// StepFor advances the engine by dt while holding the engine lock.
func (s *Service) StepFor(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.Engine.Step(dt)
}

func formatVec(v mgl64.Vec3) string {
	return fmt.Sprintf("[%s,%s,%s]",
		strconv.FormatFloat(v.X(), 'f', -1, 64),
		strconv.FormatFloat(v.Y(), 'f', -1, 64),
		strconv.FormatFloat(v.Z(), 'f', -1, 64))
}
