// Package vehicle runs a raycast vehicle inside the physics engine's substep loop.
// Each substep it probes every wheel, applies friction and drive forces to the
// chassis, and lets the recovery monitor override the driver when the car is stuck.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/drive"
	"github.com/nowa-engine/raycastvehicle/internal/friction"
	"github.com/nowa-engine/raycastvehicle/internal/recovery"
	"github.com/nowa-engine/raycastvehicle/internal/suspension"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrInvalidChassis = errors.New("invalid chassis body")
	ErrInvalidMount   = errors.New("invalid wheel mount pose")
	ErrTooManyWheels  = errors.New("too many wheels")
	ErrUnknownWheel   = errors.New("unknown wheel")
)

type wheel struct {
	handle  core.WheelHandle
	body    core.BodyHandle
	probe   *suspension.Probe
	targets drive.Targets
	// brake is the signed braking row applied this substep; the motor gets what is left.
	brake   float64
	skipped bool
}

// Vehicle is a chassis body with any number of raycast wheels. It implements
// physics.SubstepListener; register it with the engine to run it.
type Vehicle struct {
	id      uint16
	name    string
	world   physics.World
	chassis core.BodyHandle
	mass    float64
	tuning  Tuning

	drive    *drive.Controller
	friction *friction.Model
	monitor  *recovery.Monitor

	logger      *slog.Logger
	sampled     zerolog.Logger
	sink        PoseSink
	recorder    Recorder
	sampleEvery uint
	onContact   ContactFunc
	comOffset   mgl64.Vec3
	hasCOM      bool
	metrics     instruments

	canDrive atomic.Bool

	inputMu sync.Mutex
	input   core.DriverInput

	mu         sync.Mutex
	wheels     []*wheel
	nextHandle core.WheelHandle
	massReady  bool
	netForce   mgl64.Vec3
	contacts   int
	override   bool
	wiggle     float64
	simTime    float64
	frame      uint
}

// New creates a vehicle on an existing dynamic chassis body. The vehicle starts
// with no wheels and driving enabled.
func New(world physics.World, chassis core.BodyHandle, tuning Tuning, opts ...Option) (*Vehicle, error) {
	if world == nil {
		return nil, fmt.Errorf("%w: no world", ErrInvalidChassis)
	}
	props, ok := world.BodyMassMatrix(chassis)
	if !chassis.Valid() || !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrInvalidChassis, chassis)
	}
	if !props.Dynamic() {
		return nil, fmt.Errorf("%w: body %d is not dynamic", ErrInvalidChassis, chassis)
	}

	v := &Vehicle{
		world:       world,
		chassis:     chassis,
		mass:        props.Mass,
		tuning:      tuning,
		drive:       drive.New(tuning.Drive),
		friction:    friction.New(tuning.Friction),
		monitor:     recovery.New(tuning.Recovery),
		logger:      slog.New(slog.DiscardHandler),
		sampled:     zerolog.Nop(),
		sampleEvery: 1,
		nextHandle:  1,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.canDrive.Store(true)

	var err error
	if v.metrics, err = newInstruments(); err != nil {
		return nil, err
	}

	v.logger.Debug("Vehicle created", "id", v.id, "name", v.name, "chassis", chassis, "mass", props.Mass)
	return v, nil
}

// ID returns the vehicle id.
func (v *Vehicle) ID() uint16 { return v.id }

// Name returns the display name.
func (v *Vehicle) Name() string { return v.name }

// Chassis returns the chassis body handle.
func (v *Vehicle) Chassis() core.BodyHandle { return v.chassis }

// AddWheel attaches a wheel at mount (chassis-local). body is the wheel's own
// collision proxy, if it has one, and is excluded from every wheel's cast.
func (v *Vehicle) AddWheel(tire core.TireConfiguration, mount core.Pose, body core.BodyHandle) (core.WheelHandle, error) {
	if err := tire.Validate(); err != nil {
		return 0, err
	}
	if !mount.Valid() {
		return 0, ErrInvalidMount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if limit := v.tuning.Vehicle.MaxWheels; limit > 0 && len(v.wheels) >= limit {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyWheels, limit)
	}

	w := &wheel{
		handle: v.nextHandle,
		body:   body,
		probe:  suspension.New(v.world, v.chassis, tire, mount, v.tuning.Suspension),
	}
	v.nextHandle++
	v.wheels = append(v.wheels, w)
	v.refreshExclusions()

	v.logger.Info("Wheel added", "vehicle", v.id, "wheel", w.handle, "steered", tire.Steered(), "driven", tire.Driven())
	return w.handle, nil
}

// RemoveWheel detaches a wheel. It reports false if the handle is unknown.
func (v *Vehicle) RemoveWheel(h core.WheelHandle) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, w := range v.wheels {
		if w.handle == h {
			v.wheels = append(v.wheels[:i], v.wheels[i+1:]...)
			v.refreshExclusions()
			v.logger.Info("Wheel removed", "vehicle", v.id, "wheel", h)
			return true
		}
	}
	return false
}

// RemoveAllWheels detaches every wheel.
func (v *Vehicle) RemoveAllWheels() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wheels = nil
	v.logger.Info("All wheels removed", "vehicle", v.id)
}

func (v *Vehicle) refreshExclusions() {
	bodies := make([]core.BodyHandle, 0, len(v.wheels))
	for _, w := range v.wheels {
		bodies = append(bodies, w.body)
	}
	for _, w := range v.wheels {
		w.probe.SetExclusions(bodies)
	}
}

// WheelCount returns the number of attached wheels.
func (v *Vehicle) WheelCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.wheels)
}

// WheelState returns the last suspension state of one wheel.
func (v *Vehicle) WheelState(h core.WheelHandle) (core.SuspensionState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, w := range v.wheels {
		if w.handle == h {
			return w.probe.State(), nil
		}
	}
	return core.SuspensionState{}, fmt.Errorf("%w: %d", ErrUnknownWheel, h)
}

// WheelStates returns the last suspension state of every wheel.
func (v *Vehicle) WheelStates() map[core.WheelHandle]core.SuspensionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[core.WheelHandle]core.SuspensionState, len(v.wheels))
	for _, w := range v.wheels {
		out[w.handle] = w.probe.State()
	}
	return out
}

// Info describes the vehicle for recorders.
func (v *Vehicle) Info() core.VehicleInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	info := core.VehicleInfo{ID: v.id, Name: v.name, Mass: v.mass, JoinFrame: v.frame, JoinTime: time.Now()}
	for _, w := range v.wheels {
		info.Wheels = append(info.Wheels, core.WheelInfo{Handle: w.handle, Mount: w.probe.Mount(), Tire: w.probe.Tire()})
	}
	return info
}

// SetCanDrive enables or disables the whole substep.
func (v *Vehicle) SetCanDrive(on bool) {
	v.canDrive.Store(on)
}

// CanDrive reports whether the substep runs.
func (v *Vehicle) CanDrive() bool {
	return v.canDrive.Load()
}

// SetDriverInput latches driver input for the next substep. Values are clamped.
func (v *Vehicle) SetDriverInput(in core.DriverInput) {
	v.inputMu.Lock()
	v.input = in.Clamped()
	v.inputMu.Unlock()
}

// DriverInput returns the latched input.
func (v *Vehicle) DriverInput() core.DriverInput {
	v.inputMu.Lock()
	defer v.inputMu.Unlock()
	return v.input
}

// NetAppliedForce is the sum of every force the vehicle applied to its chassis in
// the last substep.
func (v *Vehicle) NetAppliedForce() mgl64.Vec3 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.netForce
}

// Contacts is the number of wheels that touched something in the last substep.
func (v *Vehicle) Contacts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.contacts
}

// RecoveryState returns the recovery monitor's timers.
func (v *Vehicle) RecoveryState() core.RecoveryState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.monitor.State()
}

// ResetRecovery returns the recovery monitor to idle.
func (v *Vehicle) ResetRecovery() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.monitor.Reset()
	v.override, v.wiggle = false, 0
}

// OnPreSubstep runs the vehicle for one substep of length dt.
func (v *Vehicle) OnPreSubstep(dt float64) {
	if !v.canDrive.Load() || dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ctx := context.Background()

	pose, poseOK := v.world.BodyPose(v.chassis)
	linear, _, velOK := v.world.BodyVelocity(v.chassis)
	mass, massOK := v.world.BodyMassMatrix(v.chassis)
	if !poseOK || !velOK || !massOK || !pose.Valid() || !mass.Dynamic() {
		v.sampled.Warn().Uint16("vehicle", v.id).Uint32("chassis", uint32(v.chassis)).Msg("chassis unavailable, substep skipped")
		v.metrics.probeSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "chassis")))
		return
	}
	if !v.massReady {
		v.initMass()
		if props, ok := v.world.BodyMassMatrix(v.chassis); ok && props.Dynamic() {
			mass = props
		}
	}

	in := v.DriverInput()
	speed := linear.Len()
	forwardSpeed := linear.Dot(pose.Forward())
	up := pose.Up()

	steerIn := in
	if v.override {
		steerIn.Steer += v.wiggle
	}

	var net mgl64.Vec3
	contacts := 0

	for _, w := range v.wheels {
		tire := w.probe.Tire()
		w.targets = v.drive.Resolve(steerIn, tire)
		w.probe.SetSteerAngle(w.targets.SteerAngle)
		w.brake = 0

		st := w.probe.Probe(pose, dt)
		if skip := w.probe.LastSkip(); skip != suspension.SkipNone {
			w.skipped = true
			v.sampled.Warn().Uint16("vehicle", v.id).Uint32("wheel", uint32(w.handle)).Str("reason", skip.String()).Msg("wheel probe skipped")
			v.metrics.probeSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", skip.String())))
			continue
		}
		w.skipped = false
		net = net.Add(up.Mul(st.Load))

		if !st.Contact {
			continue
		}
		contacts++
		if v.onContact != nil {
			v.onContact(w.handle, st)
		}

		f := v.friction.Apply(pose, st, tire, speed, w.targets, mass.Mass*tire.MassFraction, dt)
		w.brake = f.LongitudinalMagnitude
		if total := f.Total(); total != (mgl64.Vec3{}) {
			v.world.ApplyForceAtPoint(v.chassis, total, st.AxlePosition)
			net = net.Add(total)
		}
	}

	throttle := in.Throttle
	if !in.Ignition {
		throttle = 0
	}
	decision := v.monitor.Evaluate(recovery.Observation{
		Throttle:       throttle,
		Speed:          speed,
		GroundContacts: contacts,
		Up:             up,
		Forward:        pose.Forward(),
		Mass:           mass.Mass,
	}, dt)

	for _, w := range v.wheels {
		if w.skipped {
			continue
		}
		net = net.Add(v.driveWheel(w, pose, forwardSpeed, decision, dt))
	}

	if decision.FireImpulse {
		v.world.ApplyImpulsePair(v.chassis, decision.Impulse, mgl64.Vec3{}, dt)
	}
	if decision.TipOmega != (mgl64.Vec3{}) {
		v.world.ApplyImpulsePair(v.chassis, mgl64.Vec3{}, tipImpulse(pose, mass, decision.TipOmega), dt)
	}

	v.override = decision.Override
	v.wiggle = decision.SteerWiggle
	v.netForce = net
	v.contacts = contacts
	v.simTime += dt
	v.frame++

	for _, kind := range decision.Events {
		v.recordEvent(ctx, kind, decision, pose)
	}
	if v.recorder != nil && v.frame%v.sampleEvery == 0 {
		v.recorder.RecordSample(v.sample(pose, linear, speed, in))
	}
}

// driveWheel applies the motor and advances the visual spin of one probed wheel.
// It returns the force applied to the chassis.
func (v *Vehicle) driveWheel(w *wheel, pose core.Pose, forwardSpeed float64, d recovery.Decision, dt float64) mgl64.Vec3 {
	st := w.probe.State()
	tire := w.probe.Tire()

	_, long, _, longOK := friction.Pins(pose, st.SteerAngle)

	var applied mgl64.Vec3
	motor := w.targets.MotorForce
	if d.Override && tire.Driven() && w.targets.HandbrakeForce == 0 {
		motor = d.Throttle * v.tuning.Drive.MotorForce
	}
	if motor != 0 && st.Contact && st.Load > 0 && longOK {
		motor = v.drive.Taper(motor, forwardSpeed)
		limit := st.Load * tire.LongitudinalFriction
		motor = mgl64.Clamp(motor+w.brake, -limit, limit) - w.brake
		if motor != 0 {
			applied = long.Mul(motor)
			v.world.ApplyForceAtPoint(v.chassis, applied, st.AxlePosition)
		}
	}

	spin := st.SpinAngle
	switch {
	case st.Contact && !w.targets.Braking() && longOK:
		spin += st.AxleVelocity.Dot(long) / tire.Radius * dt
	case !st.Contact:
		spin *= math.Max(0, 1-v.tuning.Suspension.SpinDecay*dt)
	}
	w.probe.SetSpinAngle(spin)

	return applied
}

// initMass scales the chassis inertia down and moves its centre of mass once, if
// the world allows it.
func (v *Vehicle) initMass() {
	v.massReady = true

	editor, ok := v.world.(physics.MassEditor)
	if !ok {
		return
	}
	props, ok := v.world.BodyMassMatrix(v.chassis)
	if !ok {
		return
	}
	if d := v.tuning.Vehicle.InertiaDivisor; d > 0 {
		props.Inertia = props.Inertia.Mul(1 / d)
	}
	if v.hasCOM {
		props.CenterOfMass = v.comOffset
	}
	if !editor.SetMassMatrix(v.chassis, props) {
		v.logger.Warn("Chassis mass could not be adjusted", "vehicle", v.id)
	}
}

// tipImpulse is the angular impulse that gives a body the angular velocity omega
// about omega's own axis.
func tipImpulse(pose core.Pose, mass physics.MassProperties, omega mgl64.Vec3) mgl64.Vec3 {
	axis, ok := core.SafeNormalize(omega, 1e-9)
	if !ok {
		return mgl64.Vec3{}
	}
	local := pose.Orientation.Conjugate().Rotate(axis)
	inertia := local.X()*local.X()*mass.Inertia.X() +
		local.Y()*local.Y()*mass.Inertia.Y() +
		local.Z()*local.Z()*mass.Inertia.Z()
	return omega.Mul(inertia)
}

func (v *Vehicle) recordEvent(ctx context.Context, kind core.RecoveryKind, d recovery.Decision, pose core.Pose) {
	attrs := metric.WithAttributes(attribute.Int("vehicle", int(v.id)))
	switch kind {
	case core.RecoveryGroundRescueStart:
		v.metrics.groundRescues.Add(ctx, 1, attrs)
	case core.RecoveryAirborneImpulse:
		v.metrics.airborneRescues.Add(ctx, 1, attrs)
	case core.RecoveryTipCorrection:
		v.metrics.tipCorrections.Add(ctx, 1, attrs)
	}
	v.logger.Debug("Recovery", "vehicle", v.id, "kind", kind, "simTime", v.simTime)

	if v.recorder == nil {
		return
	}
	ev := core.RecoveryEvent{
		VehicleID: v.id,
		Time:      time.Now(),
		Frame:     v.frame,
		SimTime:   v.simTime,
		Kind:      kind,
		Position:  pose.Position,
	}
	switch kind {
	case core.RecoveryAirborneImpulse:
		ev.Impulse = d.Impulse
	case core.RecoveryTipCorrection:
		ev.Impulse = d.TipOmega
	}
	v.recorder.RecordRecovery(ev)
}

func (v *Vehicle) sample(pose core.Pose, linear mgl64.Vec3, speed float64, in core.DriverInput) core.VehicleSample {
	s := core.VehicleSample{
		VehicleID:    v.id,
		Time:         time.Now(),
		Frame:        v.frame,
		SimTime:      v.simTime,
		Position:     pose.Position,
		Velocity:     linear,
		Speed:        speed,
		NetForce:     v.netForce,
		Contacts:     v.contacts,
		RescueActive: v.monitor.State().RescueActive,
		Input:        in,
		Wheels:       make([]core.WheelSample, 0, len(v.wheels)),
	}
	for _, w := range v.wheels {
		st := w.probe.State()
		s.Wheels = append(s.Wheels, core.WheelSample{
			Wheel:       w.handle,
			Contact:     st.Contact,
			Load:        st.Load,
			Compression: st.Compression,
			SpinAngle:   st.SpinAngle,
			SteerAngle:  st.SteerAngle,
		})
	}
	return s
}

// OnPostTransform sends every wheel's visual pose to the pose sink. It never blocks.
func (v *Vehicle) OnPostTransform() {
	if v.sink == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pose, ok := v.world.BodyPose(v.chassis)
	if !ok || !pose.Valid() {
		return
	}
	dropped := 0
	for _, w := range v.wheels {
		msg := core.WheelPose{VehicleID: v.id, Wheel: w.handle, Pose: pose.Compose(wheelLocalPose(w.probe))}
		if !v.sink.TrySend(msg) {
			dropped++
		}
	}
	if dropped > 0 {
		v.metrics.posesDropped.Add(context.Background(), int64(dropped))
	}
}

// wheelLocalPose places the wheel at its current travel below the mount, steered
// about the chassis up axis and spun about its axle. The spin state is unbounded;
// only the rendered angle wraps.
func wheelLocalPose(p *suspension.Probe) core.Pose {
	st := p.State()
	mount := p.Mount()
	tire := p.Tire()

	steer := mgl64.QuatRotate(mgl64.DegToRad(st.SteerAngle), core.AxisUp)
	spin := mgl64.QuatRotate(math.Remainder(st.SpinAngle, 2*math.Pi)*float64(tire.Side), core.AxisRight)
	return core.NewPose(
		mount.Position.Sub(core.AxisUp.Mul(st.Travel)),
		mount.Orientation.Mul(steer).Mul(spin).Normalize(),
	)
}

// ApplyWheelie pitches the nose up with an angular impulse of the given strength.
func (v *Vehicle) ApplyWheelie(strength float64) bool {
	return v.applyAngular(func(p core.Pose) mgl64.Vec3 {
		return p.Right().Mul(-strength)
	})
}

// ApplyDrift yaws the chassis with an angular impulse of dir × strength. Positive
// values turn right.
func (v *Vehicle) ApplyDrift(dir, strength float64) bool {
	return v.applyAngular(func(p core.Pose) mgl64.Vec3 {
		return p.Up().Mul(dir * strength)
	})
}

func (v *Vehicle) applyAngular(fn func(core.Pose) mgl64.Vec3) bool {
	if !v.canDrive.Load() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pose, ok := v.world.BodyPose(v.chassis)
	if !ok || !pose.Valid() {
		return false
	}
	angular := fn(pose)
	if !core.FiniteVec(angular) {
		return false
	}
	v.world.ApplyImpulsePair(v.chassis, mgl64.Vec3{}, angular, 0)
	return true
}

var _ physics.SubstepListener = (*Vehicle)(nil)
