package vehicle

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/channel"
	"github.com/nowa-engine/raycastvehicle/internal/sandbox"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 1.0 / 60

func steps(seconds float64) int {
	return int(math.Round(seconds / dt))
}

var mounts = []mgl64.Vec3{
	{-0.8, -0.3, 1.3},  // front left
	{0.8, -0.3, 1.3},   // front right
	{-0.8, -0.3, -1.3}, // rear left
	{0.8, -0.3, -1.3},  // rear right
}

// addCar attaches a rear-wheel-drive, front-steered set of four wheels.
func addCar(t *testing.T, v *Vehicle) []core.WheelHandle {
	t.Helper()
	handles := make([]core.WheelHandle, 0, len(mounts))
	for i, m := range mounts {
		tire := core.DefaultTireConfiguration()
		if m.X() < 0 {
			tire.Side = core.SideLeft
		}
		if i < 2 {
			tire.Steer = core.SteerSteered
		} else {
			tire.Drive = core.DriveDriven
			tire.Handbrake = true
		}
		h, err := v.AddWheel(tire, core.NewPose(m, mgl64.QuatIdent()), core.NoBody)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	return handles
}

func newFakeCar(t *testing.T, w *fakeWorld, opts ...Option) (*Vehicle, []core.WheelHandle) {
	t.Helper()
	v, err := New(w, fakeChassis, DefaultTuning(), opts...)
	require.NoError(t, err)
	return v, addCar(t, v)
}

func TestNew_RejectsBadChassis(t *testing.T) {
	w := newFakeWorld()

	_, err := New(w, core.BodyHandle(9), DefaultTuning())
	assert.ErrorIs(t, err, ErrInvalidChassis)

	_, err = New(w, fakeGround, DefaultTuning())
	assert.ErrorIs(t, err, ErrInvalidChassis)

	_, err = New(w, core.NoBody, DefaultTuning())
	assert.ErrorIs(t, err, ErrInvalidChassis)

	_, err = New(nil, fakeChassis, DefaultTuning())
	assert.ErrorIs(t, err, ErrInvalidChassis)
}

func TestAddWheel_Validation(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Vehicle.MaxWheels = 2
	v, err := New(newFakeWorld(), fakeChassis, tuning)
	require.NoError(t, err)

	bad := core.DefaultTireConfiguration()
	bad.Radius = 0
	_, err = v.AddWheel(bad, core.IdentityPose(), core.NoBody)
	assert.True(t, errors.Is(err, core.ErrInvalidTire))

	_, err = v.AddWheel(core.DefaultTireConfiguration(), core.Pose{Orientation: mgl64.Quat{W: math.NaN()}}, core.NoBody)
	assert.ErrorIs(t, err, ErrInvalidMount)

	first, err := v.AddWheel(core.DefaultTireConfiguration(), core.IdentityPose(), core.NoBody)
	require.NoError(t, err)
	second, err := v.AddWheel(core.DefaultTireConfiguration(), core.IdentityPose(), core.NoBody)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = v.AddWheel(core.DefaultTireConfiguration(), core.IdentityPose(), core.NoBody)
	assert.ErrorIs(t, err, ErrTooManyWheels)
	assert.Equal(t, 2, v.WheelCount())
}

func TestRemoveWheel(t *testing.T) {
	v, handles := newFakeCar(t, newFakeWorld())

	assert.True(t, v.RemoveWheel(handles[1]))
	assert.False(t, v.RemoveWheel(handles[1]))
	assert.Equal(t, 3, v.WheelCount())

	_, err := v.WheelState(handles[1])
	assert.ErrorIs(t, err, ErrUnknownWheel)
	_, err = v.WheelState(handles[0])
	assert.NoError(t, err)

	v.RemoveAllWheels()
	assert.Equal(t, 0, v.WheelCount())
	assert.Empty(t, v.WheelStates())
}

func TestSiblingWheelsAreExcluded(t *testing.T) {
	w := newFakeWorld()
	v, err := New(w, fakeChassis, DefaultTuning())
	require.NoError(t, err)

	_, err = v.AddWheel(core.DefaultTireConfiguration(), core.NewPose(mounts[0], mgl64.QuatIdent()), 50)
	require.NoError(t, err)
	right, err := v.AddWheel(core.DefaultTireConfiguration(), core.NewPose(mounts[1], mgl64.QuatIdent()), 51)
	require.NoError(t, err)

	v.OnPreSubstep(dt)
	require.Len(t, w.excludes, 2)
	for _, ex := range w.excludes {
		assert.ElementsMatch(t, []core.BodyHandle{fakeChassis, 50, 51}, ex)
	}

	require.True(t, v.RemoveWheel(right))
	w.clear()
	v.OnPreSubstep(dt)
	require.Len(t, w.excludes, 1)
	assert.ElementsMatch(t, []core.BodyHandle{fakeChassis, 50}, w.excludes[0])
}

func TestCanDriveFalseSkipsSubstep(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	sink := channel.NewBuffered[core.WheelPose](8)
	v, _ := newFakeCar(t, w, WithPoseSink(sink))
	v.SetDriverInput(core.DriverInput{Throttle: 1, Ignition: true})

	v.SetCanDrive(false)
	v.OnPreSubstep(dt)
	assert.Zero(t, w.casts)
	assert.Empty(t, w.forces)
	assert.False(t, v.ApplyWheelie(100))

	// wheels are still drawn
	v.OnPostTransform()
	assert.Equal(t, 4, sink.Len())

	v.SetCanDrive(true)
	v.OnPreSubstep(dt)
	assert.Equal(t, 4, w.casts)
	assert.NotEmpty(t, w.forces)
}

func TestOnPreSubstep_IgnoresBadStep(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	v, _ := newFakeCar(t, w)

	v.OnPreSubstep(0)
	v.OnPreSubstep(-dt)
	v.OnPreSubstep(math.NaN())
	v.OnPreSubstep(math.Inf(1))

	assert.Zero(t, w.casts)
	assert.Empty(t, w.forces)
}

func TestInvalidChassisSkipsAndRecovers(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	var logs bytes.Buffer
	v, _ := newFakeCar(t, w, WithSampledLogger(zerolog.New(&logs)))

	w.alive = false
	for range 50 {
		v.OnPreSubstep(dt)
	}
	assert.Zero(t, w.casts)
	assert.Empty(t, w.forces)
	assert.Empty(t, w.massSets, "mass is not touched while the chassis is missing")

	lines := strings.Count(logs.String(), "\n")
	assert.GreaterOrEqual(t, lines, 1)
	assert.Less(t, lines, 50, "warnings are sampled")

	w.alive = true
	v.OnPreSubstep(dt)
	assert.Equal(t, 4, v.Contacts())
	assert.Len(t, w.massSets, 1)
}

func TestMassInitialisedOnce(t *testing.T) {
	w := newFakeWorld()
	com := mgl64.Vec3{0, -0.2, 0.1}
	v, _ := newFakeCar(t, w, WithCenterOfMass(com))

	for range 10 {
		v.OnPreSubstep(dt)
	}

	require.Len(t, w.massSets, 1)
	got := w.massSets[0]
	assert.Equal(t, 1000.0, got.Mass)
	assert.InDelta(t, 1500/1.5, got.Inertia.X(), 1e-9)
	assert.InDelta(t, 1800/1.5, got.Inertia.Y(), 1e-9)
	assert.InDelta(t, 450/1.5, got.Inertia.Z(), 1e-9)
	assert.Equal(t, com, got.CenterOfMass)
}

func TestDriverInputIsClampedAndLatched(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	v, _ := newFakeCar(t, w)

	v.SetDriverInput(core.DriverInput{Throttle: 5, Brake: -2, Steer: math.NaN(), Ignition: true})
	in := v.DriverInput()
	assert.Equal(t, 1.0, in.Throttle)
	assert.Equal(t, 0.0, in.Brake)
	assert.Equal(t, 0.0, in.Steer)

	// nothing is applied until the next substep
	assert.Empty(t, w.forces)
	v.OnPreSubstep(dt)
	assert.Greater(t, w.chassisForce().Z(), 0.0)
}

func TestIgnitionOffCutsMotor(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	v, _ := newFakeCar(t, w)
	v.SetDriverInput(core.DriverInput{Throttle: 1})

	for range steps(2) {
		w.clear()
		v.OnPreSubstep(dt)
		assert.InDelta(t, 0, w.chassisForce().Z(), 1e-9)
	}
	assert.False(t, v.RecoveryState().RescueActive)
}

// Rolling backwards with throttle and brake held, both rows push forward and must
// share one traction budget per wheel.
func TestThrottleAndBrakeShareTractionLimit(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	w.linear = mgl64.Vec3{0, 0, -2}
	v, handles := newFakeCar(t, w)
	v.SetDriverInput(core.DriverInput{Throttle: 1, Brake: 1, Ignition: true})

	v.OnPreSubstep(dt)

	friction := core.DefaultTireConfiguration().LongitudinalFriction
	for i, h := range handles {
		st, err := v.WheelState(h)
		require.NoError(t, err)
		require.True(t, st.Contact)

		var long float64
		for _, f := range w.forces {
			if f.point == st.AxlePosition {
				long += f.force.Z()
			}
		}
		limit := st.Load * friction
		assert.Positive(t, long, "wheel %d", i)
		assert.LessOrEqual(t, math.Abs(long), limit+1e-6, "wheel %d", i)
		if i >= 2 {
			assert.InDelta(t, limit, long, 1e-6, "driven wheel %d should use the whole budget", i)
		}
	}
}

func TestNetAppliedForceMatchesWorld(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	w.linear = mgl64.Vec3{1, 0, 3}
	v, _ := newFakeCar(t, w)
	v.SetDriverInput(core.DriverInput{Throttle: 0.5, Steer: 10, Brake: 0.2, Ignition: true})

	v.OnPreSubstep(dt)

	want := w.chassisForce()
	got := v.NetAppliedForce()
	for i := range 3 {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
	assert.Greater(t, got.Y(), 0.0)
}

func TestContactCallback(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	var touched []core.WheelHandle
	v, handles := newFakeCar(t, w, WithContactCallback(func(h core.WheelHandle, st core.SuspensionState) {
		assert.True(t, st.Contact)
		assert.Equal(t, fakeGround, st.ContactBody)
		touched = append(touched, h)
	}))

	v.OnPreSubstep(dt)
	assert.Equal(t, handles, touched)

	touched = nil
	w.hitFraction = -1
	v.OnPreSubstep(dt)
	assert.Empty(t, touched)
	assert.Equal(t, 0, v.Contacts())
}

func TestOnPostTransform_PosesWheels(t *testing.T) {
	w := newFakeWorld()
	w.pose = core.NewPose(mgl64.Vec3{0, 2, 0}, mgl64.QuatIdent())
	sink := channel.NewBuffered[core.WheelPose](8)
	v, handles := newFakeCar(t, w, WithPoseSink(sink), WithID(7))

	v.OnPreSubstep(dt)
	v.OnPostTransform()
	require.Equal(t, 4, sink.Len())

	for i, h := range handles {
		msg := <-sink.Receive()
		assert.Equal(t, uint16(7), msg.VehicleID)
		assert.Equal(t, h, msg.Wheel)
		// airborne wheels hang at full extension below the mount
		want := mgl64.Vec3{mounts[i].X(), 2 + mounts[i].Y() - 0.5, mounts[i].Z()}
		for k := range 3 {
			assert.InDelta(t, want[k], msg.Pose.Position[k], 1e-9)
		}
		assert.True(t, msg.Pose.Valid())
	}
}

func TestOnPostTransform_NeverBlocks(t *testing.T) {
	w := newFakeWorld()
	sink := channel.NewBuffered[core.WheelPose](1)
	v, _ := newFakeCar(t, w, WithPoseSink(sink))

	for range 10 {
		v.OnPostTransform()
	}
	assert.Equal(t, 1, sink.Len())
}

func TestOnPostTransform_SteeredWheelTurns(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	sink := channel.NewBuffered[core.WheelPose](8)
	v, _ := newFakeCar(t, w, WithPoseSink(sink))
	v.SetDriverInput(core.DriverInput{Steer: 30, Ignition: true})

	v.OnPreSubstep(dt)
	v.OnPostTransform()

	front := <-sink.Receive()
	axle := front.Pose.Orientation.Rotate(core.AxisRight)
	assert.InDelta(t, math.Cos(mgl64.DegToRad(30)), axle.X(), 1e-6)
	assert.InDelta(t, -math.Sin(mgl64.DegToRad(30)), axle.Z(), 1e-6)
}

func TestSpinDecaysWhileAirborne(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	w.linear = mgl64.Vec3{0, 0, 5}
	v, handles := newFakeCar(t, w)

	for range 30 {
		v.OnPreSubstep(dt)
	}
	st, err := v.WheelState(handles[0])
	require.NoError(t, err)
	require.NotZero(t, st.SpinAngle)

	w.hitFraction = -1
	start := math.Abs(st.SpinAngle)
	prev := start
	for range 60 {
		v.OnPreSubstep(dt)
		st, _ = v.WheelState(handles[0])
		assert.LessOrEqual(t, math.Abs(st.SpinAngle), prev)
		prev = math.Abs(st.SpinAngle)
	}
	decay := DefaultTuning().Suspension.SpinDecay
	assert.InDelta(t, start*math.Pow(1-decay*dt, 60), prev, 1e-9)
}

func TestSpinAngleIsContinuous(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	w.linear = mgl64.Vec3{0, 0, 5}
	sink := channel.NewBuffered[core.WheelPose](8)
	v, handles := newFakeCar(t, w, WithPoseSink(sink))

	prev := 0.0
	for range 60 {
		v.OnPreSubstep(dt)
		st, err := v.WheelState(handles[0])
		require.NoError(t, err)
		require.Greater(t, st.SpinAngle, prev)
		prev = st.SpinAngle
	}
	radius := core.DefaultTireConfiguration().Radius
	assert.Greater(t, prev, 2*math.Pi)
	assert.InDelta(t, 5/radius, prev, 0.05)

	v.OnPostTransform()
	poses := sink.Drain(0)
	require.NotEmpty(t, poses)
	for _, p := range poses {
		assert.True(t, p.Pose.Valid())
	}
}

func TestSamplesFollowInterval(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	rec := &fakeRecorder{}
	v, _ := newFakeCar(t, w, WithRecorder(rec), WithSampleInterval(3), WithID(2))

	for range 9 {
		v.OnPreSubstep(dt)
	}

	require.Len(t, rec.samples, 3)
	for i, s := range rec.samples {
		assert.Equal(t, uint(3*(i+1)), s.Frame)
		assert.Equal(t, uint16(2), s.VehicleID)
		assert.Len(t, s.Wheels, 4)
		assert.Equal(t, 4, s.Contacts)
		for _, ws := range s.Wheels {
			assert.Greater(t, ws.Load, 0.0)
		}
	}
	assert.InDelta(t, 9*dt, rec.samples[2].SimTime, 1e-9)
}

// A car pinned against a wall with full throttle starts rocking back and forth.
func TestScenarioC_StuckAgainstWall(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	rec := &fakeRecorder{}
	v, handles := newFakeCar(t, w, WithRecorder(rec))
	v.SetDriverInput(core.DriverInput{Throttle: 1, Ignition: true})

	var pushes []float64
	wiggled := false
	for range steps(2) {
		w.clear()
		v.OnPreSubstep(dt)
		pushes = append(pushes, w.chassisForce().Z())
		if st, _ := v.WheelState(handles[0]); st.SteerAngle != 0 {
			wiggled = true
		}
	}

	require.NotEmpty(t, rec.events)
	assert.Equal(t, core.RecoveryGroundRescueStart, rec.events[0].Kind)
	assert.InDelta(t, 0.75, rec.events[0].SimTime, 2*dt)

	for _, p := range pushes[:steps(0.7)] {
		assert.Greater(t, p, 0.0)
	}
	backwards := 0
	for _, p := range pushes[steps(0.8):] {
		if p < 0 {
			backwards++
		}
	}
	assert.Positive(t, backwards, "rescue should pulse the motor backwards")
	assert.True(t, wiggled, "rescue should wiggle the steering")

	rescuing := 0
	for _, s := range rec.samples {
		if s.RescueActive {
			rescuing++
		}
	}
	assert.InDelta(t, steps(1.2), rescuing, 2)
}

func TestResetRecovery(t *testing.T) {
	w := newFakeWorld()
	w.hitFraction = 0.5
	v, handles := newFakeCar(t, w)
	v.SetDriverInput(core.DriverInput{Throttle: 1, Ignition: true})

	for range steps(1) {
		v.OnPreSubstep(dt)
	}
	require.True(t, v.RecoveryState().RescueActive)

	v.ResetRecovery()
	assert.Equal(t, core.RecoveryState{PulseForward: true, ToggleForward: true}, v.RecoveryState())

	w.clear()
	v.OnPreSubstep(dt)
	assert.Greater(t, w.chassisForce().Z(), 0.0)
	st, err := v.WheelState(handles[0])
	require.NoError(t, err)
	assert.Zero(t, st.SteerAngle)
	assert.False(t, v.RecoveryState().RescueActive)
}

// A car stranded with no wheel contact gets exactly one nudge per cooldown.
func TestScenarioD_Airborne(t *testing.T) {
	w := newFakeWorld()
	rec := &fakeRecorder{}
	v, _ := newFakeCar(t, w, WithRecorder(rec))
	v.SetDriverInput(core.DriverInput{Throttle: 0.5, Ignition: true})

	var impulses []appliedImpulse
	for range steps(4.2) {
		w.clear()
		v.OnPreSubstep(dt)
		impulses = append(impulses, w.impulses...)
		assert.Equal(t, 0, v.Contacts())
	}

	require.Len(t, impulses, 1)
	got := impulses[0].linear
	dir := mgl64.Vec3{0, 1, 0.5}.Normalize()
	want := dir.Mul(1000 * 3)
	for k := range 3 {
		assert.InDelta(t, want[k], got[k], 1e-6)
	}
	assert.Equal(t, []core.RecoveryKind{core.RecoveryAirborneImpulse}, rec.kinds())
	assert.Equal(t, got, rec.events[0].Impulse)
}

func TestTipOverCorrection(t *testing.T) {
	w := newFakeWorld()
	// lying on the right side
	w.pose = core.NewPose(mgl64.Vec3{0, 1, 0}, mgl64.QuatRotate(mgl64.DegToRad(-90), core.AxisForward))
	rec := &fakeRecorder{}
	v, _ := newFakeCar(t, w, WithRecorder(rec))

	var impulses []appliedImpulse
	for range steps(1.6) {
		w.clear()
		v.OnPreSubstep(dt)
		impulses = append(impulses, w.impulses...)
	}

	require.Len(t, impulses, 1)
	angular := impulses[0].angular
	assert.Equal(t, mgl64.Vec3{}, impulses[0].linear)
	assert.InDelta(t, 0, angular.X(), 1e-6)
	assert.InDelta(t, 0, angular.Y(), 1e-6)
	assert.InDelta(t, math.Pi/2*w.mass.Inertia.Z(), angular.Z(), 1e-6)
	assert.Contains(t, rec.kinds(), core.RecoveryTipCorrection)
}

func TestWheelieAndDrift(t *testing.T) {
	w := newFakeWorld()
	v, _ := newFakeCar(t, w)

	require.True(t, v.ApplyWheelie(500))
	require.True(t, v.ApplyDrift(-1, 200))
	require.Len(t, w.impulses, 2)

	assert.InDelta(t, -500, w.impulses[0].angular.X(), 1e-9)
	assert.InDelta(t, -200, w.impulses[1].angular.Y(), 1e-9)

	w.alive = false
	assert.False(t, v.ApplyDrift(1, 200))
}

func boxInertia(mass float64, half mgl64.Vec3) mgl64.Vec3 {
	x2, y2, z2 := half.X()*half.X(), half.Y()*half.Y(), half.Z()*half.Z()
	return mgl64.Vec3{mass / 3 * (y2 + z2), mass / 3 * (x2 + z2), mass / 3 * (x2 + y2)}
}

// A rear-driven car on flat ground speeds up steadily under half throttle.
func TestScenarioB_FlatGroundAcceleration(t *testing.T) {
	world := sandbox.New()
	half := mgl64.Vec3{0.9, 0.3, 2}
	chassis, err := world.AddDynamicBox(
		core.NewPose(mgl64.Vec3{0, 1.05, 0}, mgl64.QuatIdent()),
		half,
		physics.MassProperties{Mass: 1000, Inertia: boxInertia(1000, half)},
	)
	require.NoError(t, err)

	v, err := New(world, chassis, DefaultTuning())
	require.NoError(t, err)
	handles := addCar(t, v)
	world.AddListener(v)

	v.SetDriverInput(core.DriverInput{Ignition: true})
	for range steps(2) {
		world.Step(dt)
	}
	pose, _ := world.BodyPose(chassis)
	assert.InDelta(t, 1.033, pose.Position.Y(), 0.02, "chassis should settle on its springs")
	assert.Equal(t, 4, v.Contacts())

	v.SetDriverInput(core.DriverInput{Throttle: 0.5, Ignition: true})
	topSpeed := DefaultTuning().Drive.TopSpeed
	linear, _, _ := world.BodyVelocity(chassis)
	prev := linear.Z()
	for i := range steps(5) {
		world.Step(dt)
		for _, h := range handles {
			st, err := v.WheelState(h)
			require.NoError(t, err)
			require.GreaterOrEqual(t, st.Load, 0.0)
			require.True(t, st.Contact)
		}
		linear, _, _ = world.BodyVelocity(chassis)
		require.LessOrEqual(t, linear.Len(), topSpeed)

		// strictly faster every 0.1 s for the first two seconds
		if i < steps(2) && (i+1)%6 == 0 {
			require.Greater(t, linear.Z(), prev)
			prev = linear.Z()
		}
	}
	assert.Greater(t, prev, 3.0)
	assert.Greater(t, linear.Z(), prev)
	assert.False(t, v.RecoveryState().RescueActive)
}
