// Package friction computes the clamped lateral and braking rows of a loaded tire.
package friction

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/drive"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

const pinEpsilon = 1e-6

// Forces is the friction a wheel asks the vehicle to apply at its axle.
type Forces struct {
	Lateral      mgl64.Vec3
	Longitudinal mgl64.Vec3

	// signed magnitudes along the pins below
	LateralMagnitude      float64
	LongitudinalMagnitude float64

	LateralPin      mgl64.Vec3
	LongitudinalPin mgl64.Vec3

	Grip    float64
	Braking bool
}

// Total is the sum of both rows.
func (f Forces) Total() mgl64.Vec3 {
	return f.Lateral.Add(f.Longitudinal)
}

type Model struct {
	cfg config.FrictionConfig
}

func New(cfg config.FrictionConfig) *Model {
	if cfg.BrakingScale > 1 {
		cfg.BrakingScale = 1
	}
	return &Model{cfg: cfg}
}

// Pins returns the wheel's lateral and longitudinal directions in world space for a
// chassis pose and steer angle in degrees. ok is false when either is degenerate.
func Pins(chassis core.Pose, steerDeg float64) (lateral, longitudinal mgl64.Vec3, latOK, longOK bool) {
	steer := mgl64.QuatRotate(mgl64.DegToRad(steerDeg), core.AxisUp)
	lateral, latOK = core.SafeNormalize(chassis.Orientation.Mul(steer).Rotate(core.AxisRight), pinEpsilon)
	if !latOK {
		return mgl64.Vec3{}, mgl64.Vec3{}, false, false
	}
	longitudinal, longOK = core.SafeNormalize(lateral.Cross(chassis.Up()), pinEpsilon)
	return lateral, longitudinal, latOK, longOK
}

// Grip returns the lateral grip multiplier for a wheel at the given chassis speed.
// Steered wheels get extra grip at low speed that fades out by the reference speed.
// Wheels held by the handbrake lose grip with speed, down to the configured floor.
func (m *Model) Grip(tire core.TireConfiguration, speed float64, targets drive.Targets) float64 {
	speed = math.Abs(speed)
	grip := 1.0

	if tire.Steered() && m.cfg.GripReferenceSpeed > 0 {
		s := smoothstep(speed / m.cfg.GripReferenceSpeed)
		grip = 1 + (m.cfg.MaxGripMultiplier-1)*(1-s)
	}
	if !tire.Steered() && targets.HandbrakeForce > 0 && m.cfg.HandbrakeReferenceSpeed > 0 {
		frac := mgl64.Clamp(speed/m.cfg.HandbrakeReferenceSpeed, 0, 1)
		grip = 1 - (1-m.cfg.HandbrakeGripFloor)*frac
	}

	return mgl64.Clamp(grip, math.Min(1, m.cfg.HandbrakeGripFloor), math.Max(1, m.cfg.MaxGripMultiplier))
}

// Apply computes friction for one wheel. wheelMass is the effective mass the wheel
// acts on; the unclamped demand is what would cancel the slip velocity within the
// relaxation window. No force is produced without load.
func (m *Model) Apply(chassis core.Pose, st core.SuspensionState, tire core.TireConfiguration, speed float64, targets drive.Targets, wheelMass, dt float64) Forces {
	var f Forces
	if !st.Contact || st.Load <= 0 || dt <= 0 || wheelMass <= 0 {
		return f
	}

	lateral, longitudinal, latOK, longOK := Pins(chassis, st.SteerAngle)
	f.Grip = m.Grip(tire, speed, targets)

	if latOK {
		limit := st.Load * tire.LateralFriction * f.Grip
		demand := -st.AxleVelocity.Dot(lateral) * wheelMass / dt * m.cfg.Relaxation
		f.LateralMagnitude = mgl64.Clamp(demand, -limit, limit)
		f.LateralPin = lateral
		f.Lateral = lateral.Mul(f.LateralMagnitude)
	}

	if longOK && targets.Braking() {
		vLong := st.AxleVelocity.Dot(longitudinal)
		stop := math.Abs(vLong) * wheelMass / dt
		limit := st.Load * tire.LongitudinalFriction * m.cfg.BrakingScale
		mag := math.Min(targets.BrakeForce+targets.HandbrakeForce, math.Min(stop, limit))
		if vLong > 0 {
			mag = -mag
		}
		f.Braking = true
		f.LongitudinalMagnitude = mag
		f.LongitudinalPin = longitudinal
		f.Longitudinal = longitudinal.Mul(mag)
	}

	return f
}

func smoothstep(x float64) float64 {
	x = mgl64.Clamp(x, 0, 1)
	return x * x * (3 - 2*x)
}
