// Package suspension casts each wheel against the world and turns the hit into a
// spring-damper load on the chassis.
package suspension

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
)

// SkipReason says why the last Probe call left the state untouched.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	SkipDegenerate
	SkipInvalidHandle
)

func (r SkipReason) String() string {
	switch r {
	case SkipDegenerate:
		return "degenerate geometry"
	case SkipInvalidHandle:
		return "invalid body handle"
	default:
		return "none"
	}
}

const directionEpsilon = 1e-9

// Probe owns one wheel's suspension state.
type Probe struct {
	world   physics.World
	cfg     config.SuspensionConfig
	tire    core.TireConfiguration
	mount   core.Pose
	chassis core.BodyHandle
	shape   physics.Shape
	exclude []core.BodyHandle

	state    core.SuspensionState
	lastSkip SkipReason
}

// New creates a probe for a wheel mounted at mount (chassis-local) on chassis.
// The probe starts fully extended and airborne.
func New(world physics.World, chassis core.BodyHandle, tire core.TireConfiguration, mount core.Pose, cfg config.SuspensionConfig) *Probe {
	p := &Probe{
		world:   world,
		cfg:     cfg,
		tire:    tire,
		mount:   mount,
		chassis: chassis,
		shape:   physics.WheelShape(tire.Radius, tire.Width),
		exclude: []core.BodyHandle{chassis},
	}
	p.state.Travel = p.SpringLength()
	return p
}

// SetExclusions replaces the set of bodies the cast ignores. The chassis is always excluded.
func (p *Probe) SetExclusions(bodies []core.BodyHandle) {
	p.exclude = append(p.exclude[:0], p.chassis)
	for _, b := range bodies {
		if b.Valid() && b != p.chassis {
			p.exclude = append(p.exclude, b)
		}
	}
}

// Exclusions returns the bodies the cast ignores.
func (p *Probe) Exclusions() []core.BodyHandle {
	return slices.Clone(p.exclude)
}

// SetSteerAngle sets the wheel's steer angle in degrees for the next probe.
func (p *Probe) SetSteerAngle(deg float64) {
	p.state.SteerAngle = deg
}

// SetSpinAngle stores the wheel's visual spin angle in radians.
func (p *Probe) SetSpinAngle(rad float64) {
	p.state.SpinAngle = rad
}

// State returns the state computed by the last successful probe.
func (p *Probe) State() core.SuspensionState {
	return p.state
}

// LastSkip reports why the previous Probe call was skipped, or SkipNone.
func (p *Probe) LastSkip() SkipReason {
	return p.lastSkip
}

// Tire returns the wheel's configuration.
func (p *Probe) Tire() core.TireConfiguration {
	return p.tire
}

// Mount returns the wheel's chassis-local mount pose.
func (p *Probe) Mount() core.Pose {
	return p.mount
}

// SpringLength is the configured rest length, never below the configured minimum.
func (p *Probe) SpringLength() float64 {
	return math.Max(p.tire.SpringLength, p.cfg.MinSpringLength)
}

// HardLimit is the extra compression margin allowed once the wheel bottoms out.
func (p *Probe) HardLimit() float64 {
	return p.tire.Radius * p.cfg.HardLimitRatio
}

// Probe casts the wheel down from its hard point, updates the suspension state and
// applies the resulting load to the chassis at the axle. When the input is unusable
// the previous state is kept and no force is applied.
func (p *Probe) Probe(chassisPose core.Pose, dt float64) core.SuspensionState {
	p.lastSkip = SkipNone

	if dt <= 0 || math.IsNaN(dt) || !chassisPose.Valid() {
		p.lastSkip = SkipDegenerate
		return p.state
	}

	down, ok := core.SafeNormalize(chassisPose.Down(), directionEpsilon)
	if !ok {
		p.lastSkip = SkipDegenerate
		return p.state
	}
	up := down.Mul(-1)

	linear, angular, ok := p.world.BodyVelocity(p.chassis)
	if !ok {
		p.lastSkip = SkipInvalidHandle
		return p.state
	}
	mass, ok := p.world.BodyMassMatrix(p.chassis)
	if !ok {
		p.lastSkip = SkipInvalidHandle
		return p.state
	}

	springLength := p.SpringLength()
	castDistance := springLength + p.tire.Radius
	hardPoint := chassisPose.TransformPoint(p.mount.Position)

	steer := mgl64.QuatRotate(mgl64.DegToRad(p.state.SteerAngle), core.AxisUp)
	start := core.NewPose(hardPoint, chassisPose.Orientation.Mul(steer).Normalize())
	end := start.Translate(down.Mul(castDistance))

	next := core.SuspensionState{
		Travel:     springLength,
		SpinAngle:  p.state.SpinAngle,
		SteerAngle: p.state.SteerAngle,
	}

	hit, found := p.world.ConvexCast(p.shape, start, end, p.exclude)
	if found && slices.Contains(p.exclude, hit.Body) {
		found = false
	}
	if found {
		travel := hit.Fraction * castDistance
		if travel > springLength+p.cfg.SlackTolerance {
			found = false
		} else {
			next.Contact = true
			next.ContactBody = hit.Body
			next.ContactPoint = hit.Point
			next.ContactNormal = hit.Normal
			next.Penetration = hit.Penetration
			next.Travel = mgl64.Clamp(travel, 0, springLength)
			if hit.Fraction <= 0 && hit.Penetration > 0 {
				next.Travel = 0
			}
		}
	}

	next.Compression = springLength - next.Travel
	if next.Contact && next.Travel <= 0 {
		next.Compression += p.HardLimit()
	}

	com := chassisPose.TransformPoint(mass.CenterOfMass)
	next.AxlePosition = hardPoint.Add(down.Mul(next.Travel))
	next.AxleVelocity = physics.PointVelocity(linear, angular, com, next.AxlePosition)

	var hitMass physics.MassProperties
	if next.Contact {
		if props, ok := p.world.BodyMassMatrix(next.ContactBody); ok && props.Dynamic() {
			hitMass = props
			if hitPose, ok := p.world.BodyPose(next.ContactBody); ok {
				hl, ha, _ := p.world.BodyVelocity(next.ContactBody)
				hitCom := hitPose.TransformPoint(props.CenterOfMass)
				next.AxleVelocity = next.AxleVelocity.Sub(physics.PointVelocity(hl, ha, hitCom, next.ContactPoint))
			}
		}

		closing := -next.AxleVelocity.Dot(up)
		accel := SpringDamperAccel(dt, p.tire.SpringConst, next.Compression, p.tire.SpringDamp, closing)
		next.Load = math.Max(0, -accel*mass.Mass*p.tire.MassFraction*p.cfg.Factor*p.cfg.Step)
	}

	if !core.FiniteVec(next.AxlePosition) || !core.FiniteVec(next.AxleVelocity) || math.IsNaN(next.Load) || math.IsInf(next.Load, 0) {
		p.lastSkip = SkipDegenerate
		return p.state
	}

	p.state = next

	if next.Load > 0 {
		p.world.ApplyForceAtPoint(p.chassis, up.Mul(next.Load), next.AxlePosition)
		if hitMass.Dynamic() && p.cfg.ReactionScale > 0 {
			p.world.ApplyForceAtPoint(next.ContactBody, next.ContactNormal.Mul(-next.Load*p.cfg.ReactionScale), next.ContactPoint)
		}
	}

	return p.state
}

// SpringDamperAccel is the implicit spring-damper acceleration for displacement x and
// velocity v over step dt. Positive x and v push the result negative.
func SpringDamperAccel(dt, ks, x, kd, v float64) float64 {
	ksd := dt * ks
	num := ks*x + kd*v + ksd*v
	den := 1 + dt*kd + dt*ksd
	return -num / den
}
