package vehicle

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
)

const (
	fakeChassis core.BodyHandle = 1
	fakeGround  core.BodyHandle = 100
)

type appliedForce struct {
	body  core.BodyHandle
	force mgl64.Vec3
	point mgl64.Vec3
}

type appliedImpulse struct {
	linear  mgl64.Vec3
	angular mgl64.Vec3
}

// fakeWorld holds the chassis still and answers every cast with the same scripted
// hit. It records what the vehicle applies.
type fakeWorld struct {
	alive   bool
	pose    core.Pose
	linear  mgl64.Vec3
	angular mgl64.Vec3
	mass    physics.MassProperties

	// hitFraction < 0 means every cast misses
	hitFraction float64

	casts    int
	excludes [][]core.BodyHandle
	forces   []appliedForce
	impulses []appliedImpulse
	massSets []physics.MassProperties
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		alive: true,
		pose:  core.NewPose(mgl64.Vec3{0, 1, 0}, mgl64.QuatIdent()),
		mass: physics.MassProperties{
			Mass:    1000,
			Inertia: mgl64.Vec3{1500, 1800, 450},
		},
		hitFraction: -1,
	}
}

func (w *fakeWorld) clear() {
	w.forces = w.forces[:0]
	w.impulses = w.impulses[:0]
	w.excludes = w.excludes[:0]
	w.casts = 0
}

// chassisForce sums every force applied to the chassis since the last clear.
func (w *fakeWorld) chassisForce() mgl64.Vec3 {
	var sum mgl64.Vec3
	for _, f := range w.forces {
		if f.body == fakeChassis {
			sum = sum.Add(f.force)
		}
	}
	return sum
}

func (w *fakeWorld) ConvexCast(shape physics.Shape, start, end core.Pose, exclude []core.BodyHandle) (physics.Contact, bool) {
	w.casts++
	w.excludes = append(w.excludes, append([]core.BodyHandle(nil), exclude...))
	if w.hitFraction < 0 {
		return physics.Contact{}, false
	}
	center := start.Position.Add(end.Position.Sub(start.Position).Mul(w.hitFraction))
	return physics.Contact{
		Body:     fakeGround,
		Point:    center.Sub(core.AxisUp.Mul(shape.Radius)),
		Normal:   core.AxisUp,
		Fraction: w.hitFraction,
	}, true
}

func (w *fakeWorld) ApplyForceAtPoint(body core.BodyHandle, force, point mgl64.Vec3) {
	w.forces = append(w.forces, appliedForce{body: body, force: force, point: point})
}

func (w *fakeWorld) ApplyImpulsePair(body core.BodyHandle, linear, angular mgl64.Vec3, _ float64) {
	if body == fakeChassis {
		w.impulses = append(w.impulses, appliedImpulse{linear: linear, angular: angular})
	}
}

func (w *fakeWorld) BodyPose(body core.BodyHandle) (core.Pose, bool) {
	switch {
	case body == fakeChassis && w.alive:
		return w.pose, true
	case body == fakeGround:
		return core.IdentityPose(), true
	}
	return core.Pose{}, false
}

func (w *fakeWorld) BodyVelocity(body core.BodyHandle) (mgl64.Vec3, mgl64.Vec3, bool) {
	switch {
	case body == fakeChassis && w.alive:
		return w.linear, w.angular, true
	case body == fakeGround:
		return mgl64.Vec3{}, mgl64.Vec3{}, true
	}
	return mgl64.Vec3{}, mgl64.Vec3{}, false
}

func (w *fakeWorld) BodyMassMatrix(body core.BodyHandle) (physics.MassProperties, bool) {
	switch {
	case body == fakeChassis && w.alive:
		return w.mass, true
	case body == fakeGround:
		return physics.MassProperties{}, true
	}
	return physics.MassProperties{}, false
}

func (w *fakeWorld) SetMassMatrix(body core.BodyHandle, props physics.MassProperties) bool {
	if body != fakeChassis || !w.alive {
		return false
	}
	w.massSets = append(w.massSets, props)
	w.mass = props
	return true
}

type fakeRecorder struct {
	samples []core.VehicleSample
	events  []core.RecoveryEvent
}

func (r *fakeRecorder) RecordSample(s core.VehicleSample)   { r.samples = append(r.samples, s) }
func (r *fakeRecorder) RecordRecovery(e core.RecoveryEvent) { r.events = append(r.events, e) }

func (r *fakeRecorder) kinds() []core.RecoveryKind {
	out := make([]core.RecoveryKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
