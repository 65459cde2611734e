// Package physics declares the rigid-body collaborator the vehicle layer runs against.
// The solver itself lives outside this module; internal/sandbox provides a small
// reference implementation used by tests and the headless simulator.
package physics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// ShapeKind identifies a convex cast shape.
type ShapeKind uint8

const (
	ShapeSphere ShapeKind = iota
	ShapeCylinder
)

// Shape is a convex shape used for sweeps. Cylinders are oriented along the cast pose's local X axis.
type Shape struct {
	Kind   ShapeKind
	Radius float64
	Width  float64
}

// WheelShape returns the cylinder shape for a wheel of the given dimensions.
func WheelShape(radius, width float64) Shape {
	return Shape{Kind: ShapeCylinder, Radius: radius, Width: width}
}

// Contact is the first hit reported by a convex cast.
type Contact struct {
	Body        core.BodyHandle
	Point       mgl64.Vec3
	Normal      mgl64.Vec3
	Penetration float64
	// Fraction of the sweep at which the shape first touches, in [0, 1].
	Fraction float64
}

// MassProperties describes a body's mass distribution. Static bodies report zero mass.
// Inertia is the diagonal of the body-space inertia tensor; CenterOfMass is body-local.
type MassProperties struct {
	Mass         float64
	Inertia      mgl64.Vec3
	CenterOfMass mgl64.Vec3
}

// Dynamic reports whether the body responds to forces.
func (m MassProperties) Dynamic() bool {
	return m.Mass > 0
}

// World is the subset of a rigid-body engine the vehicle layer needs. Every call is
// synchronous and must be safe on the thread the engine runs the vehicle's substep on.
type World interface {
	// ConvexCast sweeps shape from start to end and returns the first contact that is
	// not on an excluded body.
	ConvexCast(shape Shape, start, end core.Pose, exclude []core.BodyHandle) (Contact, bool)
	ApplyForceAtPoint(body core.BodyHandle, force, point mgl64.Vec3)
	ApplyImpulsePair(body core.BodyHandle, linear, angular mgl64.Vec3, dt float64)
	BodyPose(body core.BodyHandle) (core.Pose, bool)
	BodyVelocity(body core.BodyHandle) (linear, angular mgl64.Vec3, ok bool)
	BodyMassMatrix(body core.BodyHandle) (MassProperties, bool)
}

// MassEditor is implemented by worlds that let the vehicle adjust its chassis mass
// distribution once at start-up.
type MassEditor interface {
	SetMassMatrix(body core.BodyHandle, props MassProperties) bool
}

// SubstepListener is the capability a vehicle registers with the engine to run inside
// its substep loop.
type SubstepListener interface {
	OnPreSubstep(dt float64)
	OnPostTransform()
}

// PointVelocity returns the world velocity of a point rigidly attached to a body whose
// centre of mass is at com and which moves with the given linear and angular velocity.
func PointVelocity(linear, angular, com, point mgl64.Vec3) mgl64.Vec3 {
	return linear.Add(angular.Cross(point.Sub(com)))
}

// BoxMass returns the mass properties of a solid box with the given half extents.
func BoxMass(mass float64, halfExtents mgl64.Vec3) MassProperties {
	x, y, z := 2*halfExtents.X(), 2*halfExtents.Y(), 2*halfExtents.Z()
	k := mass / 12
	return MassProperties{
		Mass:    mass,
		Inertia: mgl64.Vec3{k * (y*y + z*z), k * (x*x + z*z), k * (x*x + y*y)},
	}
}
