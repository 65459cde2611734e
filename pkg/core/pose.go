// pkg/core/pose.go
package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Chassis-local axes. Every body uses the same convention: +Y up, +Z forward, +X right.
var (
	AxisUp      = mgl64.Vec3{0, 1, 0}
	AxisForward = mgl64.Vec3{0, 0, 1}
	AxisRight   = mgl64.Vec3{1, 0, 0}
)

// BodyHandle is an opaque index into the physics collaborator's body arena.
// The zero value never refers to a body.
type BodyHandle uint32

// NoBody is the invalid handle.
const NoBody BodyHandle = 0

// Valid reports whether h can refer to a body at all.
func (h BodyHandle) Valid() bool {
	return h != NoBody
}

// Pose is a rigid transform: a position plus a unit orientation.
type Pose struct {
	Position    mgl64.Vec3 `json:"position"`
	Orientation mgl64.Quat `json:"orientation"`
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// NewPose builds a pose from a position and orientation.
func NewPose(position mgl64.Vec3, orientation mgl64.Quat) Pose {
	return Pose{Position: position, Orientation: orientation}
}

// Up returns the pose's local +Y axis in world space.
func (p Pose) Up() mgl64.Vec3 {
	return p.Orientation.Rotate(AxisUp)
}

// Down returns the pose's local -Y axis in world space.
func (p Pose) Down() mgl64.Vec3 {
	return p.Up().Mul(-1)
}

// Forward returns the pose's local +Z axis in world space.
func (p Pose) Forward() mgl64.Vec3 {
	return p.Orientation.Rotate(AxisForward)
}

// Right returns the pose's local +X axis in world space.
func (p Pose) Right() mgl64.Vec3 {
	return p.Orientation.Rotate(AxisRight)
}

// TransformPoint maps a point from the pose's local frame into world space.
func (p Pose) TransformPoint(local mgl64.Vec3) mgl64.Vec3 {
	return p.Position.Add(p.Orientation.Rotate(local))
}

// TransformVector rotates a direction from the local frame into world space.
func (p Pose) TransformVector(local mgl64.Vec3) mgl64.Vec3 {
	return p.Orientation.Rotate(local)
}

// Compose returns p ∘ local, i.e. local expressed in p's parent frame.
func (p Pose) Compose(local Pose) Pose {
	return Pose{
		Position:    p.TransformPoint(local.Position),
		Orientation: p.Orientation.Mul(local.Orientation).Normalize(),
	}
}

// Translate returns a copy of the pose moved by delta in world space.
func (p Pose) Translate(delta mgl64.Vec3) Pose {
	return Pose{Position: p.Position.Add(delta), Orientation: p.Orientation}
}

// Valid reports whether the pose is finite and its orientation is close to unit length.
func (p Pose) Valid() bool {
	if !FiniteVec(p.Position) || !FiniteVec(p.Orientation.V) || !finite(p.Orientation.W) {
		return false
	}
	return math.Abs(p.Orientation.Len()-1) < 1e-3
}

// FiniteVec reports whether every component of v is a finite number.
func FiniteVec(v mgl64.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}

// SafeNormalize returns v scaled to unit length, or false when v is too short to have a direction.
func SafeNormalize(v mgl64.Vec3, epsilon float64) (mgl64.Vec3, bool) {
	l := v.Len()
	if !finite(l) || l < epsilon {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
