// Package sandbox is a small rigid-body world that implements physics.World. It is
// good enough to drive a vehicle over flat ground and boxes: bodies are oriented
// boxes integrated with semi-implicit Euler, and only dynamic-versus-ground
// contacts are resolved.
package sandbox

import (
	"errors"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
)

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrBadMass     = errors.New("mass must be positive")
)

type bodyKind uint8

const (
	kindStatic bodyKind = iota
	kindDynamic
	kindKinematic
)

type body struct {
	kind    bodyKind
	pose    core.Pose
	linear  mgl64.Vec3
	angular mgl64.Vec3
	mass    physics.MassProperties
	// half extents of the collision box; zero means the body has no collider
	half mgl64.Vec3

	force  mgl64.Vec3
	torque mgl64.Vec3
}

func (b *body) com() mgl64.Vec3 {
	return b.pose.TransformPoint(b.mass.CenterOfMass)
}

// applyInvInertia maps a world-space angular quantity through the inverse world inertia.
func (b *body) applyInvInertia(v mgl64.Vec3) mgl64.Vec3 {
	local := b.pose.Orientation.Conjugate().Rotate(v)
	for i := range 3 {
		if b.mass.Inertia[i] > 0 {
			local[i] /= b.mass.Inertia[i]
		} else {
			local[i] = 0
		}
	}
	return b.pose.Orientation.Rotate(local)
}

// World is a single-threaded sandbox. It is not safe for concurrent use.
type World struct {
	bodies    map[core.BodyHandle]*body
	next      core.BodyHandle
	ground    core.BodyHandle
	groundY   float64
	gravity   mgl64.Vec3
	substeps  int
	damping   float64
	friction  float64
	listeners []physics.SubstepListener
	time      float64
}

type Option func(*World)

// WithGravity overrides the default (0, -9.81, 0).
func WithGravity(g mgl64.Vec3) Option {
	return func(w *World) { w.gravity = g }
}

// WithGroundHeight places the infinite ground plane at y = h.
func WithGroundHeight(h float64) Option {
	return func(w *World) { w.groundY = h }
}

// WithSubsteps sets how many substeps Step splits each call into.
func WithSubsteps(n int) Option {
	return func(w *World) {
		if n > 0 {
			w.substeps = n
		}
	}
}

// WithAngularDamping sets the per-second angular velocity decay.
func WithAngularDamping(d float64) Option {
	return func(w *World) { w.damping = math.Max(0, d) }
}

// New creates a world with a ground plane at y = 0.
func New(opts ...Option) *World {
	w := &World{
		bodies:   make(map[core.BodyHandle]*body),
		gravity:  mgl64.Vec3{0, -9.81, 0},
		substeps: 1,
		damping:  0.1,
		friction: 0.8,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ground = w.insert(&body{kind: kindStatic, pose: core.NewPose(mgl64.Vec3{0, w.groundY, 0}, mgl64.QuatIdent())})
	return w
}

func (w *World) insert(b *body) core.BodyHandle {
	w.next++
	w.bodies[w.next] = b
	return w.next
}

// Ground returns the handle of the ground plane.
func (w *World) Ground() core.BodyHandle {
	return w.ground
}

// Time returns the accumulated simulated time.
func (w *World) Time() float64 {
	return w.time
}

// AddDynamicBox adds a box body. props.CenterOfMass is body-local.
func (w *World) AddDynamicBox(pose core.Pose, halfExtents mgl64.Vec3, props physics.MassProperties) (core.BodyHandle, error) {
	if props.Mass <= 0 {
		return core.NoBody, ErrBadMass
	}
	return w.insert(&body{kind: kindDynamic, pose: pose, half: halfExtents, mass: props}), nil
}

// AddStaticBox adds an immovable box obstacle.
func (w *World) AddStaticBox(pose core.Pose, halfExtents mgl64.Vec3) core.BodyHandle {
	return w.insert(&body{kind: kindStatic, pose: pose, half: halfExtents})
}

// AddKinematic adds a body that only moves when SetPose is called, such as a wheel proxy.
func (w *World) AddKinematic(pose core.Pose, halfExtents mgl64.Vec3) core.BodyHandle {
	return w.insert(&body{kind: kindKinematic, pose: pose, half: halfExtents})
}

// RemoveBody deletes a body. The ground cannot be removed.
func (w *World) RemoveBody(h core.BodyHandle) error {
	if h == w.ground {
		return errors.New("cannot remove ground")
	}
	if _, ok := w.bodies[h]; !ok {
		return ErrUnknownBody
	}
	delete(w.bodies, h)
	return nil
}

// SetPose teleports a body.
func (w *World) SetPose(h core.BodyHandle, pose core.Pose) error {
	b, ok := w.bodies[h]
	if !ok {
		return ErrUnknownBody
	}
	b.pose = pose
	return nil
}

// SetVelocity overrides a dynamic body's velocities.
func (w *World) SetVelocity(h core.BodyHandle, linear, angular mgl64.Vec3) error {
	b, ok := w.bodies[h]
	if !ok {
		return ErrUnknownBody
	}
	b.linear, b.angular = linear, angular
	return nil
}

// AddListener registers a substep listener. Listeners run in registration order.
func (w *World) AddListener(l physics.SubstepListener) {
	w.listeners = append(w.listeners, l)
}

// RemoveListener unregisters l.
func (w *World) RemoveListener(l physics.SubstepListener) {
	w.listeners = slices.DeleteFunc(w.listeners, func(x physics.SubstepListener) bool { return x == l })
}

// Step advances the world by dt, split into the configured number of substeps.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	sub := dt / float64(w.substeps)
	for range w.substeps {
		for _, l := range w.listeners {
			l.OnPreSubstep(sub)
		}
		w.integrate(sub)
		for _, l := range w.listeners {
			l.OnPostTransform()
		}
		w.time += sub
	}
}

func (w *World) integrate(dt float64) {
	for _, b := range w.bodies {
		if b.kind != kindDynamic {
			continue
		}
		b.linear = b.linear.Add(b.force.Mul(dt / b.mass.Mass)).Add(w.gravity.Mul(dt))
		b.angular = b.angular.Add(b.applyInvInertia(b.torque).Mul(dt))
		b.angular = b.angular.Mul(math.Max(0, 1-w.damping*dt))
		b.force, b.torque = mgl64.Vec3{}, mgl64.Vec3{}

		com := b.com().Add(b.linear.Mul(dt))
		spin := mgl64.Quat{W: 0, V: b.angular}.Mul(b.pose.Orientation).Scale(0.5 * dt)
		b.pose.Orientation = b.pose.Orientation.Add(spin).Normalize()
		b.pose.Position = com.Sub(b.pose.Orientation.Rotate(b.mass.CenterOfMass))

		w.resolveGround(b)
	}
}

// resolveGround pushes the box out of the ground plane by its deepest corner and
// removes the approaching normal velocity at the centroid of the penetrating corners.
func (w *World) resolveGround(b *body) {
	if b.half == (mgl64.Vec3{}) {
		return
	}
	deepest := 0.0
	var sum mgl64.Vec3
	count := 0
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				p := b.pose.TransformPoint(mgl64.Vec3{sx * b.half[0], sy * b.half[1], sz * b.half[2]})
				if d := w.groundY - p[1]; d > 0 {
					deepest = math.Max(deepest, d)
					sum = sum.Add(p)
					count++
				}
			}
		}
	}
	if count == 0 {
		return
	}
	b.pose.Position[1] += deepest
	corner := sum.Mul(1 / float64(count))
	corner[1] = w.groundY

	n := core.AxisUp
	r := corner.Sub(b.com())
	vel := physics.PointVelocity(b.linear, b.angular, b.com(), corner)
	vn := vel.Dot(n)
	if vn >= 0 {
		return
	}
	rn := r.Cross(n)
	k := 1/b.mass.Mass + rn.Dot(b.applyInvInertia(rn))
	j := -vn / k
	impulse := n.Mul(j)

	tangent := vel.Sub(n.Mul(vn))
	if t, ok := core.SafeNormalize(tangent, 1e-6); ok {
		rt := r.Cross(t)
		kt := 1/b.mass.Mass + rt.Dot(b.applyInvInertia(rt))
		jt := math.Min(tangent.Len()/kt, w.friction*j)
		impulse = impulse.Sub(t.Mul(jt))
	}
	b.linear = b.linear.Add(impulse.Mul(1 / b.mass.Mass))
	b.angular = b.angular.Add(b.applyInvInertia(r.Cross(impulse)))
}

// ConvexCast sweeps a sphere of the shape's radius. Cylinders are approximated by
// their bounding sphere of the same radius, which is what a tire touching flat ground
// sees anyway.
func (w *World) ConvexCast(shape physics.Shape, start, end core.Pose, exclude []core.BodyHandle) (physics.Contact, bool) {
	from, to := start.Position, end.Position
	radius := shape.Radius
	best := physics.Contact{Fraction: math.Inf(1)}
	found := false

	for h, b := range w.bodies {
		if slices.Contains(exclude, h) {
			continue
		}
		var c physics.Contact
		var ok bool
		if h == w.ground {
			c, ok = w.castGround(from, to, radius)
		} else if b.half != (mgl64.Vec3{}) {
			c, ok = castBox(b, from, to, radius)
		}
		if ok && (c.Fraction < best.Fraction || (c.Fraction == best.Fraction && h < best.Body)) {
			c.Body = h
			best, found = c, true
		}
	}
	return best, found
}

func (w *World) castGround(from, to mgl64.Vec3, radius float64) (physics.Contact, bool) {
	n := core.AxisUp
	d0 := from[1] - w.groundY - radius
	if d0 <= 0 {
		return physics.Contact{
			Point:       mgl64.Vec3{from[0], w.groundY, from[2]},
			Normal:      n,
			Penetration: -d0,
		}, true
	}
	dy := to[1] - from[1]
	if dy >= 0 || d0+dy > 0 {
		return physics.Contact{}, false
	}
	f := d0 / -dy
	center := from.Add(to.Sub(from).Mul(f))
	return physics.Contact{
		Point:    center.Sub(n.Mul(radius)),
		Normal:   n,
		Fraction: f,
	}, true
}

// castBox sweeps a sphere against a box inflated by the radius, using the slab method
// in the box's local frame.
func castBox(b *body, from, to mgl64.Vec3, radius float64) (physics.Contact, bool) {
	inv := b.pose.Orientation.Conjugate()
	lf := inv.Rotate(from.Sub(b.pose.Position))
	lt := inv.Rotate(to.Sub(b.pose.Position))
	dir := lt.Sub(lf)
	ext := b.half.Add(mgl64.Vec3{radius, radius, radius})

	tmin, tmax := 0.0, 1.0
	axis, sign := -1, 0.0
	for i := range 3 {
		if math.Abs(dir[i]) < 1e-12 {
			if lf[i] < -ext[i] || lf[i] > ext[i] {
				return physics.Contact{}, false
			}
			continue
		}
		t1 := (-ext[i] - lf[i]) / dir[i]
		t2 := (ext[i] - lf[i]) / dir[i]
		s := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tmin {
			tmin, axis, sign = t1, i, s
		}
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return physics.Contact{}, false
		}
	}

	var normal mgl64.Vec3
	penetration := 0.0
	if axis < 0 {
		// start inside the inflated box: push out through the nearest face
		best := math.Inf(1)
		for i := range 3 {
			for _, s := range []float64{-1, 1} {
				if d := ext[i] - s*lf[i]; d < best {
					best, axis, sign = d, i, s
				}
			}
		}
		penetration = best
	}
	normal[axis] = sign
	center := lf.Add(dir.Mul(tmin))
	point := center.Sub(normal.Mul(radius))

	return physics.Contact{
		Point:       b.pose.TransformPoint(point),
		Normal:      b.pose.TransformVector(normal),
		Penetration: penetration,
		Fraction:    tmin,
	}, true
}

// ApplyForceAtPoint accumulates a force for the next integration. Non-dynamic bodies ignore it.
func (w *World) ApplyForceAtPoint(h core.BodyHandle, force, point mgl64.Vec3) {
	b, ok := w.bodies[h]
	if !ok || b.kind != kindDynamic || !core.FiniteVec(force) {
		return
	}
	b.force = b.force.Add(force)
	b.torque = b.torque.Add(point.Sub(b.com()).Cross(force))
}

// ApplyImpulsePair changes a dynamic body's velocities immediately.
func (w *World) ApplyImpulsePair(h core.BodyHandle, linear, angular mgl64.Vec3, _ float64) {
	b, ok := w.bodies[h]
	if !ok || b.kind != kindDynamic {
		return
	}
	b.linear = b.linear.Add(linear.Mul(1 / b.mass.Mass))
	b.angular = b.angular.Add(b.applyInvInertia(angular))
}

func (w *World) BodyPose(h core.BodyHandle) (core.Pose, bool) {
	b, ok := w.bodies[h]
	if !ok {
		return core.Pose{}, false
	}
	return b.pose, true
}

func (w *World) BodyVelocity(h core.BodyHandle) (mgl64.Vec3, mgl64.Vec3, bool) {
	b, ok := w.bodies[h]
	if !ok {
		return mgl64.Vec3{}, mgl64.Vec3{}, false
	}
	return b.linear, b.angular, true
}

func (w *World) BodyMassMatrix(h core.BodyHandle) (physics.MassProperties, bool) {
	b, ok := w.bodies[h]
	if !ok {
		return physics.MassProperties{}, false
	}
	return b.mass, true
}

// SetMassMatrix replaces a dynamic body's mass properties.
func (w *World) SetMassMatrix(h core.BodyHandle, props physics.MassProperties) bool {
	b, ok := w.bodies[h]
	if !ok || b.kind != kindDynamic || props.Mass <= 0 {
		return false
	}
	b.mass = props
	return true
}

var (
	_ physics.World      = (*World)(nil)
	_ physics.MassEditor = (*World)(nil)
)
