package sandbox

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posAt(x, y, z float64) core.Pose {
	return core.NewPose(mgl64.Vec3{x, y, z}, mgl64.QuatIdent())
}

func boxProps(mass float64) physics.MassProperties {
	return physics.MassProperties{Mass: mass, Inertia: mgl64.Vec3{1, 1, 1}}
}

type countingListener struct {
	pre, post int
	dts       []float64
}

func (c *countingListener) OnPreSubstep(dt float64) {
	c.pre++
	c.dts = append(c.dts, dt)
}

func (c *countingListener) OnPostTransform() { c.post++ }

func TestCastGround(t *testing.T) {
	w := New()
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.5}

	c, ok := w.ConvexCast(shape, posAt(0, 2, 0), posAt(0, 0, 0), nil)
	require.True(t, ok)
	assert.Equal(t, w.Ground(), c.Body)
	assert.InDelta(t, 0.75, c.Fraction, 1e-9)
	assert.InDelta(t, 0.0, c.Point.Y(), 1e-9)
	assert.Equal(t, core.AxisUp, c.Normal)
}

func TestCastGroundMiss(t *testing.T) {
	w := New()
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.5}

	_, ok := w.ConvexCast(shape, posAt(0, 3, 0), posAt(0, 2, 0), nil)
	assert.False(t, ok)
}

func TestCastStartingInsideGround(t *testing.T) {
	w := New()
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.5}

	c, ok := w.ConvexCast(shape, posAt(0, 0.3, 0), posAt(0, -1, 0), nil)
	require.True(t, ok)
	assert.Equal(t, 0.0, c.Fraction)
	assert.InDelta(t, 0.2, c.Penetration, 1e-9)
}

func TestCastExcludesGround(t *testing.T) {
	w := New()
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.5}

	_, ok := w.ConvexCast(shape, posAt(0, 2, 0), posAt(0, 0, 0), []core.BodyHandle{w.Ground()})
	assert.False(t, ok)
}

func TestCastHitsBoxBeforeGround(t *testing.T) {
	w := New()
	box := w.AddStaticBox(posAt(0, 0.5, 0), mgl64.Vec3{1, 0.5, 1})
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.25}

	c, ok := w.ConvexCast(shape, posAt(0, 3, 0), posAt(0, 0, 0), nil)
	require.True(t, ok)
	assert.Equal(t, box, c.Body)
	// inflated top face at 1.25, so the centre travels 1.75 of 3
	assert.InDelta(t, 1.75/3, c.Fraction, 1e-9)
	assert.InDelta(t, 1.0, c.Point.Y(), 1e-9)
	assert.InDelta(t, 1.0, c.Normal.Y(), 1e-9)
}

func TestCastSkipsBoxOffPath(t *testing.T) {
	w := New()
	w.AddStaticBox(posAt(5, 0.5, 0), mgl64.Vec3{1, 0.5, 1})
	shape := physics.Shape{Kind: physics.ShapeSphere, Radius: 0.25}

	c, ok := w.ConvexCast(shape, posAt(0, 3, 0), posAt(0, 0, 0), nil)
	require.True(t, ok)
	assert.Equal(t, w.Ground(), c.Body)
}

func TestFreeFall(t *testing.T) {
	w := New(WithAngularDamping(0))
	h, err := w.AddDynamicBox(posAt(0, 100, 0), mgl64.Vec3{0.5, 0.5, 0.5}, boxProps(10))
	require.NoError(t, err)

	for range 60 {
		w.Step(1.0 / 60)
	}

	lin, _, ok := w.BodyVelocity(h)
	require.True(t, ok)
	assert.InDelta(t, -9.81, lin.Y(), 1e-6)
	assert.InDelta(t, 1.0, w.Time(), 1e-9)
}

func TestBoxRestsOnGround(t *testing.T) {
	w := New()
	h, err := w.AddDynamicBox(posAt(0, 2, 0), mgl64.Vec3{0.5, 0.5, 0.5}, boxProps(10))
	require.NoError(t, err)

	for range 300 {
		w.Step(1.0 / 60)
	}

	pose, _ := w.BodyPose(h)
	assert.InDelta(t, 0.5, pose.Position.Y(), 0.02)
}

func TestForceAtPointAddsTorque(t *testing.T) {
	w := New(WithGravity(mgl64.Vec3{}), WithAngularDamping(0))
	h, err := w.AddDynamicBox(posAt(0, 10, 0), mgl64.Vec3{0.5, 0.5, 0.5}, boxProps(1))
	require.NoError(t, err)

	w.ApplyForceAtPoint(h, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 11, 0})
	w.Step(1)

	lin, ang, _ := w.BodyVelocity(h)
	assert.InDelta(t, 1.0, lin.Z(), 1e-9)
	// r = (0,1,0), F = (0,0,1): torque along +X
	assert.InDelta(t, 1.0, ang.X(), 1e-9)
}

func TestImpulsePair(t *testing.T) {
	w := New(WithGravity(mgl64.Vec3{}))
	h, err := w.AddDynamicBox(posAt(0, 10, 0), mgl64.Vec3{0.5, 0.5, 0.5}, boxProps(2))
	require.NoError(t, err)

	w.ApplyImpulsePair(h, mgl64.Vec3{0, 4, 0}, mgl64.Vec3{0, 0, 3}, 1.0/60)

	lin, ang, _ := w.BodyVelocity(h)
	assert.InDelta(t, 2.0, lin.Y(), 1e-9)
	assert.InDelta(t, 3.0, ang.Z(), 1e-9)
}

func TestStaticBodiesIgnoreForces(t *testing.T) {
	w := New()
	box := w.AddStaticBox(posAt(0, 0.5, 0), mgl64.Vec3{1, 0.5, 1})

	w.ApplyForceAtPoint(box, mgl64.Vec3{0, 1000, 0}, mgl64.Vec3{})
	w.Step(1)

	pose, _ := w.BodyPose(box)
	assert.Equal(t, 0.5, pose.Position.Y())
}

func TestListenersRunPerSubstep(t *testing.T) {
	w := New(WithSubsteps(4))
	l := &countingListener{}
	w.AddListener(l)

	w.Step(0.1)
	assert.Equal(t, 4, l.pre)
	assert.Equal(t, 4, l.post)
	assert.InDelta(t, 0.025, l.dts[0], 1e-12)

	w.RemoveListener(l)
	w.Step(0.1)
	assert.Equal(t, 4, l.pre)
}

func TestUnknownBodies(t *testing.T) {
	w := New()

	_, ok := w.BodyPose(42)
	assert.False(t, ok)
	_, _, ok = w.BodyVelocity(42)
	assert.False(t, ok)
	_, ok = w.BodyMassMatrix(42)
	assert.False(t, ok)
	assert.ErrorIs(t, w.RemoveBody(42), ErrUnknownBody)
	assert.Error(t, w.RemoveBody(w.Ground()))

	_, err := w.AddDynamicBox(posAt(0, 0, 0), mgl64.Vec3{1, 1, 1}, physics.MassProperties{})
	assert.ErrorIs(t, err, ErrBadMass)
}

func TestSetMassMatrix(t *testing.T) {
	w := New()
	h, err := w.AddDynamicBox(posAt(0, 2, 0), mgl64.Vec3{0.5, 0.5, 0.5}, boxProps(10))
	require.NoError(t, err)

	ok := w.SetMassMatrix(h, physics.MassProperties{Mass: 20, Inertia: mgl64.Vec3{2, 2, 2}, CenterOfMass: mgl64.Vec3{0, -0.1, 0}})
	require.True(t, ok)
	props, _ := w.BodyMassMatrix(h)
	assert.Equal(t, 20.0, props.Mass)

	assert.False(t, w.SetMassMatrix(w.Ground(), props))
}
