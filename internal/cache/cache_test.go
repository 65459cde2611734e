package cache

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowa-engine/raycastvehicle/internal/sandbox"
	"github.com/nowa-engine/raycastvehicle/internal/vehicle"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/physics"
)

func newVehicle(t *testing.T, w *sandbox.World, id uint16) *vehicle.Vehicle {
	t.Helper()
	chassis, err := w.AddDynamicBox(
		core.NewPose(mgl64.Vec3{0, 1, 0}, mgl64.QuatIdent()),
		mgl64.Vec3{1, 0.5, 2},
		physics.MassProperties{Mass: 1000, Inertia: mgl64.Vec3{1500, 1800, 450}},
	)
	require.NoError(t, err)
	v, err := vehicle.New(w, chassis, vehicle.DefaultTuning(), vehicle.WithID(id))
	require.NoError(t, err)
	return v
}

func TestVehicleCache_AddAndGet(t *testing.T) {
	c := NewVehicleCache()
	v := newVehicle(t, sandbox.New(), 42)

	require.True(t, c.Add(v))

	got, ok := c.Get(42)
	require.True(t, ok, "expected to find vehicle with ID 42")
	assert.Same(t, v, got)
	assert.Equal(t, 1, c.Len())
}

func TestVehicleCache_Get_NotFound(t *testing.T) {
	c := NewVehicleCache()

	_, ok := c.Get(999)
	assert.False(t, ok, "expected not to find vehicle with ID 999")
}

func TestVehicleCache_AddDuplicateKeepsFirst(t *testing.T) {
	c := NewVehicleCache()
	w := sandbox.New()
	first := newVehicle(t, w, 7)
	second := newVehicle(t, w, 7)

	require.True(t, c.Add(first))
	assert.False(t, c.Add(second))

	got, _ := c.Get(7)
	assert.Same(t, first, got)
}

func TestVehicleCache_Remove(t *testing.T) {
	c := NewVehicleCache()
	v := newVehicle(t, sandbox.New(), 3)
	c.Add(v)

	got, ok := c.Remove(3)
	require.True(t, ok)
	assert.Same(t, v, got)

	_, ok = c.Remove(3)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestVehicleCache_AllSortedByID(t *testing.T) {
	c := NewVehicleCache()
	w := sandbox.New()
	for _, id := range []uint16{9, 2, 5} {
		c.Add(newVehicle(t, w, id))
	}

	var ids []uint16
	for _, v := range c.All() {
		ids = append(ids, v.ID())
	}
	assert.Equal(t, []uint16{2, 5, 9}, ids)
}

func TestVehicleCache_Reset(t *testing.T) {
	c := NewVehicleCache()
	w := sandbox.New()
	c.Add(newVehicle(t, w, 1))
	c.Add(newVehicle(t, w, 2))
	require.Equal(t, 2, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())

	// Verify we can still add data after reset
	c.Add(newVehicle(t, w, 3))
	_, ok := c.Get(3)
	assert.True(t, ok, "expected to find vehicle added after reset")
}

func TestVehicleCache_Concurrent(t *testing.T) {
	c := NewVehicleCache()
	w := sandbox.New()
	vehicles := make([]*vehicle.Vehicle, 100)
	for i := range vehicles {
		vehicles[i] = newVehicle(t, w, uint16(i))
	}

	var wg sync.WaitGroup
	for i := range vehicles {
		wg.Add(2)
		go func(v *vehicle.Vehicle) {
			defer wg.Done()
			c.Add(v)
		}(vehicles[i])
		go func(id uint16) {
			defer wg.Done()
			c.Get(id)
		}(uint16(i))
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
}
