package cache

import (
	"slices"
	"sync"

	"github.com/nowa-engine/raycastvehicle/internal/vehicle"
)

// VehicleCache holds every live vehicle by id. Host commands look vehicles up on
// every call, so the lookup stays a map read under a mutex.
type VehicleCache struct {
	m        sync.Mutex
	vehicles map[uint16]*vehicle.Vehicle
}

func NewVehicleCache() *VehicleCache {
	return &VehicleCache{
		vehicles: make(map[uint16]*vehicle.Vehicle),
	}
}

func (c *VehicleCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.vehicles = make(map[uint16]*vehicle.Vehicle)
}

func (c *VehicleCache) Get(id uint16) (*vehicle.Vehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.vehicles[id]
	return v, ok
}

// Add stores v under its id. It reports false and keeps the existing vehicle
// when the id is taken.
func (c *VehicleCache) Add(v *vehicle.Vehicle) bool {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.vehicles[v.ID()]; ok {
		return false
	}
	c.vehicles[v.ID()] = v
	return true
}

// Remove deletes and returns the vehicle with the given id.
func (c *VehicleCache) Remove(id uint16) (*vehicle.Vehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.vehicles[id]
	if ok {
		delete(c.vehicles, id)
	}
	return v, ok
}

func (c *VehicleCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.vehicles)
}

// All returns the vehicles ordered by id.
func (c *VehicleCache) All() []*vehicle.Vehicle {
	c.m.Lock()
	ids := make([]uint16, 0, len(c.vehicles))
	for id := range c.vehicles {
		ids = append(ids, id)
	}
	c.m.Unlock()

	slices.Sort(ids)
	out := make([]*vehicle.Vehicle, 0, len(ids))
	for _, id := range ids {
		if v, ok := c.Get(id); ok {
			out = append(out, v)
		}
	}
	return out
}
