package parser

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// VehicleSpec describes a chassis the host asks to create.
type VehicleSpec struct {
	ID           uint16
	Name         string
	Pose         core.Pose
	HalfExtents  mgl64.Vec3
	Mass         float64
	CenterOfMass mgl64.Vec3
	HasCOM       bool
}

// WheelSpec is a wheel to attach to an existing vehicle.
type WheelSpec struct {
	VehicleID uint16
	Tire      core.TireConfiguration
	Mount     core.Pose
}

// InputCommand is a driver input sample addressed to a vehicle.
type InputCommand struct {
	VehicleID uint16
	Input     core.DriverInput
}
