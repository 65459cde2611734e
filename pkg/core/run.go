// pkg/core/run.go
package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Run is one recorded simulation session.
type Run struct {
	ID        uint
	UUID      string
	Name      string
	StartTime time.Time
	Timestep  float64
	Substeps  int

	// Origin georeferences the local frame: longitude, latitude (EPSG:4326) and altitude of world (0,0,0).
	OriginLongitude float64
	OriginLatitude  float64
	OriginAltitude  float64
}

// VehicleInfo describes a vehicle registered with the recorder.
type VehicleInfo struct {
	ID        uint16
	Name      string
	Mass      float64
	JoinTime  time.Time
	JoinFrame uint
	Wheels    []WheelInfo
}

// WheelInfo is the static description of one attached wheel.
type WheelInfo struct {
	Handle WheelHandle
	Mount  Pose
	Tire   TireConfiguration
}

// WheelHandle identifies a wheel within its vehicle.
type WheelHandle uint32

// WheelPose is the one-way render message emitted for every wheel after each substep.
type WheelPose struct {
	VehicleID uint16      `json:"vehicleId"`
	Wheel     WheelHandle `json:"wheel"`
	Pose      Pose        `json:"pose"`
}

// VehicleSample is a telemetry snapshot taken after a substep.
type VehicleSample struct {
	VehicleID    uint16        `json:"vehicleId"`
	Time         time.Time     `json:"time"`
	Frame        uint          `json:"frame"`
	SimTime      float64       `json:"simTime"`
	Position     mgl64.Vec3    `json:"position"`
	Velocity     mgl64.Vec3    `json:"velocity"`
	Speed        float64       `json:"speed"`
	NetForce     mgl64.Vec3    `json:"netForce"`
	Contacts     int           `json:"contacts"`
	RescueActive bool          `json:"rescueActive"`
	Input        DriverInput   `json:"input"`
	Wheels       []WheelSample `json:"wheels"`
}

// WheelSample is the per-wheel part of a VehicleSample.
type WheelSample struct {
	Wheel       WheelHandle `json:"wheel"`
	Contact     bool        `json:"contact"`
	Load        float64     `json:"load"`
	Compression float64     `json:"compression"`
	SpinAngle   float64     `json:"spinAngle"`
	SteerAngle  float64     `json:"steerAngle"`
}

// RecoveryKind names the corrective action a recovery event records.
type RecoveryKind string

const (
	RecoveryGroundRescueStart RecoveryKind = "ground_rescue_start"
	RecoveryGroundRescueEnd   RecoveryKind = "ground_rescue_end"
	RecoveryAirborneImpulse   RecoveryKind = "airborne_impulse"
	RecoveryTipCorrection     RecoveryKind = "tip_correction"
)

// RecoveryEvent records a recovery action taken by a vehicle.
type RecoveryEvent struct {
	VehicleID uint16       `json:"vehicleId"`
	Time      time.Time    `json:"time"`
	Frame     uint         `json:"frame"`
	SimTime   float64      `json:"simTime"`
	Kind      RecoveryKind `json:"kind"`
	Impulse   mgl64.Vec3   `json:"impulse"`
	Position  mgl64.Vec3   `json:"position"`
}
