package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Run{},
	&Vehicle{},
	&Wheel{},
	&VehicleSample{},
	&RecoveryEvent{},
	&RecorderPerformance{},
}

// Run is one recorded simulation session.
type Run struct {
	gorm.Model
	UUID      string     `json:"uuid" gorm:"size:36;uniqueIndex:idx_run_uuid"`
	Name      string     `json:"name" gorm:"size:200"`
	StartTime time.Time  `json:"startTime" gorm:"type:timestamptz;index:idx_run_start"`
	EndTime   *time.Time `json:"endTime" gorm:"type:timestamptz;default:NULL"`
	Timestep  float64    `json:"timestep"`
	Substeps  int        `json:"substeps" gorm:"default:1"`
	// Origin is the WGS84 longitude/latitude of the local frame origin.
	Origin           geom.Point `json:"origin"`
	OriginAltitude   float64    `json:"originAltitude"`
	SimulatorVersion string     `json:"simulatorVersion" gorm:"size:64"`
	Tag              string     `json:"tag" gorm:"size:127"`

	Vehicles []Vehicle
}

func (*Run) TableName() string {
	return "runs"
}

// Vehicle is a vehicle registered during a run.
// Uses composite primary key (RunID, ObjectID) - ObjectID is the id the host assigned.
//
// Command: :VEHICLE:CREATE:
type Vehicle struct {
	RunID     uint      `json:"runId" gorm:"primaryKey;autoIncrement:false"`
	ObjectID  uint16    `json:"vehicleId" gorm:"primaryKey;autoIncrement:false"`
	Run       Run       `gorm:"foreignkey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	JoinTime  time.Time `json:"joinTime" gorm:"type:timestamptz;NOT NULL;index:idx_vehicle_join_time"`
	JoinFrame uint      `json:"joinFrame"`
	Name      string    `json:"name" gorm:"size:64"`
	Mass      float64   `json:"mass"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// Wheel is the static description of one wheel attached to a vehicle.
//
// Command: :VEHICLE:WHEEL:ADD:
type Wheel struct {
	ID              uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID           uint    `json:"runId" gorm:"uniqueIndex:idx_wheel_handle"`
	VehicleObjectID uint16  `json:"vehicleId" gorm:"uniqueIndex:idx_wheel_handle"`
	Vehicle         Vehicle `gorm:"foreignkey:RunID,VehicleObjectID;references:RunID,ObjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Handle          uint32  `json:"handle" gorm:"uniqueIndex:idx_wheel_handle"`
	// Mount is the hard point in chassis space.
	Mount            geom.Point     `json:"mount"`
	MountOrientation string         `json:"mountOrientation" gorm:"size:96"` // quaternion [w,x,y,z] as string
	Tire             datatypes.JSON `json:"tire" gorm:"type:jsonb;default:'{}'"`
}

func (*Wheel) TableName() string {
	return "wheels"
}

// VehicleSample is a telemetry snapshot of a vehicle after a substep.
// References Vehicle by (RunID, VehicleObjectID) composite FK
type VehicleSample struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID           uint      `json:"runId" gorm:"index:idx_vehiclesample_run_id"`
	Run             Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	CaptureFrame    uint      `json:"captureFrame" gorm:"index:idx_vehiclesample_capture_frame"`
	VehicleObjectID uint16    `json:"vehicleId" gorm:"index:idx_vehiclesample_vehicle_id"`
	Vehicle         Vehicle   `gorm:"foreignkey:RunID,VehicleObjectID;references:RunID,ObjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	SimTime         float64   `json:"simTime"`

	// Position holds local X/Z as the 2D point, Elevation is local Y.
	Position     geom.Point     `json:"position"`
	Elevation    float64        `json:"elevation"`
	Velocity     string         `json:"velocity" gorm:"size:96"` // [x,y,z] as string
	NetForce     string         `json:"netForce" gorm:"size:96"` // [x,y,z] as string
	Speed        float64        `json:"speed"`
	Contacts     uint8          `json:"contacts"`
	RescueActive bool           `json:"rescueActive" gorm:"default:false"`
	Throttle     float64        `json:"throttle"`
	Steer        float64        `json:"steer"`
	Brake        float64        `json:"brake"`
	Handbrake    float64        `json:"handbrake"`
	Ignition     bool           `json:"ignition"`
	Wheels       datatypes.JSON `json:"wheels" gorm:"type:jsonb;default:'[]'"`
}

func (*VehicleSample) TableName() string {
	return "vehicle_samples"
}

// RecoveryEvent records a recovery intervention.
type RecoveryEvent struct {
	ID              uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time  `json:"time" gorm:"type:timestamptz;"`
	RunID           uint       `json:"runId" gorm:"index:idx_recoveryevent_run_id"`
	Run             Run        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	CaptureFrame    uint       `json:"captureFrame" gorm:"index:idx_recoveryevent_capture_frame"`
	VehicleObjectID uint16     `json:"vehicleId" gorm:"index:idx_recoveryevent_vehicle_id"`
	Vehicle         Vehicle    `gorm:"foreignkey:RunID,VehicleObjectID;references:RunID,ObjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	SimTime         float64    `json:"simTime"`
	Kind            string     `json:"kind" gorm:"size:32;index:idx_recoveryevent_kind"`
	Impulse         string     `json:"impulse" gorm:"size:96"` // [x,y,z] as string
	Position        geom.Point `json:"position"`
	Elevation       float64    `json:"elevation"`
}

func (*RecoveryEvent) TableName() string {
	return "recovery_events"
}

// RecorderPerformance is the model for recorder performance metrics
type RecorderPerformance struct {
	Time                time.Time         `json:"time" gorm:"type:timestamptz;index:idx_time"`
	RunID               uint              `json:"runId" gorm:"index:idx_recorderperformance_run_id"`
	Run                 Run               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Vehicles            uint16            `json:"vehicles"`
	BufferLengths       BufferLengths     `json:"bufferLengths" gorm:"embedded;embeddedPrefix:buffer_"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*RecorderPerformance) TableName() string {
	return "recorder_performances"
}

// BufferLengths is the model for the dispatcher buffer lengths
type BufferLengths struct {
	Samples        uint16 `json:"samples"`
	RecoveryEvents uint16 `json:"recoveryEvents"`
}

// WriteQueueLengths is the model for the database write queue lengths
type WriteQueueLengths struct {
	Vehicles       uint16 `json:"vehicles"`
	Wheels         uint16 `json:"wheels"`
	Samples        uint16 `json:"samples"`
	RecoveryEvents uint16 `json:"recoveryEvents"`
}
