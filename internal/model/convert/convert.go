package convert

import (
	"encoding/json"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// pointToVec reverses groundPoint. elevation is used when the point carries no Z.
func pointToVec(p geom.Point, elevation float64) mgl64.Vec3 {
	c, ok := p.Coordinates()
	if !ok {
		return mgl64.Vec3{0, elevation, 0}
	}
	return mgl64.Vec3{c.XY.X, elevation, c.XY.Y}
}

func stringToVec(s string) mgl64.Vec3 {
	var v [3]float64
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func stringToQuat(s string) mgl64.Quat {
	var v [4]float64
	if err := json.Unmarshal([]byte(s), &v); err != nil || v == [4]float64{} {
		return mgl64.QuatIdent()
	}
	return mgl64.Quat{W: v[0], V: mgl64.Vec3{v[1], v[2], v[3]}}
}

// RunToCore converts a GORM model.Run to a core.Run.
func RunToCore(r *model.Run) core.Run {
	run := core.Run{
		ID:             r.ID,
		UUID:           r.UUID,
		Name:           r.Name,
		StartTime:      r.StartTime,
		Timestep:       r.Timestep,
		Substeps:       r.Substeps,
		OriginAltitude: r.OriginAltitude,
	}
	if c, ok := r.Origin.Coordinates(); ok {
		run.OriginLongitude = c.XY.X
		run.OriginLatitude = c.XY.Y
	}
	return run
}

// VehicleToCore converts a GORM model.Vehicle and its wheel rows to a core.VehicleInfo.
func VehicleToCore(v model.Vehicle, wheels []model.Wheel) core.VehicleInfo {
	info := core.VehicleInfo{
		ID:        v.ObjectID,
		Name:      v.Name,
		Mass:      v.Mass,
		JoinTime:  v.JoinTime,
		JoinFrame: v.JoinFrame,
	}
	for _, w := range wheels {
		if w.VehicleObjectID != v.ObjectID {
			continue
		}
		var tire core.TireConfiguration
		_ = json.Unmarshal(w.Tire, &tire)

		var mount mgl64.Vec3
		if c, ok := w.Mount.Coordinates(); ok {
			mount = mgl64.Vec3{c.XY.X, c.Z, c.XY.Y}
		}
		info.Wheels = append(info.Wheels, core.WheelInfo{
			Handle: core.WheelHandle(w.Handle),
			Mount:  core.NewPose(mount, stringToQuat(w.MountOrientation)),
			Tire:   tire,
		})
	}
	return info
}

// VehicleSampleToCore converts a GORM model.VehicleSample to a core.VehicleSample.
func VehicleSampleToCore(s model.VehicleSample) core.VehicleSample {
	out := core.VehicleSample{
		VehicleID:    s.VehicleObjectID,
		Time:         s.Time,
		Frame:        s.CaptureFrame,
		SimTime:      s.SimTime,
		Position:     pointToVec(s.Position, s.Elevation),
		Velocity:     stringToVec(s.Velocity),
		Speed:        s.Speed,
		NetForce:     stringToVec(s.NetForce),
		Contacts:     int(s.Contacts),
		RescueActive: s.RescueActive,
		Input: core.DriverInput{
			Steer:     s.Steer,
			Throttle:  s.Throttle,
			Brake:     s.Brake,
			Handbrake: s.Handbrake,
			Ignition:  s.Ignition,
		},
	}
	if len(s.Wheels) > 0 {
		_ = json.Unmarshal(s.Wheels, &out.Wheels)
	}
	return out
}

// RecoveryEventToCore converts a GORM model.RecoveryEvent to a core.RecoveryEvent.
func RecoveryEventToCore(e model.RecoveryEvent) core.RecoveryEvent {
	return core.RecoveryEvent{
		VehicleID: e.VehicleObjectID,
		Time:      e.Time,
		Frame:     e.CaptureFrame,
		SimTime:   e.SimTime,
		Kind:      core.RecoveryKind(e.Kind),
		Impulse:   stringToVec(e.Impulse),
		Position:  pointToVec(e.Position, e.Elevation),
	}
}
