// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// groundPoint maps a local position onto a point: X/Z become the plane, Y is kept as Z.
func groundPoint(v mgl64.Vec3) (geom.Point, error) {
	coords := geom.Coordinates{XY: geom.XY{X: v.X(), Y: v.Z()}, Z: v.Y(), Type: geom.DimXYZ}
	pt, err := geom.NewPoint(coords)
	if err != nil {
		return geom.Point{}, fmt.Errorf("invalid position %v: %w", v, err)
	}
	return pt, nil
}

func vecToString(v mgl64.Vec3) string {
	data, _ := json.Marshal([3]float64(v))
	return string(data)
}

func quatToString(q mgl64.Quat) string {
	data, _ := json.Marshal([4]float64{q.W, q.V.X(), q.V.Y(), q.V.Z()})
	return string(data)
}

func toJSON(v any, empty string) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return datatypes.JSON(empty)
	}
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run.
func CoreToRun(r core.Run) (model.Run, error) {
	origin, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: r.OriginLongitude, Y: r.OriginLatitude}})
	if err != nil {
		return model.Run{}, fmt.Errorf("invalid run origin: %w", err)
	}
	run := model.Run{
		UUID:           r.UUID,
		Name:           r.Name,
		StartTime:      r.StartTime,
		Timestep:       r.Timestep,
		Substeps:       r.Substeps,
		Origin:         origin,
		OriginAltitude: r.OriginAltitude,
	}
	run.ID = r.ID
	return run, nil
}

// CoreToVehicle converts a core.VehicleInfo to a GORM model.Vehicle.
// core.VehicleInfo.ID maps to GORM Vehicle.ObjectID.
func CoreToVehicle(v core.VehicleInfo) model.Vehicle {
	return model.Vehicle{
		ObjectID:  v.ID,
		JoinTime:  v.JoinTime,
		JoinFrame: v.JoinFrame,
		Name:      v.Name,
		Mass:      v.Mass,
	}
}

// CoreToWheels converts the wheels of a core.VehicleInfo to GORM rows.
func CoreToWheels(v core.VehicleInfo) ([]model.Wheel, error) {
	wheels := make([]model.Wheel, 0, len(v.Wheels))
	for _, w := range v.Wheels {
		mount, err := groundPoint(w.Mount.Position)
		if err != nil {
			return nil, fmt.Errorf("wheel %d: %w", w.Handle, err)
		}
		wheels = append(wheels, model.Wheel{
			VehicleObjectID:  v.ID,
			Handle:           uint32(w.Handle),
			Mount:            mount,
			MountOrientation: quatToString(w.Mount.Orientation),
			Tire:             toJSON(w.Tire, "{}"),
		})
	}
	return wheels, nil
}

// CoreToVehicleSample converts a core.VehicleSample to a GORM model.VehicleSample.
func CoreToVehicleSample(s core.VehicleSample) (model.VehicleSample, error) {
	pos, err := groundPoint(s.Position)
	if err != nil {
		return model.VehicleSample{}, err
	}
	return model.VehicleSample{
		Time:            s.Time,
		CaptureFrame:    s.Frame,
		VehicleObjectID: s.VehicleID,
		SimTime:         s.SimTime,
		Position:        pos,
		Elevation:       s.Position.Y(),
		Velocity:        vecToString(s.Velocity),
		NetForce:        vecToString(s.NetForce),
		Speed:           s.Speed,
		Contacts:        uint8(min(s.Contacts, 255)),
		RescueActive:    s.RescueActive,
		Throttle:        s.Input.Throttle,
		Steer:           s.Input.Steer,
		Brake:           s.Input.Brake,
		Handbrake:       s.Input.Handbrake,
		Ignition:        s.Input.Ignition,
		Wheels:          toJSON(s.Wheels, "[]"),
	}, nil
}

// CoreToRecoveryEvent converts a core.RecoveryEvent to a GORM model.RecoveryEvent.
func CoreToRecoveryEvent(e core.RecoveryEvent) (model.RecoveryEvent, error) {
	pos, err := groundPoint(e.Position)
	if err != nil {
		return model.RecoveryEvent{}, err
	}
	return model.RecoveryEvent{
		Time:            e.Time,
		CaptureFrame:    e.Frame,
		VehicleObjectID: e.VehicleID,
		SimTime:         e.SimTime,
		Kind:            string(e.Kind),
		Impulse:         vecToString(e.Impulse),
		Position:        pos,
		Elevation:       e.Position.Y(),
	}, nil
}
