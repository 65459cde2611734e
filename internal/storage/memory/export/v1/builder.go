package v1

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/geo"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// FormatVersion is written into every export.
const FormatVersion = 1

// RunData contains all the data needed to build an export
type RunData struct {
	Run              *core.Run
	SimulatorVersion string
	Vehicles         map[uint16]*VehicleRecord
}

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Vehicle core.VehicleInfo
	Samples []core.VehicleSample
	Events  []core.RecoveryEvent
}

// Build creates an Export from the run data
func Build(data *RunData) Export {
	run := data.Run
	export := Export{
		FormatVersion:    FormatVersion,
		SimulatorVersion: data.SimulatorVersion,
		RunID:            run.UUID,
		RunName:          run.Name,
		StartTime:        run.StartTime.UTC().Format(time.RFC3339Nano),
		Timestep:         run.Timestep,
		Substeps:         run.Substeps,
		Entities:         make([]Entity, 0, len(data.Vehicles)),
		Events:           make([][]any, 0),
	}

	var georef *geo.Georeferencer
	if run.OriginLongitude != 0 || run.OriginLatitude != 0 {
		origin := geo.Origin{
			Longitude: run.OriginLongitude,
			Latitude:  run.OriginLatitude,
			Altitude:  run.OriginAltitude,
		}
		georef = geo.NewGeoreferencer(origin)
		export.Origin = []float64{origin.Longitude, origin.Latitude, origin.Altitude}
	}

	ids := make([]uint16, 0, len(data.Vehicles))
	for id := range data.Vehicles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	type frameEvent struct {
		frame uint
		row   []any
	}
	var events []frameEvent

	var maxFrame uint
	for _, id := range ids {
		record := data.Vehicles[id]
		entity := Entity{
			ID:            record.Vehicle.ID,
			Name:          record.Vehicle.Name,
			Mass:          record.Vehicle.Mass,
			StartFrameNum: record.Vehicle.JoinFrame,
			Wheels:        make([]Wheel, 0, len(record.Vehicle.Wheels)),
			Positions:     make([][]any, 0, len(record.Samples)),
		}

		for _, w := range record.Vehicle.Wheels {
			entity.Wheels = append(entity.Wheels, Wheel{
				Handle:    uint32(w.Handle),
				Mount:     w.Mount.Position,
				Radius:    w.Tire.Radius,
				Width:     w.Tire.Width,
				Steered:   w.Tire.Steered(),
				Driven:    w.Tire.Driven(),
				Braked:    w.Tire.Braked(),
				Handbrake: w.Tire.Handbrake,
			})
		}

		path := make([]mgl64.Vec3, 0, len(record.Samples))
		for _, s := range record.Samples {
			entity.Positions = append(entity.Positions, []any{
				s.Frame,
				roundVec(s.Position),
				round(s.Speed),
				s.Contacts,
				boolToInt(s.RescueActive),
			})
			path = append(path, s.Position)
			maxFrame = max(maxFrame, s.Frame)
		}
		entity.Track = buildTrack(georef, path)

		// Format: [frameNum, kind, vehicleId, [ix, iy, iz]]
		for _, e := range record.Events {
			events = append(events, frameEvent{
				frame: e.Frame,
				row:   []any{e.Frame, string(e.Kind), e.VehicleID, roundVec(e.Impulse)},
			})
			maxFrame = max(maxFrame, e.Frame)
		}

		export.Entities = append(export.Entities, entity)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].frame < events[j].frame })
	for _, e := range events {
		export.Events = append(export.Events, e.row)
	}

	export.EndFrame = maxFrame
	return export
}

func buildTrack(georef *geo.Georeferencer, path []mgl64.Vec3) json.RawMessage {
	var (
		data []byte
		err  error
	)
	if georef != nil {
		ls, terr := georef.Track(path)
		if terr != nil {
			return nil
		}
		data, err = json.Marshal(ls)
	} else {
		ls, terr := geo.LocalTrack(path)
		if terr != nil {
			return nil
		}
		data, err = json.Marshal(ls)
	}
	if err != nil {
		return nil
	}
	return data
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func roundVec(v mgl64.Vec3) []float64 {
	return []float64{round(v.X()), round(v.Y()), round(v.Z())}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
