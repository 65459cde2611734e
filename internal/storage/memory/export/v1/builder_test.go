package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runData() *RunData {
	tire := core.DefaultTireConfiguration()
	tire.Drive = core.DriveDriven
	return &RunData{
		Run: &core.Run{
			UUID:      "run-uuid",
			Name:      "sandbox",
			StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Timestep:  1.0 / 60,
			Substeps:  1,
		},
		SimulatorVersion: "1.2.3",
		Vehicles: map[uint16]*VehicleRecord{
			2: {
				Vehicle: core.VehicleInfo{ID: 2, Name: "second", JoinFrame: 5},
				Samples: []core.VehicleSample{{VehicleID: 2, Frame: 5, Position: mgl64.Vec3{1, 1, 1}}},
				Events: []core.RecoveryEvent{
					{VehicleID: 2, Frame: 40, Kind: core.RecoveryTipCorrection},
				},
			},
			1: {
				Vehicle: core.VehicleInfo{
					ID:   1,
					Name: "first",
					Mass: 1000,
					Wheels: []core.WheelInfo{
						{Handle: 3, Mount: core.NewPose(mgl64.Vec3{-0.8, -0.3, -1.3}, mgl64.QuatIdent()), Tire: tire},
					},
				},
				Samples: []core.VehicleSample{
					{VehicleID: 1, Frame: 0, Position: mgl64.Vec3{0, 1.0334, 0}, Speed: 0.12345, Contacts: 4},
					{VehicleID: 1, Frame: 60, Position: mgl64.Vec3{0, 1.0334, 3}, Speed: 2, Contacts: 4, RescueActive: true},
				},
				Events: []core.RecoveryEvent{
					{VehicleID: 1, Frame: 20, Kind: core.RecoveryAirborneImpulse, Impulse: mgl64.Vec3{0, 2683.2816, 1341.6408}},
				},
			},
		},
	}
}

func TestBuild_Header(t *testing.T) {
	export := Build(runData())

	assert.Equal(t, FormatVersion, export.FormatVersion)
	assert.Equal(t, "1.2.3", export.SimulatorVersion)
	assert.Equal(t, "run-uuid", export.RunID)
	assert.Equal(t, "2026-03-01T12:00:00Z", export.StartTime)
	assert.Equal(t, uint(60), export.EndFrame)
	assert.Nil(t, export.Origin)
}

func TestBuild_EntitiesSortedByID(t *testing.T) {
	export := Build(runData())

	require.Len(t, export.Entities, 2)
	assert.Equal(t, uint16(1), export.Entities[0].ID)
	assert.Equal(t, uint16(2), export.Entities[1].ID)

	first := export.Entities[0]
	require.Len(t, first.Wheels, 1)
	assert.True(t, first.Wheels[0].Driven)
	assert.False(t, first.Wheels[0].Steered)
	assert.Equal(t, [3]float64{-0.8, -0.3, -1.3}, first.Wheels[0].Mount)

	require.Len(t, first.Positions, 2)
	assert.Equal(t, []any{uint(0), []float64{0, 1.033, 0}, 0.123, 4, 0}, first.Positions[0])
	assert.Equal(t, 1, first.Positions[1][4])
}

func TestBuild_TrackOnlyWhenMoving(t *testing.T) {
	export := Build(runData())

	require.NotNil(t, export.Entities[0].Track)
	var track map[string]any
	require.NoError(t, json.Unmarshal(export.Entities[0].Track, &track))
	assert.Equal(t, "LineString", track["type"])

	// a single sample has no track
	assert.Nil(t, export.Entities[1].Track)
}

func TestBuild_EventsOrderedByFrame(t *testing.T) {
	export := Build(runData())

	require.Len(t, export.Events, 2)
	assert.Equal(t, uint(20), export.Events[0][0])
	assert.Equal(t, "airborne_impulse", export.Events[0][1])
	assert.Equal(t, []float64{0, 2683.282, 1341.641}, export.Events[0][3])
	assert.Equal(t, uint(40), export.Events[1][0])
	assert.Equal(t, "tip_correction", export.Events[1][1])
}

func TestBuild_Georeferenced(t *testing.T) {
	data := runData()
	data.Run.OriginLongitude = 8.54
	data.Run.OriginLatitude = 47.37
	data.Run.OriginAltitude = 400

	export := Build(data)
	assert.Equal(t, []float64{8.54, 47.37, 400}, export.Origin)

	var track struct {
		Coordinates [][]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(export.Entities[0].Track, &track))
	require.Len(t, track.Coordinates, 2)
	assert.InDelta(t, 8.54, track.Coordinates[0][0], 1e-9)
	assert.InDelta(t, 47.37, track.Coordinates[0][1], 1e-9)
	assert.Greater(t, track.Coordinates[1][1], 47.37)
}

func TestBuild_Empty(t *testing.T) {
	export := Build(&RunData{Run: &core.Run{}})
	assert.NotNil(t, export.Entities)
	assert.NotNil(t, export.Events)
	assert.Equal(t, uint(0), export.EndFrame)
}
