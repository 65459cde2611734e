package parser

import (
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	p := NewParser(slog.Default())
	return p
}

func TestNewParser(t *testing.T) {
	p := newTestParser()
	require.NotNil(t, p)
}

func TestParseUintFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"integer", "32", 32, false},
		{"zero", "0", 0, false},
		{"float with decimals", "32.00", 32, false},
		{"float with trailing zero", "30.0", 30, false},
		{"large integer", "65535", 65535, false},
		{"large float", "65535.00", 65535, false},
		{"fractional rejects", "10.99", 0, true},
		{"empty string", "", 0, true},
		{"non-numeric", "abc", 0, true},
		{"negative", "-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseUintFromFloat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseIntFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"integer", "32", 32, false},
		{"zero", "0", 0, false},
		{"negative integer", "-1", -1, false},
		{"float with decimals", "32.00", 32, false},
		{"negative float", "-1.00", -1, false},
		{"large integer", "65535", 65535, false},
		{"fractional rejects", "10.99", 0, true},
		{"empty string", "", 0, true},
		{"non-numeric", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIntFromFloat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}


func TestParseVec3(t *testing.T) {
	v, err := ParseVec3("[1, -2.5, 3]")
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{1, -2.5, 3}, v)

	_, err = ParseVec3("[1,2]")
	assert.Error(t, err)

	_, err = ParseVec3("[1,NaN,2]")
	assert.Error(t, err)
}

func TestParseOrientation(t *testing.T) {
	q, err := ParseOrientation("")
	require.NoError(t, err)
	assert.Equal(t, mgl64.QuatIdent(), q)

	// yaw 90 degrees turns +Z into +X
	q, err = ParseOrientation("[0,90,0]")
	require.NoError(t, err)
	fwd := q.Rotate(mgl64.Vec3{0, 0, 1})
	assert.InDelta(t, 1, fwd.X(), 1e-9)
	assert.InDelta(t, 0, fwd.Z(), 1e-9)

	q, err = ParseOrientation("[2,0,0,0]")
	require.NoError(t, err)
	assert.InDelta(t, 1, q.Len(), 1e-12)

	_, err = ParseOrientation("[0,0,0,0]")
	assert.Error(t, err)

	_, err = ParseOrientation("[1,2]")
	assert.Error(t, err)
}

func TestParseVehicleID(t *testing.T) {
	p := newTestParser()

	id, err := p.ParseVehicleID([]string{`"12.00"`})
	require.NoError(t, err)
	assert.Equal(t, uint16(12), id)

	_, err = p.ParseVehicleID(nil)
	assert.True(t, errors.Is(err, ErrMissingArgs))

	_, err = p.ParseVehicleID([]string{"70000"})
	assert.Error(t, err)
}

func TestParseRun(t *testing.T) {
	p := newTestParser()

	run, err := p.ParseRun([]string{`"hill climb"`, "0.0166", "4", `"13.4,52.5,34"`})
	require.NoError(t, err)
	assert.Equal(t, "hill climb", run.Name)
	assert.Equal(t, 0.0166, run.Timestep)
	assert.Equal(t, 4, run.Substeps)
	assert.Equal(t, 13.4, run.OriginLongitude)
	assert.Equal(t, 52.5, run.OriginLatitude)
	assert.Equal(t, 34.0, run.OriginAltitude)
	assert.False(t, run.StartTime.IsZero())

	run, err = p.ParseRun([]string{"flat", "0.01", "1"})
	require.NoError(t, err)
	assert.Zero(t, run.OriginLatitude)

	for name, args := range map[string][]string{
		"zero timestep":  {"x", "0", "1"},
		"no substeps":    {"x", "0.01", "0"},
		"bad origin":     {"x", "0.01", "1", "13.4,95"},
		"too few args":   {"x", "0.01"},
		"non-numeric dt": {"x", "fast", "1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseRun(args)
			assert.Error(t, err)
		})
	}
}

func TestParseVehicle(t *testing.T) {
	p := newTestParser()

	spec, err := p.ParseVehicle([]string{"3", `"buggy"`, "[0,1.2,0]", "[0.9,0.4,2]", "1200", "[0,90,0]", "[0,-0.3,0.1]"})
	require.NoError(t, err)
	assert.Equal(t, uint16(3), spec.ID)
	assert.Equal(t, "buggy", spec.Name)
	assert.Equal(t, mgl64.Vec3{0, 1.2, 0}, spec.Pose.Position)
	assert.Equal(t, mgl64.Vec3{0.9, 0.4, 2}, spec.HalfExtents)
	assert.Equal(t, 1200.0, spec.Mass)
	assert.True(t, spec.HasCOM)
	assert.Equal(t, mgl64.Vec3{0, -0.3, 0.1}, spec.CenterOfMass)
	assert.InDelta(t, 1, spec.Pose.Right().Mul(-1).Z(), 1e-9)

	spec, err = p.ParseVehicle([]string{"4", "car", "[0,1,0]", "[1,0.5,2]", "900"})
	require.NoError(t, err)
	assert.False(t, spec.HasCOM)
	assert.Equal(t, mgl64.QuatIdent(), spec.Pose.Orientation)

	_, err = p.ParseVehicle([]string{"4", "car", "[0,1,0]", "[1,0,2]", "900"})
	assert.Error(t, err, "flat box")

	_, err = p.ParseVehicle([]string{"4", "car", "[0,1,0]", "[1,0.5,2]", "-5"})
	assert.Error(t, err, "negative mass")
}

func TestParseDriverInput(t *testing.T) {
	p := newTestParser()

	cmd, err := p.ParseDriverInput([]string{"1", "30", "0.5", "0", "0"})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), cmd.VehicleID)
	assert.Equal(t, 30.0, cmd.Input.Steer)
	assert.Equal(t, 0.5, cmd.Input.Throttle)
	assert.True(t, cmd.Input.Ignition, "ignition defaults on")

	cmd, err = p.ParseDriverInput([]string{"1", "500", "3", "-1", "2", "false"})
	require.NoError(t, err)
	assert.Equal(t, 180.0, cmd.Input.Steer)
	assert.Equal(t, 1.0, cmd.Input.Throttle)
	assert.Equal(t, 0.0, cmd.Input.Brake)
	assert.Equal(t, 1.0, cmd.Input.Handbrake)
	assert.False(t, cmd.Input.Ignition)

	_, err = p.ParseDriverInput([]string{"1", "0", "NaN", "0", "0"})
	assert.Error(t, err)

	_, err = p.ParseDriverInput([]string{"1", "0"})
	assert.True(t, errors.Is(err, ErrMissingArgs))
}

func TestParseToggle(t *testing.T) {
	p := newTestParser()

	id, on, err := p.ParseToggle([]string{"5", "false"})
	require.NoError(t, err)
	assert.Equal(t, uint16(5), id)
	assert.False(t, on)

	_, _, err = p.ParseToggle([]string{"5", "maybe"})
	assert.Error(t, err)
}

func TestParseStrength(t *testing.T) {
	p := newTestParser()

	id, s, extra, err := p.ParseStrength([]string{"2", "0.75", "-1"})
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, 0.75, s)
	assert.Equal(t, []string{"-1"}, extra)

	_, _, _, err = p.ParseStrength([]string{"2", "strong"})
	assert.Error(t, err)
}

func TestParseFinite(t *testing.T) {
	_, err := parseFinite("Inf")
	assert.Error(t, err)
	f, err := parseFinite("1e3")
	require.NoError(t, err)
	assert.False(t, math.IsInf(f, 0))
}
