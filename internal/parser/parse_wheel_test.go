package parser

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

func TestParseTire_Defaults(t *testing.T) {
	tire, err := ParseTire(`{}`)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultTireConfiguration(), tire)
}

func TestParseTire_Overrides(t *testing.T) {
	tire, err := ParseTire(`{"radius":0.42,"springLength":0.3,"steered":true,"driven":true,"braked":false,"handbrake":true,"side":"left","steerSide":-1}`)
	require.NoError(t, err)

	assert.Equal(t, 0.42, tire.Radius)
	assert.Equal(t, 0.3, tire.SpringLength)
	assert.True(t, tire.Steered())
	assert.True(t, tire.Driven())
	assert.False(t, tire.Braked())
	assert.True(t, tire.Handbrake)
	assert.Equal(t, core.SideLeft, tire.Side)
	assert.Equal(t, -1.0, tire.SteerSide)
	// untouched fields keep the defaults
	assert.Equal(t, core.DefaultTireConfiguration().SpringConst, tire.SpringConst)
}

func TestParseTire_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad json":        `{radius}`,
		"zero radius":     `{"radius":0}`,
		"negative spring": `{"springConst":-1}`,
		"bad side":        `{"side":"top"}`,
		"bad steer side":  `{"steerSide":0.5}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTire(raw)
			assert.Error(t, err)
		})
	}

	_, err := ParseTire(`{"radius":-1}`)
	assert.True(t, errors.Is(err, core.ErrInvalidTire))
}

func TestParseWheel(t *testing.T) {
	p := newTestParser()

	// the host escapes quotes inside string arguments
	spec, err := p.ParseWheel([]string{"7", `"{""radius"":0.4,""driven"":true}"`, "[0.8,-0.2,1.4]"})
	require.NoError(t, err)
	assert.Equal(t, uint16(7), spec.VehicleID)
	assert.Equal(t, 0.4, spec.Tire.Radius)
	assert.True(t, spec.Tire.Driven())
	assert.Equal(t, mgl64.Vec3{0.8, -0.2, 1.4}, spec.Mount.Position)
	assert.Equal(t, mgl64.QuatIdent(), spec.Mount.Orientation)

	spec, err = p.ParseWheel([]string{"7", `{}`, "[0,0,0]", "[1,0,0,0]"})
	require.NoError(t, err)
	assert.Equal(t, mgl64.QuatIdent(), spec.Mount.Orientation)

	_, err = p.ParseWheel([]string{"7", `{}`, "[0,0]"})
	assert.Error(t, err)

	_, err = p.ParseWheel([]string{"7", `{}`})
	assert.True(t, errors.Is(err, ErrMissingArgs))
}

func TestParseWheelHandle(t *testing.T) {
	p := newTestParser()

	id, h, err := p.ParseWheelHandle([]string{"7", "3.00"})
	require.NoError(t, err)
	assert.Equal(t, uint16(7), id)
	assert.Equal(t, core.WheelHandle(3), h)

	_, _, err = p.ParseWheelHandle([]string{"7", "-3"})
	assert.Error(t, err)
}
