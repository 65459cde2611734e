package parser

import (
	"fmt"

	"github.com/nowa-engine/raycastvehicle/internal/util"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// ParseVehicle parses [id, name, position, halfExtents, mass, orientation?, centerOfMass?].
func (p *Parser) ParseVehicle(data []string) (VehicleSpec, error) {
	var spec VehicleSpec
	if err := requireArgs(data, 5, "vehicle"); err != nil {
		return spec, err
	}

	// fix received data
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return spec, err
	}
	spec.ID = id
	spec.Name = data[1]

	position, err := ParseVec3(data[2])
	if err != nil {
		return spec, fmt.Errorf("error parsing position: %w", err)
	}

	spec.HalfExtents, err = ParseVec3(data[3])
	if err != nil {
		return spec, fmt.Errorf("error parsing half extents: %w", err)
	}
	for _, h := range spec.HalfExtents {
		if h <= 0 {
			return spec, fmt.Errorf("half extents must be positive, got %v", spec.HalfExtents)
		}
	}

	spec.Mass, err = parseFinite(data[4])
	if err != nil {
		return spec, fmt.Errorf("error converting mass: %w", err)
	}
	if spec.Mass <= 0 {
		return spec, fmt.Errorf("mass must be positive, got %v", spec.Mass)
	}

	orientation, err := ParseOrientation(optional(data, 5))
	if err != nil {
		return spec, fmt.Errorf("error parsing orientation: %w", err)
	}
	spec.Pose = core.NewPose(position, orientation)

	if com := optional(data, 6); com != "" {
		spec.CenterOfMass, err = ParseVec3(com)
		if err != nil {
			return spec, fmt.Errorf("error parsing center of mass: %w", err)
		}
		spec.HasCOM = true
	}

	return spec, nil
}

// ParseDriverInput parses [id, steer, throttle, brake, handbrake, ignition?].
// Ignition defaults to on. Values are clamped to their legal ranges.
func (p *Parser) ParseDriverInput(data []string) (InputCommand, error) {
	var cmd InputCommand
	if err := requireArgs(data, 5, "driver input"); err != nil {
		return cmd, err
	}

	// fix received data
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return cmd, err
	}
	cmd.VehicleID = id

	axes := []struct {
		name string
		dst  *float64
	}{
		{"steer", &cmd.Input.Steer},
		{"throttle", &cmd.Input.Throttle},
		{"brake", &cmd.Input.Brake},
		{"handbrake", &cmd.Input.Handbrake},
	}
	for i, a := range axes {
		v, err := parseFinite(data[i+1])
		if err != nil {
			return cmd, fmt.Errorf("error converting %s: %w", a.name, err)
		}
		*a.dst = v
	}

	cmd.Input.Ignition = true
	if s := optional(data, 5); s != "" {
		on, err := util.ParseBool(s)
		if err != nil {
			return cmd, fmt.Errorf("error converting ignition: %w", err)
		}
		cmd.Input.Ignition = on
	}

	cmd.Input = cmd.Input.Clamped()
	return cmd, nil
}

// ParseToggle parses [id, bool], used for switches such as drive enable.
func (p *Parser) ParseToggle(data []string) (uint16, bool, error) {
	if err := requireArgs(data, 2, "toggle"); err != nil {
		return 0, false, err
	}
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return 0, false, err
	}
	on, err := util.ParseBool(data[1])
	if err != nil {
		return 0, false, err
	}
	return id, on, nil
}

// ParseStrength parses [id, strength, extra...] for the stunt helpers. Extra values
// are returned as-is.
func (p *Parser) ParseStrength(data []string) (uint16, float64, []string, error) {
	if err := requireArgs(data, 2, "strength"); err != nil {
		return 0, 0, nil, err
	}
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return 0, 0, nil, err
	}
	strength, err := parseFinite(data[1])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("error converting strength: %w", err)
	}
	return id, strength, data[2:], nil
}

func optional(data []string, i int) string {
	if i < len(data) {
		return data[i]
	}
	return ""
}
