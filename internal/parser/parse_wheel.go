package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nowa-engine/raycastvehicle/internal/util"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// tireArgs is the JSON the host sends for a tire. Absent fields keep the default.
type tireArgs struct {
	LateralFriction      *float64 `json:"lateralFriction"`
	LongitudinalFriction *float64 `json:"longitudinalFriction"`
	SpringConst          *float64 `json:"springConst"`
	SpringDamp           *float64 `json:"springDamp"`
	SpringLength         *float64 `json:"springLength"`
	Radius               *float64 `json:"radius"`
	Width                *float64 `json:"width"`
	MassFraction         *float64 `json:"massFraction"`
	Steered              *bool    `json:"steered"`
	SteerSide            *float64 `json:"steerSide"`
	Driven               *bool    `json:"driven"`
	Braked               *bool    `json:"braked"`
	Handbrake            *bool    `json:"handbrake"`
	Side                 string   `json:"side"`
}

// ParseTire decodes a tire JSON object over DefaultTireConfiguration and validates it.
func ParseTire(raw string) (core.TireConfiguration, error) {
	tire := core.DefaultTireConfiguration()

	var a tireArgs
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return tire, fmt.Errorf("error unmarshalling tire: %w", err)
	}

	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat(&tire.LateralFriction, a.LateralFriction)
	setFloat(&tire.LongitudinalFriction, a.LongitudinalFriction)
	setFloat(&tire.SpringConst, a.SpringConst)
	setFloat(&tire.SpringDamp, a.SpringDamp)
	setFloat(&tire.SpringLength, a.SpringLength)
	setFloat(&tire.Radius, a.Radius)
	setFloat(&tire.Width, a.Width)
	setFloat(&tire.MassFraction, a.MassFraction)
	setFloat(&tire.SteerSide, a.SteerSide)

	if a.Steered != nil {
		tire.Steer = core.SteerNone
		if *a.Steered {
			tire.Steer = core.SteerSteered
		}
	}
	if a.Driven != nil {
		tire.Drive = core.DriveNone
		if *a.Driven {
			tire.Drive = core.DriveDriven
		}
	}
	if a.Braked != nil {
		tire.Brake = core.BrakeNone
		if *a.Braked {
			tire.Brake = core.BrakeBraked
		}
	}
	if a.Handbrake != nil {
		tire.Handbrake = *a.Handbrake
	}

	switch strings.ToLower(a.Side) {
	case "":
	case "left":
		tire.Side = core.SideLeft
	case "right":
		tire.Side = core.SideRight
	default:
		return tire, fmt.Errorf("%w: side must be left or right, got %q", core.ErrInvalidTire, a.Side)
	}

	if err := tire.Validate(); err != nil {
		return tire, err
	}
	return tire, nil
}

// ParseWheel parses [vehicleId, tireJSON, mount, mountOrientation?].
func (p *Parser) ParseWheel(data []string) (WheelSpec, error) {
	var spec WheelSpec
	if err := requireArgs(data, 3, "wheel"); err != nil {
		return spec, err
	}

	// fix received data
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return spec, err
	}
	spec.VehicleID = id

	spec.Tire, err = ParseTire(data[1])
	if err != nil {
		return spec, err
	}

	mount, err := ParseVec3(data[2])
	if err != nil {
		return spec, fmt.Errorf("error parsing mount: %w", err)
	}
	orientation, err := ParseOrientation(optional(data, 3))
	if err != nil {
		return spec, fmt.Errorf("error parsing mount orientation: %w", err)
	}
	spec.Mount = core.NewPose(mount, orientation)

	p.logger.Debug("Parsed wheel", "vehicle", spec.VehicleID, "radius", spec.Tire.Radius)
	return spec, nil
}

// ParseWheelHandle parses [vehicleId, wheelHandle].
func (p *Parser) ParseWheelHandle(data []string) (uint16, core.WheelHandle, error) {
	if err := requireArgs(data, 2, "wheel handle"); err != nil {
		return 0, 0, err
	}
	data = util.CleanArgs(data)

	id, err := parseVehicleID(data[0])
	if err != nil {
		return 0, 0, err
	}
	h, err := parseUintFromFloat(data[1])
	if err != nil {
		return 0, 0, fmt.Errorf("error converting wheel handle: %w", err)
	}
	return id, core.WheelHandle(h), nil
}
