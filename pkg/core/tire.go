// pkg/core/tire.go
package core

import (
	"errors"
	"fmt"
)

// SteerRole says whether a wheel follows the steering input.
type SteerRole uint8

const (
	SteerNone SteerRole = iota
	SteerSteered
)

// DriveRole says whether the motor acts on a wheel.
type DriveRole uint8

const (
	DriveNone DriveRole = iota
	DriveDriven
)

// BrakeRole says whether the service brake acts on a wheel.
type BrakeRole uint8

const (
	BrakeNone BrakeRole = iota
	BrakeBraked
)

// WheelSide is the side of the chassis a wheel is mounted on. It only affects
// the sign of the visual spin.
type WheelSide int8

const (
	SideLeft  WheelSide = -1
	SideRight WheelSide = 1
)

// ErrInvalidTire is wrapped by every TireConfiguration validation failure.
var ErrInvalidTire = errors.New("invalid tire configuration")

// TireConfiguration is fixed once the wheel is attached to a vehicle.
type TireConfiguration struct {
	LateralFriction      float64   `json:"lateralFriction"`
	LongitudinalFriction float64   `json:"longitudinalFriction"`
	SpringConst          float64   `json:"springConst"`
	SpringDamp           float64   `json:"springDamp"`
	SpringLength         float64   `json:"springLength"`
	Radius               float64   `json:"radius"`
	Width                float64   `json:"width"`
	MassFraction         float64   `json:"massFraction"`
	Steer                SteerRole `json:"steer"`
	SteerSide            float64   `json:"steerSide"`
	Drive                DriveRole `json:"drive"`
	Brake                BrakeRole `json:"brake"`
	Handbrake            bool      `json:"handbrake"`
	Side                 WheelSide `json:"side"`
}

// DefaultTireConfiguration returns a non-steered, non-driven, braked wheel.
func DefaultTireConfiguration() TireConfiguration {
	return TireConfiguration{
		LateralFriction:      0.9,
		LongitudinalFriction: 0.9,
		SpringConst:          100,
		SpringDamp:           10,
		SpringLength:         0.5,
		Radius:               0.35,
		Width:                0.25,
		MassFraction:         0.25,
		SteerSide:            1,
		Brake:                BrakeBraked,
		Side:                 SideRight,
	}
}

// Validate rejects configurations no wheel can be built from. A zero spring
// length is accepted here; the probe clamps it.
func (c TireConfiguration) Validate() error {
	switch {
	case c.Radius <= 0:
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidTire, c.Radius)
	case c.SpringLength < 0:
		return fmt.Errorf("%w: spring length must not be negative, got %v", ErrInvalidTire, c.SpringLength)
	case c.SpringConst < 0 || c.SpringDamp < 0:
		return fmt.Errorf("%w: spring and damper constants must not be negative", ErrInvalidTire)
	case c.LateralFriction < 0 || c.LongitudinalFriction < 0:
		return fmt.Errorf("%w: friction coefficients must not be negative", ErrInvalidTire)
	case c.MassFraction <= 0:
		return fmt.Errorf("%w: mass fraction must be positive, got %v", ErrInvalidTire, c.MassFraction)
	case c.SteerSide != 1 && c.SteerSide != -1:
		return fmt.Errorf("%w: steer side must be -1 or 1, got %v", ErrInvalidTire, c.SteerSide)
	}
	return nil
}

// Steered reports whether the wheel follows the steering input.
func (c TireConfiguration) Steered() bool { return c.Steer == SteerSteered }

// Driven reports whether the motor acts on the wheel.
func (c TireConfiguration) Driven() bool { return c.Drive == DriveDriven }

// Braked reports whether the service brake acts on the wheel.
func (c TireConfiguration) Braked() bool { return c.Brake == BrakeBraked }
