// Package drive maps normalized driver intent onto one wheel's steer, motor and brake targets.
package drive

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// Targets are the per-wheel outputs of Resolve. Forces are in newtons, the angle in degrees.
type Targets struct {
	SteerAngle     float64
	MotorForce     float64
	BrakeForce     float64
	HandbrakeForce float64
}

// Braking reports whether any brake acts on the wheel.
func (t Targets) Braking() bool {
	return t.BrakeForce > 0 || t.HandbrakeForce > 0
}

type Controller struct {
	cfg config.DriveConfig
}

func New(cfg config.DriveConfig) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns the controller's tuning.
func (c *Controller) Config() config.DriveConfig {
	return c.cfg
}

// Resolve turns input into targets for a wheel configured as tire. Steering is limited
// to the configured maximum and mirrored by the wheel's steer side. The handbrake only
// acts on handbrake-capable wheels, whatever their brake role, and cancels the motor
// on those wheels. With the ignition off the motor is zero.
func (c *Controller) Resolve(in core.DriverInput, tire core.TireConfiguration) Targets {
	in = in.Clamped()
	var t Targets

	if tire.Steered() {
		t.SteerAngle = mgl64.Clamp(in.Steer, -c.cfg.MaxSteerAngle, c.cfg.MaxSteerAngle) * tire.SteerSide
	}
	if tire.Driven() && in.Ignition {
		t.MotorForce = in.Throttle * c.cfg.MotorForce
	}
	if tire.Braked() {
		t.BrakeForce = in.Brake * c.cfg.BrakeForce
	}
	if tire.Handbrake && in.Handbrake > 0 {
		t.HandbrakeForce = in.Handbrake * c.cfg.HandbrakeForce
		t.MotorForce = 0
	}
	return t
}

// Taper scales a motor force down as forwardSpeed approaches the top speed in the
// direction the force pushes. Forces that oppose the current motion are returned unchanged.
func (c *Controller) Taper(motor, forwardSpeed float64) float64 {
	if c.cfg.TopSpeed <= 0 || motor == 0 || math.Signbit(motor) != math.Signbit(forwardSpeed) {
		return motor
	}
	return motor * math.Max(0, 1-math.Abs(forwardSpeed)/c.cfg.TopSpeed)
}
