// pkg/core/state.go
package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// SuspensionState is the per-wheel result of one probe. Travel is the distance
// from the hard point to the axle (SpringLength when fully extended); Compression
// is how far the spring is pushed in from rest, including the hard-limit margin
// once the wheel bottoms out.
type SuspensionState struct {
	Travel        float64    `json:"travel"`
	Compression   float64    `json:"compression"`
	Contact       bool       `json:"contact"`
	ContactPoint  mgl64.Vec3 `json:"contactPoint"`
	ContactNormal mgl64.Vec3 `json:"contactNormal"`
	ContactBody   BodyHandle `json:"contactBody"`
	Penetration   float64    `json:"penetration"`
	Load          float64    `json:"load"`
	AxlePosition  mgl64.Vec3 `json:"axlePosition"`
	AxleVelocity  mgl64.Vec3 `json:"axleVelocity"`
	SpinAngle     float64    `json:"spinAngle"`
	SteerAngle    float64    `json:"steerAngle"`
}

// DriverInput is one sample of driver intent. Steer is in degrees.
type DriverInput struct {
	Steer     float64 `json:"steer"`
	Throttle  float64 `json:"throttle"`
	Brake     float64 `json:"brake"`
	Handbrake float64 `json:"handbrake"`
	Ignition  bool    `json:"ignition"`
}

// Clamped returns a copy with every axis inside its legal range and NaNs zeroed.
func (in DriverInput) Clamped() DriverInput {
	return DriverInput{
		Steer:     sanitize(in.Steer, -180, 180),
		Throttle:  sanitize(in.Throttle, -1, 1),
		Brake:     sanitize(in.Brake, 0, 1),
		Handbrake: sanitize(in.Handbrake, 0, 1),
		Ignition:  in.Ignition,
	}
}

func sanitize(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return mgl64.Clamp(v, lo, hi)
}

// RecoveryState is the timer set owned by a vehicle's recovery monitor.
type RecoveryState struct {
	StuckTimer      float64 `json:"stuckTimer"`
	RescueActive    bool    `json:"rescueActive"`
	RescueRemaining float64 `json:"rescueRemaining"`
	PulseTimer      float64 `json:"pulseTimer"`
	PulseForward    bool    `json:"pulseForward"`
	RescueElapsed   float64 `json:"rescueElapsed"`

	AirborneTimer float64 `json:"airborneTimer"`
	Cooldown      float64 `json:"cooldown"`
	ToggleForward bool    `json:"toggleForward"`

	TippedTimer float64 `json:"tippedTimer"`
	TipCooldown float64 `json:"tipCooldown"`
}
