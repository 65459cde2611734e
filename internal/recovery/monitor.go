// Package recovery watches a vehicle for being stuck on terrain, stuck in the air or
// lying on its side, and decides when to intervene. Every timer runs on accumulated
// simulation time.
package recovery

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// Observation is what the vehicle reports to the monitor once per substep.
type Observation struct {
	// Throttle is the driver's demand before any rescue override.
	Throttle       float64
	Speed          float64
	GroundContacts int
	Up             mgl64.Vec3
	Forward        mgl64.Vec3
	Mass           float64
}

// Decision tells the vehicle what to do this substep.
type Decision struct {
	// Override replaces the motor demand on driven wheels with Throttle and adds
	// SteerWiggle degrees to steered wheels.
	Override    bool
	Throttle    float64
	SteerWiggle float64

	FireImpulse bool
	Impulse     mgl64.Vec3

	// TipOmega is the angular velocity, world space, that would bring the chassis
	// back upright. Zero when no correction is due.
	TipOmega mgl64.Vec3

	Events []core.RecoveryKind
}

type Monitor struct {
	cfg   config.RecoveryConfig
	state core.RecoveryState
}

func New(cfg config.RecoveryConfig) *Monitor {
	m := &Monitor{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns every detector to idle and clears the cooldowns.
func (m *Monitor) Reset() {
	m.state = core.RecoveryState{PulseForward: true, ToggleForward: true}
}

// State returns a copy of the monitor's timers.
func (m *Monitor) State() core.RecoveryState {
	return m.state
}

// Evaluate advances every detector by dt.
func (m *Monitor) Evaluate(obs Observation, dt float64) Decision {
	var d Decision
	if dt <= 0 || math.IsNaN(dt) {
		return d
	}
	m.evaluateGround(obs, dt, &d)
	m.evaluateAirborne(obs, dt, &d)
	m.evaluateTip(obs, dt, &d)
	return d
}

func (m *Monitor) stuckOnGround(obs Observation) bool {
	return math.Abs(obs.Throttle) > m.cfg.MotorThreshold &&
		obs.GroundContacts >= m.cfg.MinGroundContacts &&
		obs.Speed < m.cfg.SpeedThreshold
}

func (m *Monitor) evaluateGround(obs Observation, dt float64, d *Decision) {
	s := &m.state

	if !m.stuckOnGround(obs) {
		if s.RescueActive {
			d.Events = append(d.Events, core.RecoveryGroundRescueEnd)
		}
		m.endRescue()
		return
	}

	if !s.RescueActive {
		s.StuckTimer += dt
		if s.StuckTimer <= m.cfg.StuckDwell {
			return
		}
		s.RescueActive = true
		s.RescueRemaining = m.cfg.RescueDuration
		s.RescueElapsed = 0
		s.PulseTimer = 0
		s.PulseForward = true
		s.StuckTimer = 0
		d.Events = append(d.Events, core.RecoveryGroundRescueStart)
	} else {
		s.RescueRemaining -= dt
		s.RescueElapsed += dt
		s.PulseTimer += dt
		if m.cfg.PulsePeriod > 0 && s.PulseTimer >= m.cfg.PulsePeriod {
			s.PulseTimer -= m.cfg.PulsePeriod
			s.PulseForward = !s.PulseForward
		}
		if s.RescueRemaining <= 0 {
			d.Events = append(d.Events, core.RecoveryGroundRescueEnd)
			m.endRescue()
			return
		}
	}

	d.Override = true
	d.Throttle = m.cfg.RescueThrottle
	if !s.PulseForward {
		d.Throttle = -m.cfg.RescueThrottle
	}
	if m.cfg.PulsePeriod > 0 {
		d.SteerWiggle = m.cfg.WiggleAngle * math.Sin(2*math.Pi*s.RescueElapsed/m.cfg.PulsePeriod)
	}
}

func (m *Monitor) endRescue() {
	s := &m.state
	s.StuckTimer = 0
	s.RescueActive = false
	s.RescueRemaining = 0
	s.RescueElapsed = 0
	s.PulseTimer = 0
	s.PulseForward = true
}

func (m *Monitor) evaluateAirborne(obs Observation, dt float64, d *Decision) {
	s := &m.state

	if s.Cooldown > 0 {
		s.Cooldown = math.Max(0, s.Cooldown-dt)
		s.AirborneTimer = 0
		return
	}
	if obs.Throttle == 0 || obs.GroundContacts != 0 {
		s.AirborneTimer = 0
		return
	}

	s.AirborneTimer += dt
	if s.AirborneTimer <= m.cfg.AirborneDwell {
		return
	}

	sign := 1.0
	if !s.ToggleForward {
		sign = -1
	}
	blend := obs.Up.Mul(m.cfg.UpWeight).Add(obs.Forward.Mul(m.cfg.ForwardWeight * sign))
	dir, ok := core.SafeNormalize(blend, 1e-9)
	if !ok {
		dir, ok = core.SafeNormalize(obs.Up, 1e-9)
	}
	if ok && obs.Mass > 0 {
		d.FireImpulse = true
		d.Impulse = dir.Mul(obs.Mass * m.cfg.AirborneDeltaV)
		d.Events = append(d.Events, core.RecoveryAirborneImpulse)
	}

	s.ToggleForward = !s.ToggleForward
	s.AirborneTimer = 0
	s.Cooldown = m.cfg.AirborneCooldown
}

func (m *Monitor) evaluateTip(obs Observation, dt float64, d *Decision) {
	s := &m.state

	if s.TipCooldown > 0 {
		s.TipCooldown = math.Max(0, s.TipCooldown-dt)
		s.TippedTimer = 0
		return
	}

	up, ok := core.SafeNormalize(obs.Up, 1e-9)
	if !ok {
		s.TippedTimer = 0
		return
	}
	tilt := math.Acos(mgl64.Clamp(up.Dot(core.AxisUp), -1, 1))
	if tilt <= mgl64.DegToRad(m.cfg.TipAngle) || obs.Speed >= m.cfg.SpeedThreshold {
		s.TippedTimer = 0
		return
	}

	s.TippedTimer += dt
	if s.TippedTimer <= m.cfg.TipDwell {
		return
	}

	axis, ok := core.SafeNormalize(up.Cross(core.AxisUp), 1e-6)
	if !ok {
		// upside down: roll about the chassis forward axis
		axis, ok = core.SafeNormalize(obs.Forward, 1e-9)
	}
	if ok {
		d.TipOmega = axis.Mul(tilt * m.cfg.TipCorrectionRate)
		d.Events = append(d.Events, core.RecoveryTipCorrection)
	}
	s.TippedTimer = 0
	s.TipCooldown = m.cfg.TipCooldown
}
