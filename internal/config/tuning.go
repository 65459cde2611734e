package config

import (
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// SuspensionConfig tunes the suspension probe. Factor and Step are empirical scales
// applied to the spring-damper load; they are not derived quantities.
type SuspensionConfig struct {
	SlackTolerance  float64 `json:"slackTolerance" mapstructure:"slackTolerance"`
	HardLimitRatio  float64 `json:"hardLimitRatio" mapstructure:"hardLimitRatio"`
	Factor          float64 `json:"factor" mapstructure:"factor"`
	Step            float64 `json:"step" mapstructure:"step"`
	MinSpringLength float64 `json:"minSpringLength" mapstructure:"minSpringLength"`
	ReactionScale   float64 `json:"reactionScale" mapstructure:"reactionScale"`
	SpinDecay       float64 `json:"spinDecay" mapstructure:"spinDecay"`
}

// FrictionConfig tunes the tire friction rows.
type FrictionConfig struct {
	BrakingScale            float64 `json:"brakingScale" mapstructure:"brakingScale"`
	MaxGripMultiplier       float64 `json:"maxGripMultiplier" mapstructure:"maxGripMultiplier"`
	GripReferenceSpeed      float64 `json:"gripReferenceSpeed" mapstructure:"gripReferenceSpeed"`
	HandbrakeGripFloor      float64 `json:"handbrakeGripFloor" mapstructure:"handbrakeGripFloor"`
	HandbrakeReferenceSpeed float64 `json:"handbrakeReferenceSpeed" mapstructure:"handbrakeReferenceSpeed"`
	Relaxation              float64 `json:"relaxation" mapstructure:"relaxation"`
}

// DriveConfig maps normalized driver input onto forces (newtons) and angles (degrees).
type DriveConfig struct {
	MotorForce     float64 `json:"motorForce" mapstructure:"motorForce"`
	BrakeForce     float64 `json:"brakeForce" mapstructure:"brakeForce"`
	HandbrakeForce float64 `json:"handbrakeForce" mapstructure:"handbrakeForce"`
	MaxSteerAngle  float64 `json:"maxSteerAngle" mapstructure:"maxSteerAngle"`
	TopSpeed       float64 `json:"topSpeed" mapstructure:"topSpeed"`
}

// RecoveryConfig holds the stuck, airborne and tip-over thresholds. Times are simulated seconds.
type RecoveryConfig struct {
	MotorThreshold    float64 `json:"motorThreshold" mapstructure:"motorThreshold"`
	SpeedThreshold    float64 `json:"speedThreshold" mapstructure:"speedThreshold"`
	MinGroundContacts int     `json:"minGroundContacts" mapstructure:"minGroundContacts"`
	StuckDwell        float64 `json:"stuckDwell" mapstructure:"stuckDwell"`
	RescueDuration    float64 `json:"rescueDuration" mapstructure:"rescueDuration"`
	PulsePeriod       float64 `json:"pulsePeriod" mapstructure:"pulsePeriod"`
	RescueThrottle    float64 `json:"rescueThrottle" mapstructure:"rescueThrottle"`
	WiggleAngle       float64 `json:"wiggleAngle" mapstructure:"wiggleAngle"`

	AirborneDwell    float64 `json:"airborneDwell" mapstructure:"airborneDwell"`
	AirborneCooldown float64 `json:"airborneCooldown" mapstructure:"airborneCooldown"`
	AirborneDeltaV   float64 `json:"airborneDeltaV" mapstructure:"airborneDeltaV"`
	UpWeight         float64 `json:"upWeight" mapstructure:"upWeight"`
	ForwardWeight    float64 `json:"forwardWeight" mapstructure:"forwardWeight"`

	TipAngle          float64 `json:"tipAngle" mapstructure:"tipAngle"`
	TipDwell          float64 `json:"tipDwell" mapstructure:"tipDwell"`
	TipCooldown       float64 `json:"tipCooldown" mapstructure:"tipCooldown"`
	TipCorrectionRate float64 `json:"tipCorrectionRate" mapstructure:"tipCorrectionRate"`
}

// VehicleConfig holds per-vehicle settings that are not tied to a single component.
type VehicleConfig struct {
	InertiaDivisor float64 `json:"inertiaDivisor" mapstructure:"inertiaDivisor"`
	MaxWheels      int     `json:"maxWheels" mapstructure:"maxWheels"`
	PoseBuffer     int     `json:"poseBuffer" mapstructure:"poseBuffer"`
}

func DefaultSuspensionConfig() SuspensionConfig {
	return SuspensionConfig{
		SlackTolerance:  0.05,
		HardLimitRatio:  0.5,
		Factor:          1.0,
		Step:            1.0,
		MinSpringLength: 1e-3,
		ReactionScale:   1.0,
		SpinDecay:       0.5,
	}
}

func DefaultFrictionConfig() FrictionConfig {
	return FrictionConfig{
		BrakingScale:            1.0,
		MaxGripMultiplier:       1.6,
		GripReferenceSpeed:      12.0,
		HandbrakeGripFloor:      0.35,
		HandbrakeReferenceSpeed: 20.0,
		Relaxation:              0.5,
	}
}

func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		MotorForce:     4000,
		BrakeForce:     6000,
		HandbrakeForce: 8000,
		MaxSteerAngle:  35,
		TopSpeed:       40,
	}
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MotorThreshold:    0.1,
		SpeedThreshold:    0.3,
		MinGroundContacts: 2,
		StuckDwell:        0.75,
		RescueDuration:    1.2,
		PulsePeriod:       0.3,
		RescueThrottle:    1.0,
		WiggleAngle:       6,

		AirborneDwell:    2.0,
		AirborneCooldown: 1.0,
		AirborneDeltaV:   3.0,
		UpWeight:         1.0,
		ForwardWeight:    0.5,

		TipAngle:          55,
		TipDwell:          1.5,
		TipCooldown:       2.0,
		TipCorrectionRate: 1.0,
	}
}

func DefaultVehicleConfig() VehicleConfig {
	return VehicleConfig{
		InertiaDivisor: 1.5,
		MaxWheels:      16,
		PoseBuffer:     256,
	}
}

// GetSuspensionConfig returns the suspension tuning, falling back to defaults for missing keys.
func GetSuspensionConfig() (SuspensionConfig, error) {
	return unmarshalTuning("suspension", DefaultSuspensionConfig())
}

// GetFrictionConfig returns the friction tuning.
func GetFrictionConfig() (FrictionConfig, error) {
	return unmarshalTuning("friction", DefaultFrictionConfig())
}

// GetDriveConfig returns the drive tuning.
func GetDriveConfig() (DriveConfig, error) {
	return unmarshalTuning("drive", DefaultDriveConfig())
}

// GetRecoveryConfig returns the recovery thresholds.
func GetRecoveryConfig() (RecoveryConfig, error) {
	return unmarshalTuning("recovery", DefaultRecoveryConfig())
}

// GetVehicleConfig returns the vehicle settings.
func GetVehicleConfig() (VehicleConfig, error) {
	return unmarshalTuning("vehicle", DefaultVehicleConfig())
}

// unmarshalTuning decodes the block under key over defaults. A malformed block
// returns the untouched defaults with the error.
func unmarshalTuning[T any](key string, defaults T) (T, error) {
	cfg := defaults
	if err := viper.UnmarshalKey(key, &cfg); err != nil {
		return defaults, fmt.Errorf("invalid %s tuning: %w", key, err)
	}
	return cfg, nil
}

// setStructDefaults registers every mapstructure-tagged field of v under prefix.
func setStructDefaults(prefix string, v any) {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		viper.SetDefault(prefix+"."+tag, rv.Field(i).Interface())
	}
}
