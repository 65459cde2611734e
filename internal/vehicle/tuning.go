package vehicle

import (
	"errors"

	"github.com/nowa-engine/raycastvehicle/internal/config"
)

// Tuning bundles the configuration of every component a vehicle runs.
type Tuning struct {
	Suspension config.SuspensionConfig
	Friction   config.FrictionConfig
	Drive      config.DriveConfig
	Recovery   config.RecoveryConfig
	Vehicle    config.VehicleConfig
}

// DefaultTuning returns the built-in defaults.
func DefaultTuning() Tuning {
	return Tuning{
		Suspension: config.DefaultSuspensionConfig(),
		Friction:   config.DefaultFrictionConfig(),
		Drive:      config.DefaultDriveConfig(),
		Recovery:   config.DefaultRecoveryConfig(),
		Vehicle:    config.DefaultVehicleConfig(),
	}
}

// TuningFromConfig reads the tuning from the loaded configuration. Every malformed
// block is reported; its component keeps the defaults.
func TuningFromConfig() (Tuning, error) {
	var t Tuning
	var errs [5]error
	t.Suspension, errs[0] = config.GetSuspensionConfig()
	t.Friction, errs[1] = config.GetFrictionConfig()
	t.Drive, errs[2] = config.GetDriveConfig()
	t.Recovery, errs[3] = config.GetRecoveryConfig()
	t.Vehicle, errs[4] = config.GetVehicleConfig()
	return t, errors.Join(errs[:]...)
}
