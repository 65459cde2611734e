package vehicle

import (
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/logging"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/rs/zerolog"
)

// PoseSink receives the visual pose of every wheel after each substep. TrySend must
// not block; a false return means the pose was dropped.
type PoseSink interface {
	TrySend(core.WheelPose) bool
}

// Recorder receives telemetry from the substep. Implementations must return quickly.
type Recorder interface {
	RecordSample(core.VehicleSample)
	RecordRecovery(core.RecoveryEvent)
}

// ContactFunc is called for every wheel that touches something during a substep.
type ContactFunc func(wheel core.WheelHandle, state core.SuspensionState)

// Option configures a Vehicle.
type Option func(*Vehicle)

// WithID sets the id stamped on poses, samples and events.
func WithID(id uint16) Option {
	return func(v *Vehicle) {
		v.id = id
	}
}

// WithName sets a display name used in logs and recordings.
func WithName(name string) Option {
	return func(v *Vehicle) {
		v.name = name
	}
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vehicle) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithSampledLogger routes per-substep warnings through a sampled zerolog logger
// so a broken body cannot flood the log.
func WithSampledLogger(l zerolog.Logger) Option {
	return func(v *Vehicle) {
		v.sampled = logging.Sampled(l, 5, time.Second, 120)
	}
}

// WithPoseSink sets where wheel poses go after each substep.
func WithPoseSink(s PoseSink) Option {
	return func(v *Vehicle) {
		v.sink = s
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(v *Vehicle) {
		v.recorder = r
	}
}

// WithSampleInterval records one sample every n substeps. Zero or one records every substep.
func WithSampleInterval(n uint) Option {
	return func(v *Vehicle) {
		v.sampleEvery = max(n, 1)
	}
}

// WithContactCallback sets a function called for every wheel in contact.
func WithContactCallback(fn ContactFunc) Option {
	return func(v *Vehicle) {
		v.onContact = fn
	}
}

// WithCenterOfMass moves the chassis centre of mass (body-local) when the mass is
// first initialised.
func WithCenterOfMass(com mgl64.Vec3) Option {
	return func(v *Vehicle) {
		v.comOffset = com
		v.hasCOM = true
	}
}
