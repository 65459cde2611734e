package vehicle

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/nowa-engine/raycastvehicle/internal/vehicle"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	groundRescues   metric.Int64Counter
	airborneRescues metric.Int64Counter
	tipCorrections  metric.Int64Counter
	probeSkipped    metric.Int64Counter
	posesDropped    metric.Int64Counter
}

func newInstruments() (instruments, error) {
	m := meter()
	var (
		ins instruments
		err error
	)

	ins.groundRescues, err = m.Int64Counter(
		"vehicle.rescue.ground",
		metric.WithDescription("Ground rescues started"),
	)
	if err != nil {
		return ins, fmt.Errorf("creating ground rescue counter: %w", err)
	}

	ins.airborneRescues, err = m.Int64Counter(
		"vehicle.rescue.airborne",
		metric.WithDescription("Airborne recovery impulses fired"),
	)
	if err != nil {
		return ins, fmt.Errorf("creating airborne rescue counter: %w", err)
	}

	ins.tipCorrections, err = m.Int64Counter(
		"vehicle.rescue.tip",
		metric.WithDescription("Tip-over corrections applied"),
	)
	if err != nil {
		return ins, fmt.Errorf("creating tip correction counter: %w", err)
	}

	ins.probeSkipped, err = m.Int64Counter(
		"vehicle.probe.skipped",
		metric.WithDescription("Wheel probes or substeps skipped on bad input"),
	)
	if err != nil {
		return ins, fmt.Errorf("creating probe skipped counter: %w", err)
	}

	ins.posesDropped, err = m.Int64Counter(
		"vehicle.pose.dropped",
		metric.WithDescription("Wheel poses dropped because the sink was full"),
	)
	if err != nil {
		return ins, fmt.Errorf("creating pose dropped counter: %w", err)
	}

	return ins, nil
}
