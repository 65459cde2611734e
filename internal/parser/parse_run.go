package parser

import (
	"fmt"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/geo"
	"github.com/nowa-engine/raycastvehicle/internal/util"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

// ParseRun parses [name, timestep, substeps, origin?]. The origin is "lon,lat[,alt]"
// and may be empty for a run that is not georeferenced.
func (p *Parser) ParseRun(data []string) (core.Run, error) {
	var run core.Run
	if err := requireArgs(data, 3, "run"); err != nil {
		return run, err
	}

	// fix received data
	data = util.CleanArgs(data)

	run.Name = data[0]
	run.StartTime = time.Now()

	timestep, err := parseFinite(data[1])
	if err != nil {
		return run, fmt.Errorf("error converting timestep: %w", err)
	}
	if timestep <= 0 {
		return run, fmt.Errorf("timestep must be positive, got %v", timestep)
	}
	run.Timestep = timestep

	substeps, err := parseIntFromFloat(data[2])
	if err != nil {
		return run, fmt.Errorf("error converting substeps: %w", err)
	}
	if substeps < 1 {
		return run, fmt.Errorf("substeps must be at least 1, got %d", substeps)
	}
	run.Substeps = int(substeps)

	if len(data) > 3 && data[3] != "" {
		origin, err := geo.ParseOrigin(data[3])
		if err != nil {
			return run, fmt.Errorf("error parsing origin: %w", err)
		}
		run.OriginLongitude = origin.Longitude
		run.OriginLatitude = origin.Latitude
		run.OriginAltitude = origin.Altitude
	}

	p.logger.Debug("Parsed run", "name", run.Name, "timestep", run.Timestep, "substeps", run.Substeps)
	return run, nil
}
