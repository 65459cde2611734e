// Package v1 contains the v1 export format for recorded vehicle runs.
package v1

import "encoding/json"

// Export is the root JSON structure for v1 format
type Export struct {
	FormatVersion    int       `json:"formatVersion"`
	SimulatorVersion string    `json:"simulatorVersion"`
	RunID            string    `json:"runId"`
	RunName          string    `json:"runName"`
	StartTime        string    `json:"startTime"`
	Timestep         float64   `json:"timestep"`
	Substeps         int       `json:"substeps"`
	EndFrame         uint      `json:"endFrame"`
	Origin           []float64 `json:"origin,omitempty"` // [lon, lat, alt], absent when not georeferenced
	Entities         []Entity  `json:"entities"`
	Events           [][]any   `json:"events"`
}

// Entity represents one vehicle
type Entity struct {
	ID            uint16  `json:"id"`
	Name          string  `json:"name"`
	Mass          float64 `json:"mass"`
	StartFrameNum uint    `json:"startFrameNum"`
	Wheels        []Wheel `json:"wheels"`
	// Positions is [[frame, [x,y,z], speed, contacts, rescueActive], ...]
	Positions [][]any `json:"positions"`
	// Track is a GeoJSON LineString of the chassis path, in lon/lat when the run is
	// georeferenced and in local metres otherwise.
	Track json.RawMessage `json:"track,omitempty"`
}

// Wheel is the static wheel description
type Wheel struct {
	Handle    uint32     `json:"handle"`
	Mount     [3]float64 `json:"mount"`
	Radius    float64    `json:"radius"`
	Width     float64    `json:"width"`
	Steered   bool       `json:"steered"`
	Driven    bool       `json:"driven"`
	Braked    bool       `json:"braked"`
	Handbrake bool       `json:"handbrake"`
}
