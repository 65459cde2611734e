// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/nowa-engine/raycastvehicle/internal/storage/memory/export/v1"
)

// SimulatorVersion is stamped into every export. Set by the binary at startup.
var SimulatorVersion = "dev"

// exportJSON writes the run data to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := v1.Build(b.exportData())

	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.run.Name)
	if name == "" {
		name = "run"
	}
	timestamp := b.run.StartTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) exportData() *v1.RunData {
	data := &v1.RunData{
		Run:              b.run,
		SimulatorVersion: SimulatorVersion,
		Vehicles:         make(map[uint16]*v1.VehicleRecord, len(b.vehicles)),
	}
	for id, record := range b.vehicles {
		data.Vehicles[id] = &v1.VehicleRecord{
			Vehicle: record.Vehicle,
			Samples: record.Samples,
			Events:  record.Events,
		}
	}
	return data
}

func writeJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
