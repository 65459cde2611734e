// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
)

func testRun() *core.Run {
	return &core.Run{
		UUID:      "a2f4c1de-0b7e-4a51-9c8e-1f0e6f1d2c3b",
		Name:      "hill climb",
		StartTime: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Timestep:  1.0 / 60,
		Substeps:  1,
	}
}

func testVehicle(id uint16) *core.VehicleInfo {
	return &core.VehicleInfo{
		ID:   id,
		Name: "buggy",
		Mass: 1000,
		Wheels: []core.WheelInfo{
			{Handle: 1, Mount: core.NewPose(mgl64.Vec3{0.8, -0.3, 1.3}, mgl64.QuatIdent()), Tire: core.DefaultTireConfiguration()},
		},
	}
}

func sample(id uint16, frame uint, z float64) *core.VehicleSample {
	return &core.VehicleSample{
		VehicleID: id,
		Frame:     frame,
		Position:  mgl64.Vec3{0, 1, z},
		Speed:     2,
		Contacts:  4,
	}
}

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: "/tmp/test", CompressOutput: true}, nil)

	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.cfg.OutputDir != "/tmp/test" {
		t.Errorf("expected OutputDir=/tmp/test, got %s", b.cfg.OutputDir)
	}
	if b.vehicles == nil {
		t.Error("vehicles map not initialized")
	}
	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRecordBeforeStart(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)

	if err := b.AddVehicle(testVehicle(1)); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
	if err := b.RecordVehicleSample(sample(1, 0, 0)); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
	if err := b.RecordRecoveryEvent(&core.RecoveryEvent{VehicleID: 1}); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
	if err := b.EndRun(); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestStartRunResets(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.StartRun(testRun())
	_ = b.AddVehicle(testVehicle(1))
	_ = b.RecordVehicleSample(sample(1, 0, 0))

	_ = b.StartRun(testRun())
	if _, ok := b.Vehicle(1); ok {
		t.Error("expected vehicles cleared by StartRun")
	}
}

func TestRecording(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.StartRun(testRun())
	_ = b.AddVehicle(testVehicle(1))

	for i := range 5 {
		if err := b.RecordVehicleSample(sample(1, uint(i), float64(i))); err != nil {
			t.Fatalf("RecordVehicleSample failed: %v", err)
		}
	}
	_ = b.RecordRecoveryEvent(&core.RecoveryEvent{VehicleID: 1, Frame: 3, Kind: core.RecoveryGroundRescueStart})

	// unregistered vehicles get a placeholder record
	_ = b.RecordVehicleSample(sample(9, 1, 0))

	record, ok := b.Vehicle(1)
	if !ok {
		t.Fatal("vehicle 1 missing")
	}
	if len(record.Samples) != 5 {
		t.Errorf("expected 5 samples, got %d", len(record.Samples))
	}
	if len(record.Events) != 1 || record.Events[0].Kind != core.RecoveryGroundRescueStart {
		t.Errorf("unexpected events %+v", record.Events)
	}
	if placeholder, ok := b.Vehicle(9); !ok || placeholder.Vehicle.ID != 9 {
		t.Error("expected placeholder record for vehicle 9")
	}

	// re-registering keeps the samples
	v := testVehicle(1)
	v.Mass = 1200
	_ = b.AddVehicle(v)
	record, _ = b.Vehicle(1)
	if record.Vehicle.Mass != 1200 || len(record.Samples) != 5 {
		t.Errorf("re-register lost data: mass=%v samples=%d", record.Vehicle.Mass, len(record.Samples))
	}
}

func TestConcurrentRecording(t *testing.T) {
	b := New(config.MemoryConfig{}, nil)
	_ = b.StartRun(testRun())

	var wg sync.WaitGroup
	for v := range 4 {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			for i := range 100 {
				_ = b.RecordVehicleSample(sample(id, uint(i), 0))
			}
		}(uint16(v + 1))
	}
	wg.Wait()

	for id := uint16(1); id <= 4; id++ {
		record, _ := b.Vehicle(id)
		if len(record.Samples) != 100 {
			t.Errorf("vehicle %d: expected 100 samples, got %d", id, len(record.Samples))
		}
	}
}

func TestEndRun_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir}, nil)
	_ = b.StartRun(testRun())
	_ = b.AddVehicle(testVehicle(1))
	_ = b.RecordVehicleSample(sample(1, 0, 0))
	_ = b.RecordVehicleSample(sample(1, 10, 5))

	if err := b.EndRun(); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	path := b.GetExportedFilePath()
	if filepath.Base(path) != "hill_climb_20260301_123000.json" {
		t.Errorf("unexpected file name %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	var export map[string]any
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if export["runName"] != "hill climb" {
		t.Errorf("unexpected runName %v", export["runName"])
	}
	if export["endFrame"].(float64) != 10 {
		t.Errorf("expected endFrame 10, got %v", export["endFrame"])
	}
	if !strings.Contains(string(data), `"type":"LineString"`) {
		t.Error("expected a GeoJSON track in the export")
	}
}

func TestEndRun_WritesGzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true}, nil)
	_ = b.StartRun(testRun())
	_ = b.RecordVehicleSample(sample(1, 0, 0))

	if err := b.EndRun(); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	path := b.GetExportedFilePath()
	if !strings.HasSuffix(path, ".json.gz") {
		t.Fatalf("expected .json.gz, got %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	var export map[string]any
	if err := json.NewDecoder(gz).Decode(&export); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if export["formatVersion"].(float64) != 1 {
		t.Errorf("unexpected formatVersion %v", export["formatVersion"])
	}
}
