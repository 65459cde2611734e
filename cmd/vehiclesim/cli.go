package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/api"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/database"
	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/replay"
	v1 "github.com/nowa-engine/raycastvehicle/internal/storage/memory/export/v1"
	"github.com/nowa-engine/raycastvehicle/internal/worker"
	"github.com/spf13/viper"
)

const usage = `usage: vehiclesim <command> [args]

commands:
  demo [cars] [seconds]        drive cars around the sandbox and record the run
  export <runID>...            rebuild JSON exports of recorded runs from postgres
  migratebackups [dir]         move runs from local SQLite dumps into postgres
  setupdb                      create or update the postgres schema
  upload <file> [name] [tag]   send an export to the recordings server`

var errUsage = errors.New(usage)

// runCLI runs one offline command.
func runCLI(args []string) error {
	if len(args) == 0 {
		fmt.Println(usage)
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "demo":
		cars, seconds := 2, 20.0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid car count %q", args[1])
			}
			cars = n
		}
		if len(args) > 2 {
			s, err := strconv.ParseFloat(args[2], 64)
			if err != nil || s <= 0 {
				return fmt.Errorf("invalid duration %q", args[2])
			}
			seconds = s
		}
		return runDemo(cars, seconds)

	case "export":
		if len(args) < 2 {
			return errUsage
		}
		return exportRuns(args[1:])

	case "migratebackups":
		dir := filepath.Dir(config.GetStorageConfig().SQLite.DumpPath)
		if len(args) > 1 {
			dir = args[1]
		}
		return migrateBackups(dir)

	case "setupdb":
		db, err := openPostgres()
		if err != nil {
			return err
		}
		if err := database.Migrate(db, ZLogger); err != nil {
			return err
		}
		Logger.Info("DB setup complete.")
		return nil

	case "upload":
		if len(args) < 2 {
			return errUsage
		}
		meta := api.UploadMetadata{RunName: strings.TrimSuffix(filepath.Base(args[1]), ".json.gz")}
		if len(args) > 2 {
			meta.RunName = args[2]
		}
		if len(args) > 3 {
			meta.Tag = args[3]
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey")).Upload(ctx, args[1], meta)

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

// demoWheels is the wheel layout of every demo car: steered at the front, driven at the rear.
var demoWheels = [][2]string{
	{`{"side":"left","steered":true}`, "[-0.8,-0.3,1.3]"},
	{`{"side":"right","steered":true}`, "[0.8,-0.3,1.3]"},
	{`{"side":"left","driven":true,"handbrake":true}`, "[-0.8,-0.3,-1.3]"},
	{`{"side":"right","driven":true,"handbrake":true}`, "[0.8,-0.3,-1.3]"},
}

func dispatch(command string, args ...string) (any, error) {
	return eventDispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// runDemo records a run of cars weaving over flat ground, driven entirely through host commands.
func runDemo(cars int, seconds float64) error {
	if err := startServices(); err != nil {
		return err
	}

	const dt = 1.0 / 60
	runID, err := dispatch(worker.CmdRunStart, "demo", formatFloat(dt), strconv.Itoa(max(viper.GetInt("sim.substeps"), 1)))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	Logger.Info("Demo run started", "run", runID, "cars", cars)

	ids := make([]string, 0, cars)
	for i := range cars {
		id := strconv.Itoa(i + 1)
		position := fmt.Sprintf("[%s,1.05,0]", formatFloat(float64(i)*4))
		if _, err := dispatch(":VEHICLE:CREATE:", id, "demo"+id, position, "[0.9,0.3,2]", "1200"); err != nil {
			return fmt.Errorf("failed to create car %s: %w", id, err)
		}
		for _, w := range demoWheels {
			if _, err := dispatch(":VEHICLE:WHEEL:ADD:", id, w[0], w[1]); err != nil {
				return fmt.Errorf("failed to add wheel to car %s: %w", id, err)
			}
		}
		ids = append(ids, id)
	}

	demoStart := time.Now()
	frames := int(seconds / dt)
	for f := range frames {
		t := float64(f) * dt
		for i, id := range ids {
			steer := 15 * math.Sin(0.4*t+float64(i))
			throttle := 0.0
			if t > 1 {
				throttle = 0.6
			}
			if _, err := dispatch(":VEHICLE:INPUT:", id, formatFloat(steer), formatFloat(throttle), "0", "0"); err != nil {
				return err
			}
		}
		if _, err := dispatch(":SIM:STEP:", formatFloat(dt)); err != nil {
			return err
		}
		drainPoses(0)
	}

	for _, id := range ids {
		status, err := dispatch(":VEHICLE:STATUS:", id)
		if err != nil {
			return err
		}
		data, _ := json.Marshal(status)
		fmt.Println(string(data))
	}

	exported, err := dispatch(worker.CmdRunEnd)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	Logger.Info("Demo run recorded", "duration", time.Since(demoStart), "export", exported)
	return nil
}

// exportRuns writes a gzipped v1 export for every run id into the memory output directory.
func exportRuns(runIDs []string) error {
	db, err := openPostgres()
	if err != nil {
		return err
	}
	outDir := config.GetStorageConfig().Memory.OutputDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, arg := range runIDs {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", arg, err)
		}

		start := time.Now()
		export, err := replay.BuildExport(db, uint(id))
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s.json.gz", export.RunID, time.Now().Format("20060102_150405")))
		if err := writeExport(path, export); err != nil {
			return err
		}
		Logger.Info("Exported run", "run", id, "path", path, "duration", time.Since(start))
	}
	return nil
}

func writeExport(path string, export v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// migrateBackups moves every *.db dump in dir into postgres.
func migrateBackups(dir string) error {
	paths, err := database.GetBackupDBPaths(dir)
	if err != nil {
		return fmt.Errorf("error getting backup database paths: %w", err)
	}
	if len(paths) == 0 {
		Logger.Info("No backups to migrate", "dir", dir)
		return nil
	}

	db, err := openPostgres()
	if err != nil {
		return err
	}
	migrated, err := replay.MigrateBackups(db, paths, ZLogger)
	if err != nil {
		return err
	}
	Logger.Info("Finished migrating backups.", "files", len(migrated))
	return nil
}
