package main

/*
#include <stdlib.h>
*/
import "C" // This is required to build with -buildmode=c-shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/google/uuid"
	"github.com/nowa-engine/raycastvehicle/internal/api"
	"github.com/nowa-engine/raycastvehicle/internal/cache"
	"github.com/nowa-engine/raycastvehicle/internal/channel"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/handlers"
	"github.com/nowa-engine/raycastvehicle/internal/influx"
	"github.com/nowa-engine/raycastvehicle/internal/logging"
	"github.com/nowa-engine/raycastvehicle/internal/monitor"
	intOtel "github.com/nowa-engine/raycastvehicle/internal/otel"
	"github.com/nowa-engine/raycastvehicle/internal/parser"
	"github.com/nowa-engine/raycastvehicle/internal/sandbox"
	"github.com/nowa-engine/raycastvehicle/internal/session"
	"github.com/nowa-engine/raycastvehicle/internal/storage"
	"github.com/nowa-engine/raycastvehicle/internal/storage/memory"
	"github.com/nowa-engine/raycastvehicle/internal/storage/websocket"
	"github.com/nowa-engine/raycastvehicle/internal/vehicle"
	"github.com/nowa-engine/raycastvehicle/internal/worker"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/nowa-engine/raycastvehicle/pkg/hostcall"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	ProgramName string = "vehiclesim"
)

// file paths
var (
	// ModuleFolder holds the config file. VEHICLESIM_HOME overrides the folder of the executable.
	ModuleFolder string

	LogFilePath string
	LogFile     *os.File

	SessionStartTime time.Time = time.Now()

	// instanceID tells this process apart in OTel output
	instanceID = uuid.NewString()
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger is the zerolog logger used by the database and telemetry writers
	ZLogger zerolog.Logger

	// GraylogWriter is the GELF writer, nil unless graylog.enabled
	GraylogWriter *gelf.Writer

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	eventDispatcher *dispatcher.Dispatcher
	runSession      = session.NewContext()
	vehicles        = cache.NewVehicleCache()

	// Services, set up once by startServices
	engine         *sandbox.World
	poses          channel.Channel[core.WheelPose]
	handlerService *handlers.Service
	workerManager  *worker.Manager
	monitorService *monitor.Service
	influxManager  *influx.Manager
	storageBackend storage.Backend

	servicesOnce sync.Once
	servicesErr  error
	shutdownOnce sync.Once
)

// init is run automatically when the module is loaded
func init() {
	ModuleFolder = moduleFolder()

	// Initialize slog manager before the config is read so load errors are visible
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(ModuleFolder); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	openLogFile()
	setupLogging()

	memory.SimulatorVersion = Version
	websocket.SimulatorVersion = Version

	if err := setupHostcall(); err != nil {
		Logger.Error("Failed to set up host interface!", "error", err)
		panic(err)
	}
}

func moduleFolder() string {
	if dir := os.Getenv("VEHICLESIM_HOME"); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func openLogFile() {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
		return
	}

	LogFilePath = logging.LogFilePath(logsDir, ProgramName, SessionStartTime)
	// keep the previous file of the same second around
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}
}

// setupLogging wires file, Graylog and OTel output into slog, and builds the zerolog logger.
func setupLogging() {
	level := viper.GetString("logLevel")

	var out io.Writer
	if LogFile != nil {
		out = LogFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: Version,
			InstanceID:     instanceID,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      out,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		}
	}
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	opts := []logging.SetupOption{
		logging.WithContext(func() []slog.Attr {
			attrs := []slog.Attr{slog.Int("vehicles", vehicles.Len())}
			if id := runSession.RunID(); id != "" {
				attrs = append(attrs, slog.String("run", id))
			}
			return attrs
		}),
	}
	if viper.GetBool("graylog.enabled") {
		w, err := gelf.NewWriter(viper.GetString("graylog.address"))
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			GraylogWriter = w
			opts = append(opts, logging.WithGraylog(w))
		}
	}

	SlogManager.Setup(out, level, otelLogProvider, opts...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath)

	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	var zout io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if LogFile != nil {
		zout = zerolog.ConsoleWriter{Out: LogFile, TimeFormat: time.RFC3339, NoColor: true}
	}
	ZLogger = zerolog.New(zout).Level(zlevel).With().Timestamp().Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			if id := runSession.RunID(); id != "" {
				e.Str("run", id)
			}
		}))
}

// setupHostcall creates the dispatcher with the lifecycle commands and hands it to the
// host interface. Everything else starts on the first host call.
func setupHostcall() error {
	hostcall.SetVersion(Version)

	d, err := dispatcher.New(logging.NewDispatcherLogger(ZLogger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	eventDispatcher = d
	registerLifecycleHandlers(d)

	hostcall.SetDispatcher(d)
	hostcall.SetInitHook(func() {
		if err := startServices(); err != nil {
			Logger.Error("Failed to start services", "error", err)
		}
	})
	return nil
}

// startServices builds the engine, recorder and monitors and registers their commands.
// Only the first call does any work.
func startServices() error {
	servicesOnce.Do(func() {
		servicesErr = buildServices()
	})
	return servicesErr
}

func buildServices() error {
	tuning, err := vehicle.TuningFromConfig()
	if err != nil {
		return fmt.Errorf("failed to load tuning: %w", err)
	}

	engine = sandbox.New(
		sandbox.WithSubsteps(viper.GetInt("sim.substeps")),
		sandbox.WithGroundHeight(viper.GetFloat64("sim.groundHeight")),
	)
	poses = channel.New[core.WheelPose](max(tuning.Vehicle.PoseBuffer, 1))

	if err := initStorage(); err != nil {
		// recording is optional, driving is not
		Logger.Error("Storage initialization failed, running without recording", "error", err)
		storageBackend = nil
	}

	var telemetry worker.TelemetrySink
	influxManager = influx.NewManager(ZLogger, viper.GetString("influx.backupPath"))
	influxManager.RunID = runSession.RunID
	if viper.GetBool("influx.enabled") {
		if err := influxManager.Connect(); err != nil {
			Logger.Warn("InfluxDB unavailable", "error", err)
		} else {
			telemetry = influxManager
		}
	}
	influxManager.RegisterHandlers(eventDispatcher)

	p := parser.NewParser(Logger)
	workerManager = worker.NewManager(worker.Dependencies{
		Session:   runSession,
		Vehicles:  vehicles,
		Parser:    p,
		Logger:    Logger,
		Telemetry: telemetry,
		OnRunEnd:  flushLogs,
	}, storageBackend)
	recorder := workerManager.RegisterHandlers(eventDispatcher)

	handlerService = handlers.NewService(handlers.Dependencies{
		Engine:         engine,
		Vehicles:       vehicles,
		Parser:         p,
		Tuning:         tuning,
		Logger:         Logger,
		Sampled:        logging.Sampled(ZLogger, 5, 10*time.Second, 100),
		Recorder:       recorder,
		PoseSink:       poses,
		SampleInterval: uint(max(viper.GetInt("sim.sampleInterval"), 1)),
	})
	handlerService.RegisterHandlers(eventDispatcher)

	monitorCfg := config.GetMonitorConfig()
	monitorService = monitor.NewService(monitor.Dependencies{
		DB:         backendDB(storageBackend),
		Logger:     Logger,
		Session:    runSession,
		Worker:     workerManager,
		Buffers:    eventDispatcher,
		Vehicles:   vehicles,
		StatusFile: monitorCfg.StatusFile,
		Interval:   monitorCfg.Interval,
	})
	if monitorCfg.Enabled && !monitorService.IsRunning() {
		if err := monitorService.Start(); err != nil {
			Logger.Error("Failed to start status monitor", "error", err)
		}
	}

	go checkServerStatus()

	Logger.Info("Services started", "substeps", viper.GetInt("sim.substeps"))
	return nil
}

// backendDB returns the database behind a GORM backend, or nil.
func backendDB(b storage.Backend) *gorm.DB {
	if withDB, ok := b.(interface{ DB() *gorm.DB }); ok {
		return withDB.DB()
	}
	return nil
}

func checkServerStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := client.Healthcheck(ctx); err != nil {
		Logger.Info("Recordings server is offline", "error", err)
	} else {
		Logger.Info("Recordings server is online")
	}
}

// registerLifecycleHandlers registers system/lifecycle command handlers with the dispatcher
func registerLifecycleHandlers(d *dispatcher.Dispatcher) {
	d.Register(":INIT:", func(e dispatcher.Event) (any, error) {
		if err := startServices(); err != nil {
			return nil, err
		}
		return "ok", nil
	})

	// Simple queries - sync return is sufficient, no callback needed
	d.Register(":VERSION:", func(e dispatcher.Event) (any, error) {
		return []string{Version, BuildDate}, nil
	})

	d.Register(":GETDIR:MODULE:", func(e dispatcher.Event) (any, error) {
		return ModuleFolder, nil
	})

	d.Register(":GETDIR:LOG:", func(e dispatcher.Event) (any, error) {
		return LogFilePath, nil
	})

	// The renderer polls wheel poses; [max?] bounds how many are returned.
	d.Register(":VEHICLE:POSES:", func(e dispatcher.Event) (any, error) {
		limit := 0
		if len(e.Args) > 0 {
			n, err := strconv.Atoi(strings.Trim(e.Args[0], `"`))
			if err != nil {
				return nil, fmt.Errorf("invalid limit %q: %w", e.Args[0], err)
			}
			limit = n
		}
		return drainPoses(limit), nil
	})

	d.Register(":RUN:UPLOAD:", func(e dispatcher.Event) (any, error) {
		tag := ""
		if len(e.Args) > 0 {
			tag = strings.Trim(e.Args[0], `"`)
		}
		go func() {
			if err := uploadLastRun(tag); err != nil {
				Logger.Error("Failed to upload run", "error", err)
			}
		}()
		return "ok", nil
	}, dispatcher.Logged())

	d.Register(":SHUTDOWN:", func(e dispatcher.Event) (any, error) {
		shutdown()
		return "ok", nil
	}, dispatcher.Logged())
}

// drainPoses returns up to limit queued wheel poses without blocking. limit <= 0 means all.
func drainPoses(limit int) []core.WheelPose {
	if poses == nil {
		return []core.WheelPose{}
	}
	return poses.Drain(limit)
}

// uploadLastRun sends the export of the last finished run to the recordings server.
func uploadLastRun(tag string) error {
	if workerManager == nil {
		return fmt.Errorf("services not started")
	}
	path := workerManager.ExportedFilePath()
	if path == "" {
		return fmt.Errorf("no exported run to upload")
	}
	if runSession.Active() {
		return session.ErrRunActive
	}

	run := runSession.Run()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	err := client.Upload(ctx, path, api.UploadMetadata{
		RunID:    run.UUID,
		RunName:  run.Name,
		Duration: runSession.Elapsed().Seconds(),
		Tag:      tag,
	})
	if err != nil {
		return err
	}
	Logger.Info("Uploaded run", "run", run.UUID, "path", path)
	return nil
}

// flushLogs pushes buffered OTel records out once a run is closed.
func flushLogs(run *core.Run) {
	if OTelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := OTelProvider.Flush(ctx); err != nil {
		Logger.Warn("Failed to flush OTel logs", "run", run.UUID, "error", err)
	}
}

// shutdown stops every service and flushes logs. Only the first call does any work.
func shutdown() {
	shutdownOnce.Do(stopServices)
}

func stopServices() {
	if monitorService != nil {
		monitorService.Stop()
	}
	if storageBackend != nil {
		if err := storageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		Logger.Warn("Failed to flush logs", "error", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}
	if GraylogWriter != nil {
		_ = GraylogWriter.Close()
	}
}

func main() {
	Logger.Info("Starting up...", "version", Version, "build", BuildDate)
	defer shutdown()

	if err := runCLI(os.Args[1:]); err != nil {
		Logger.Error("Command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		shutdown()
		os.Exit(1)
	}
}
