package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/nowa-engine/raycastvehicle/internal/dispatcher"
	"github.com/nowa-engine/raycastvehicle/internal/util"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	BucketVehicles    = "vehicle_telemetry"
	BucketPerformance = "simulator_performance"

	// CmdMetric lets the host push its own points: [bucket, measurement, tag::k::v..., field::type::k::v...].
	CmdMetric = ":TELEMETRY:METRIC:"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{
	BucketVehicles,
	BucketPerformance,
}

var ErrNotConnected = errors.New("influxDB client not initialized and backup writer not available")

// Manager handles InfluxDB connections and writes. Without a reachable server
// points go to a gzipped line-protocol backup file.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string
	// RunID tags every vehicle point when set.
	RunID func() string

	backupFile *os.File
	mu         sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.OpenBackup()
	}

	if err = m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.IsValid = true
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

// OpenBackup opens the gzipped line-protocol file points are written to while offline.
func (m *Manager) OpenBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return ErrNotConnected
	}
	if err := os.MkdirAll(filepath.Dir(m.BackupPath), 0o755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := viper.GetString("influx.org")

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// ensure buckets exist with 30 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 30,
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	orgName := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return ErrNotConnected
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteSample writes a vehicle sample to the vehicle bucket.
func (m *Manager) WriteSample(s core.VehicleSample) {
	p := influxdb2_write.NewPointWithMeasurement("vehicle_sample").
		AddTag("vehicle", strconv.FormatUint(uint64(s.VehicleID), 10)).
		AddField("frame", s.Frame).
		AddField("sim_time", s.SimTime).
		AddField("x", s.Position.X()).
		AddField("y", s.Position.Y()).
		AddField("z", s.Position.Z()).
		AddField("speed", s.Speed).
		AddField("contacts", s.Contacts).
		AddField("rescue_active", s.RescueActive).
		AddField("throttle", s.Input.Throttle).
		AddField("brake", s.Input.Brake).
		AddField("steer", s.Input.Steer).
		AddField("net_force_y", s.NetForce.Y()).
		SetTime(s.Time)
	m.tagRun(p)
	if err := m.WritePoint(BucketVehicles, p); err != nil {
		m.Logger.Debug().Err(err).Msg("Dropped vehicle sample")
	}
}

// WriteRecovery writes a recovery event to the vehicle bucket.
func (m *Manager) WriteRecovery(e core.RecoveryEvent) {
	p := influxdb2_write.NewPointWithMeasurement("recovery_event").
		AddTag("vehicle", strconv.FormatUint(uint64(e.VehicleID), 10)).
		AddTag("kind", string(e.Kind)).
		AddField("frame", e.Frame).
		AddField("sim_time", e.SimTime).
		AddField("impulse", e.Impulse.Len()).
		SetTime(e.Time)
	m.tagRun(p)
	if err := m.WritePoint(BucketVehicles, p); err != nil {
		m.Logger.Debug().Err(err).Msg("Dropped recovery event")
	}
}

func (m *Manager) tagRun(p *influxdb2_write.Point) {
	if m.RunID == nil {
		return
	}
	if id := m.RunID(); id != "" {
		p.AddTag("run", id)
	}
}

// RegisterHandlers registers the host metric command.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CmdMetric, func(e dispatcher.Event) (any, error) {
		bucket, point, err := ProcessMetricData(e.Args)
		if err != nil {
			return nil, err
		}
		return nil, m.WritePoint(bucket, point)
	}, dispatcher.Buffered(1000))
}

// Close flushes pending writes and closes the client and backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	err := m.BackupWriter.Close()
	if cerr := m.backupFile.Close(); err == nil {
		err = cerr
	}
	m.BackupWriter = nil
	return err
}

// ProcessMetricData parses host metric data and returns a bucket name and point.
func ProcessMetricData(data []string) (
	bucket string,
	point *influxdb2_write.Point,
	err error,
) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("metric needs a bucket and a measurement, got %d args", len(data))
	}

	// fix received data
	data = util.CleanArgs(data)

	// 0 = bucket name
	// 1 = measurement name
	// n with "tag" prefix = tag name
	// n with "field" prefix = field
	// tag and field values use "::" separator

	bucket = data[0]
	measurementName := data[1]
	point = influxdb2_write.NewPointWithMeasurement(measurementName)

	for _, tag := range data[2:] {
		if !strings.HasPrefix(tag, "tag::") {
			continue
		}
		parts := strings.Split(tag, "::")
		if len(parts) >= 3 {
			point.AddTag(parts[1], parts[2])
		}
	}

	for _, field := range data[2:] {
		if !strings.HasPrefix(field, "field::") {
			continue
		}
		parts := strings.Split(field, "::")
		if len(parts) < 4 {
			continue
		}
		fieldType := parts[1]
		fieldName := parts[2]
		fieldValue := parts[3]

		switch fieldType {
		case "string":
			point.AddField(fieldName, fieldValue)
		case "int":
			intVal, err := strconv.Atoi(fieldValue)
			if err != nil {
				return "", nil, fmt.Errorf("error converting field value '%s' to int: %w", fieldValue, err)
			}
			point.AddField(fieldName, intVal)
		case "float":
			floatVal, err := strconv.ParseFloat(fieldValue, 64)
			if err != nil {
				return "", nil, fmt.Errorf("error converting field value '%s' to float: %w", fieldValue, err)
			}
			point.AddField(fieldName, floatVal)
		case "bool":
			b, err := util.ParseBool(fieldValue)
			if err != nil {
				return "", nil, fmt.Errorf("error converting field value '%s' to bool: %w", fieldValue, err)
			}
			point.AddField(fieldName, b)
		}
	}

	return bucket, point, nil
}
