// Package postgres implements the storage.Backend interface using GORM
// with internal queues and a background DB writer goroutine. The same backend
// runs against the in-memory SQLite database of the sqlite package.
package postgres

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/database"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/nowa-engine/raycastvehicle/internal/model/convert"
	"github.com/nowa-engine/raycastvehicle/internal/queue"
	"github.com/nowa-engine/raycastvehicle/pkg/core"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoRun is returned by EndRun when no run was started.
var ErrNoRun = errors.New("no run in progress")

const (
	defaultFlushInterval = 2 * time.Second
	// maxBatchRows caps one insert per queue per writer pass.
	maxBatchRows = 50_000
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB is optional; without it Init connects to Postgres using the db.* configuration.
	DB            *gorm.DB
	Logger        zerolog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Vehicles       *queue.Queue[model.Vehicle]
	Wheels         *queue.Queue[model.Wheel]
	Samples        *queue.Queue[model.VehicleSample]
	RecoveryEvents *queue.Queue[model.RecoveryEvent]
}

func newQueues() *queues {
	return &queues{
		Vehicles:       queue.New[model.Vehicle](),
		Wheels:         queue.New[model.Wheel](),
		Samples:        queue.New[model.VehicleSample](),
		RecoveryEvents: queue.New[model.RecoveryEvent](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues

	runID     atomic.Uint64
	lastWrite atomic.Int64 // nanoseconds

	// flushMu serializes writer passes between the goroutine and EndRun.
	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	closed   sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
// If no DB was injected via Dependencies, it creates its own postgres connection.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	if err := database.Migrate(b.deps.DB, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// DB returns the connection the backend writes to.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	b.closed.Do(func() {
		if b.stopChan == nil {
			return
		}
		close(b.stopChan)
		<-b.done
	})
	return nil
}

// StartRun inserts the run and stamps its ID on everything queued afterwards.
func (b *Backend) StartRun(run *core.Run) error {
	if b.deps.DB == nil {
		return nil
	}
	// rows of the previous run must not pick up the new ID
	b.Flush()

	gormRun, err := convert.CoreToRun(*run)
	if err != nil {
		return err
	}
	if err := b.deps.DB.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert new run: %w", err)
	}
	run.ID = gormRun.ID
	b.runID.Store(uint64(gormRun.ID))
	return nil
}

// EndRun flushes every queue and stamps the run's end time.
func (b *Backend) EndRun() error {
	id := uint(b.runID.Load())
	if id == 0 {
		return ErrNoRun
	}
	b.Flush()
	if b.deps.DB == nil {
		return nil
	}
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", id).Update("end_time", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to close run %d: %w", id, err)
	}
	return nil
}

// AddVehicle converts a vehicle and its wheels to GORM and pushes them to the write queues.
func (b *Backend) AddVehicle(v *core.VehicleInfo) error {
	wheels, err := convert.CoreToWheels(*v)
	if err != nil {
		return fmt.Errorf("vehicle %d: %w", v.ID, err)
	}
	b.queues.Vehicles.Push(convert.CoreToVehicle(*v))
	b.queues.Wheels.Push(wheels...)
	return nil
}

// RecordVehicleSample converts and queues a vehicle sample.
func (b *Backend) RecordVehicleSample(s *core.VehicleSample) error {
	row, err := convert.CoreToVehicleSample(*s)
	if err != nil {
		return fmt.Errorf("vehicle %d sample: %w", s.VehicleID, err)
	}
	b.queues.Samples.Push(row)
	return nil
}

// RecordRecoveryEvent converts and queues a recovery event.
func (b *Backend) RecordRecoveryEvent(e *core.RecoveryEvent) error {
	row, err := convert.CoreToRecoveryEvent(*e)
	if err != nil {
		return fmt.Errorf("vehicle %d recovery event: %w", e.VehicleID, err)
	}
	b.queues.RecoveryEvents.Push(row)
	return nil
}

// QueueLengths reports the pending rows per queue.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"vehicles":        b.queues.Vehicles.Len(),
		"wheels":          b.queues.Wheels.Len(),
		"samples":         b.queues.Samples.Len(),
		"recovery_events": b.queues.RecoveryEvents.Len(),
	}
}

// LastWriteDuration is how long the last writer pass took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// writeQueue writes a queue to the database in transactions of at most maxBatchRows.
// A failed batch goes back to the head of the queue and is retried on the next pass.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger, prepare func([]T) []T, conflict *clause.OnConflict) {
	for !q.Empty() {
		items := q.Take(maxBatchRows)
		if prepare != nil {
			items = prepare(items)
		}
		if len(items) == 0 {
			continue
		}

		tx := db.Begin()
		if conflict != nil {
			tx = tx.Clauses(*conflict)
		}
		if err := tx.Create(&items).Error; err != nil {
			log.Error().Err(err).Str("queue", name).Int("rows", len(items)).Msg("Error writing queue")
			tx.Rollback()
			q.Requeue(items...)
			return
		}
		tx.Commit()
	}
}

// Flush drains every queue into the DB. Safe to call concurrently with the writer.
func (b *Backend) Flush() {
	if b.deps.DB == nil {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	runID := uint(b.runID.Load())
	db := b.deps.DB
	log := b.deps.Logger

	// re-registrations within one batch keep the latest row per key
	writeQueue(db, b.queues.Vehicles, "vehicles", log, func(items []model.Vehicle) []model.Vehicle {
		seen := make(map[uint16]int, len(items))
		out := items[:0]
		for _, v := range items {
			v.RunID = runID
			if i, ok := seen[v.ObjectID]; ok {
				out[i] = v
				continue
			}
			seen[v.ObjectID] = len(out)
			out = append(out, v)
		}
		return out
	}, &clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "object_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "name", "mass"}),
	})

	writeQueue(db, b.queues.Wheels, "wheels", log, func(items []model.Wheel) []model.Wheel {
		type key struct {
			vehicle uint16
			handle  uint32
		}
		seen := make(map[key]int, len(items))
		out := items[:0]
		for _, w := range items {
			w.RunID = runID
			k := key{w.VehicleObjectID, w.Handle}
			if i, ok := seen[k]; ok {
				out[i] = w
				continue
			}
			seen[k] = len(out)
			out = append(out, w)
		}
		return out
	}, &clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "vehicle_object_id"}, {Name: "handle"}},
		DoUpdates: clause.AssignmentColumns([]string{"mount", "mount_orientation", "tire"}),
	})

	writeQueue(db, b.queues.Samples, "vehicle samples", log, func(items []model.VehicleSample) []model.VehicleSample {
		for i := range items {
			items[i].RunID = runID
		}
		return items
	}, nil)

	writeQueue(db, b.queues.RecoveryEvents, "recovery events", log, func(items []model.RecoveryEvent) []model.RecoveryEvent {
		for i := range items {
			items[i].RunID = runID
		}
		return items
	}, nil)

	b.lastWrite.Store(int64(time.Since(start)))
}

// writer periodically drains queues into the DB until Close.
func (b *Backend) writer() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
