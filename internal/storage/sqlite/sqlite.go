// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend via composition; the only SQLite-specific concerns are
// creating the in-memory DB and dumping it to disk.
package sqlitestorage

import (
	"fmt"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/database"
	"github.com/nowa-engine/raycastvehicle/internal/storage/postgres"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*postgres.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new SQLite storage backend. name identifies the in-memory database.
func New(cfg config.SQLiteConfig, name string, log zerolog.Logger) (*Backend, error) {
	db, err := database.OpenSqliteMemory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	return &Backend{
		Backend: postgres.New(postgres.Dependencies{
			DB:     db,
			Logger: log,
		}),
		db:  db,
		cfg: cfg,
		log: log,
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.done)
	}
	return nil
}

// EndRun flushes the run and writes a snapshot.
func (b *Backend) EndRun() error {
	if err := b.Backend.EndRun(); err != nil {
		return err
	}
	return b.dump()
}

// Close stops the dump goroutine, closes the embedded GORM backend and writes a final snapshot.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		select {
		case <-b.stopChan:
		default:
			close(b.stopChan)
		}
		<-b.done
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.dump()
}

// GetExportedFilePath returns the dump file, empty when dumps are disabled.
func (b *Backend) GetExportedFilePath() string {
	return b.cfg.DumpPath
}

func (b *Backend) dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		return err
	}
	b.log.Debug().Dur("duration", time.Since(start)).Str("path", b.cfg.DumpPath).Msg("Dumped to disk")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.Flush()
			if err := b.dump(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}
