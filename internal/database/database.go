package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNoDumpPath is returned when a dump is requested without a target file.
var ErrNoDumpPath = errors.New("sqlite file path not set")

// Manager handles database connections and operations.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	SqliteFilePath  string
	Logger          zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		Logger: log,
	}
}

// Connect establishes a database connection, falling back to an in-memory SQLite
// database if Postgres is unreachable.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = OpenPostgres()
	if err == nil {
		m.SqlDB, err = m.DB.DB()
		if err == nil {
			err = m.SqlDB.Ping()
		}
	}
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		m.ShouldSaveLocal = true
		m.DB, err = OpenSqliteMemory("raycastvehicle")
		if err != nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %w", err)
		}
		m.Logger.Info().Msg("Using local SQLite DB in memory with periodic disk dump")
		if m.SqlDB, err = m.DB.DB(); err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
	} else {
		m.Logger.Info().Msg("Connected to database")
		m.SqlDB.SetMaxOpenConns(10)
	}

	m.IsValid = true
	return nil
}

// Setup migrates every table.
func (m *Manager) Setup() error {
	if err := Migrate(m.DB, m.Logger); err != nil {
		m.IsValid = false
		return err
	}
	return nil
}

// DumpMemoryToDisk vacuums the in-memory database to SqliteFilePath.
func (m *Manager) DumpMemoryToDisk() error {
	start := time.Now()
	if err := DumpMemoryDBToDisk(m.DB, m.SqliteFilePath); err != nil {
		return err
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Msg("Dumped memory DB to disk")
	return nil
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}

// PostgresDSN builds the connection string from the db.* configuration keys.
func PostgresDSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		config.GetString("db.host"),
		config.GetString("db.port"),
		config.GetString("db.username"),
		config.GetString("db.password"),
		config.GetString("db.database"),
	)
}

// OpenPostgres returns a connection to the Postgres database using the db.* configuration.
func OpenPostgres() (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// OpenSqlite returns a connection to a SQLite database file.
func OpenSqlite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, ErrNoDumpPath
	}
	return openSqlite(path)
}

// OpenSqliteMemory returns a connection to a named, shared-cache in-memory database.
// Connections opened with the same name see the same data.
func OpenSqliteMemory(name string) (*gorm.DB, error) {
	db, err := openSqlite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	// the database lives as long as one connection does
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	return db, nil
}

func openSqlite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Migrate creates or updates the schema. On Postgres it also makes sure PostGIS is installed.
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS extension: %w", err)
		}
		log.Info().Msg("PostGIS extension created")
	}

	log.Info().Msg("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info().Msg("Database setup complete")
	return nil
}

// DumpMemoryDBToDisk vacuums the in-memory database to a disk file, replacing any existing one.
func DumpMemoryDBToDisk(db *gorm.DB, sqliteFilePath string) error {
	if sqliteFilePath == "" {
		return ErrNoDumpPath
	}

	if err := os.MkdirAll(filepath.Dir(sqliteFilePath), 0o755); err != nil {
		return fmt.Errorf("error creating dump directory: %w", err)
	}
	if _, err := os.Stat(sqliteFilePath); err == nil {
		if err := os.Remove(sqliteFilePath); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	escaped := strings.ReplaceAll(sqliteFilePath, "'", "''")
	if err := db.Exec("VACUUM INTO 'file:" + escaped + "';").Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	return nil
}

// GetBackupDBPaths returns paths to all .db files in the given directory.
func GetBackupDBPaths(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dbPaths []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".db") {
			dbPaths = append(dbPaths, filepath.Join(dir, file.Name()))
		}
	}
	return dbPaths, nil
}
