package main

import (
	"fmt"

	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/database"
	"github.com/nowa-engine/raycastvehicle/internal/storage"
	"gorm.io/gorm"
)

func initStorage() error {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, storage.Loggers{Zerolog: ZLogger, Slog: Logger})
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize %s storage backend: %w", storageCfg.Type, err)
	}
	storageBackend = backend

	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return nil
}

// openPostgres connects to the central database for the offline commands.
func openPostgres() (*gorm.DB, error) {
	db, err := database.OpenPostgres()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}
