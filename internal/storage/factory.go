// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/nowa-engine/raycastvehicle/internal/config"
	"github.com/nowa-engine/raycastvehicle/internal/storage/memory"
	"github.com/nowa-engine/raycastvehicle/internal/storage/postgres"
	sqlitestorage "github.com/nowa-engine/raycastvehicle/internal/storage/sqlite"
	"github.com/nowa-engine/raycastvehicle/internal/storage/websocket"
	"github.com/rs/zerolog"
)

// Loggers carries the two logging front ends: the GORM backends log through
// zerolog, the rest through slog.
type Loggers struct {
	Zerolog zerolog.Logger
	Slog    *slog.Logger
}

// NewBackend creates a storage backend based on configuration. The backend is not initialized.
func NewBackend(cfg config.StorageConfig, logs Loggers) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Dependencies{Logger: logs.Zerolog}), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, "raycastvehicle", logs.Zerolog)
	case "websocket":
		if cfg.WebSocket.URL == "" {
			return nil, fmt.Errorf("websocket backend requires storage.websocket.url")
		}
		return websocket.New(websocket.Config{URL: cfg.WebSocket.URL, Secret: cfg.WebSocket.Secret}, logs.Slog), nil
	case "memory", "":
		return memory.New(cfg.Memory, logs.Slog), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
