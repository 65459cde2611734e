package config

import (
	"time"

	"github.com/spf13/viper"
)

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings for the in-memory SQLite backend.
type SQLiteConfig struct {
	DumpInterval time.Duration
	DumpPath     string
}

// WebSocketConfig holds settings for the streaming backend.
type WebSocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	WebSocket WebSocketConfig
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	Enabled    bool
	Interval   time.Duration
	StatusFile string
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}
