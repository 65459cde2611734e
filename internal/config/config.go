package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ConfigFileName is the file Load looks for in the config directory.
const ConfigFileName = "raycastvehicle.cfg.json"

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// SetDefaults registers every default value with viper. Load calls it; tools that run
// without a config file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./simlogs")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "raycastvehicle")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "vehicle-sim")
	viper.SetDefault("influx.backupPath", "./simlogs/telemetry_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "raycastvehicle")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./recordings/raycastvehicle.db")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("sim.substeps", 4)
	viper.SetDefault("sim.groundHeight", 0.0)
	viper.SetDefault("sim.sampleInterval", 4)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "5s")
	viper.SetDefault("monitor.statusFile", "./simlogs/status.json")

	setStructDefaults("suspension", DefaultSuspensionConfig())
	setStructDefaults("friction", DefaultFrictionConfig())
	setStructDefaults("drive", DefaultDriveConfig())
	setStructDefaults("recovery", DefaultRecoveryConfig())
	setStructDefaults("vehicle", DefaultVehicleConfig())
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}
