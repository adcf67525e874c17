package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "mapview.cfg.json"

// MapConfig holds the initial map view and widget limits.
type MapConfig struct {
	Center         core.GeoPoint
	Zoom           int
	MinZoom        int
	MaxZoom        int
	ViewportWidth  int
	ViewportHeight int
	// RequeryDistance is the center shift in meters that triggers a refresh.
	RequeryDistance float64
}

// APIConfig holds the location-search backend settings.
type APIConfig struct {
	ServerURL string
	Timeout   time.Duration
}

// PlacementConfig holds the new-location page settings.
type PlacementConfig struct {
	LatField string
	LngField string
	Zoom     int
}

// BridgeConfig holds the browser bridge server settings.
type BridgeConfig struct {
	Listen string
	Path   string
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// MonitorConfig holds the status monitor settings.
type MonitorConfig struct {
	Interval   time.Duration
	StatusFile string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.timeout", "30s")

	// Berlin
	viper.SetDefault("map.center", "52.5200,13.4050")
	viper.SetDefault("map.zoom", 11)
	viper.SetDefault("map.minZoom", 6)
	viper.SetDefault("map.maxZoom", 19)
	viper.SetDefault("map.viewportWidth", 1024)
	viper.SetDefault("map.viewportHeight", 768)

	viper.SetDefault("viewport.requeryDistance", 100.0)

	viper.SetDefault("placement.latField", "coord_latitude")
	viper.SetDefault("placement.lngField", "coord_longitude")
	viper.SetDefault("placement.zoom", 13)

	viper.SetDefault("bridge.listen", ":8080")
	viper.SetDefault("bridge.path", "/ws")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("monitor.interval", "30s")
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapview")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	// MAPVIEW_API_SERVERURL overrides api.serverUrl, and so on.
	viper.SetEnvPrefix("mapview")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
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

// GetMapConfig returns the map settings. An unparsable map.center is an error.
func GetMapConfig() (MapConfig, error) {
	center, err := geo.PointFromString(viper.GetString("map.center"))
	if err != nil {
		return MapConfig{}, fmt.Errorf("map.center: %w", err)
	}
	cfg := MapConfig{
		Center:          center,
		Zoom:            viper.GetInt("map.zoom"),
		MinZoom:         viper.GetInt("map.minZoom"),
		MaxZoom:         viper.GetInt("map.maxZoom"),
		ViewportWidth:   viper.GetInt("map.viewportWidth"),
		ViewportHeight:  viper.GetInt("map.viewportHeight"),
		RequeryDistance: viper.GetFloat64("viewport.requeryDistance"),
	}
	if cfg.MinZoom > cfg.MaxZoom {
		return MapConfig{}, fmt.Errorf("map.minZoom %d above map.maxZoom %d", cfg.MinZoom, cfg.MaxZoom)
	}
	return cfg, nil
}

// GetAPIConfig returns the backend settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		Timeout:   viper.GetDuration("api.timeout"),
	}
}

// GetPlacementConfig returns the new-location page settings.
func GetPlacementConfig() PlacementConfig {
	return PlacementConfig{
		LatField: viper.GetString("placement.latField"),
		LngField: viper.GetString("placement.lngField"),
		Zoom:     viper.GetInt("placement.zoom"),
	}
}

// GetBridgeConfig returns the bridge server settings.
func GetBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Listen: viper.GetString("bridge.listen"),
		Path:   viper.GetString("bridge.path"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
