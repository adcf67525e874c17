package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/pkg/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"api": { "serverUrl": "http://items.local:8000" },
		"map": { "zoom": 14 }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "http://items.local:8000", viper.GetString("api.serverUrl"))
	assert.Equal(t, 14, viper.GetInt("map.zoom"))
	assert.Equal(t, 19, viper.GetInt("map.maxZoom"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "30s", viper.GetString("api.timeout"))
	assert.Equal(t, "52.5200,13.4050", viper.GetString("map.center"))
	assert.Equal(t, 11, viper.GetInt("map.zoom"))
	assert.Equal(t, 6, viper.GetInt("map.minZoom"))
	assert.Equal(t, 19, viper.GetInt("map.maxZoom"))
	assert.Equal(t, 100.0, viper.GetFloat64("viewport.requeryDistance"))
	assert.Equal(t, "coord_latitude", viper.GetString("placement.latField"))
	assert.Equal(t, "coord_longitude", viper.GetString("placement.lngField"))
	assert.Equal(t, ":8080", viper.GetString("bridge.listen"))
	assert.Equal(t, "/ws", viper.GetString("bridge.path"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "mapview", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetMapConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg, err := GetMapConfig()
	require.NoError(t, err)
	assert.Equal(t, core.GeoPoint{Lat: 52.52, Lng: 13.405}, cfg.Center)
	assert.Equal(t, 11, cfg.Zoom)
	assert.Equal(t, 6, cfg.MinZoom)
	assert.Equal(t, 19, cfg.MaxZoom)
	assert.Equal(t, 1024, cfg.ViewportWidth)
	assert.Equal(t, 768, cfg.ViewportHeight)
	assert.Equal(t, 100.0, cfg.RequeryDistance)
}

func TestGetMapConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"map": { "center": "48.137,11.575", "zoom": 9, "minZoom": 3 },
		"viewport": { "requeryDistance": 250 }
	}`)))

	cfg, err := GetMapConfig()
	require.NoError(t, err)
	assert.Equal(t, core.GeoPoint{Lat: 48.137, Lng: 11.575}, cfg.Center)
	assert.Equal(t, 9, cfg.Zoom)
	assert.Equal(t, 3, cfg.MinZoom)
	assert.Equal(t, 250.0, cfg.RequeryDistance)
}

func TestGetMapConfig_InvalidCenter(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"map": {"center": "somewhere"}}`)))

	_, err := GetMapConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinates))
}

func TestGetMapConfig_InvertedZoomRange(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"map": {"minZoom": 15, "maxZoom": 10}}`)))

	_, err := GetMapConfig()
	assert.Error(t, err)
}

func TestGetAPIConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"api": {"timeout": "2s"}}`)))

	cfg := GetAPIConfig()
	assert.Equal(t, "http://localhost:5000", cfg.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestGetPlacementAndBridgeConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"placement": { "latField": "lat" },
		"bridge": { "listen": "127.0.0.1:9000" }
	}`)))

	pc := GetPlacementConfig()
	assert.Equal(t, "lat", pc.LatField)
	assert.Equal(t, "coord_longitude", pc.LngField)
	assert.Equal(t, 13, pc.Zoom)

	bc := GetBridgeConfig()
	assert.Equal(t, "127.0.0.1:9000", bc.Listen)
	assert.Equal(t, "/ws", bc.Path)
}

func TestGetGraylogConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"graylog": {"enabled": true, "address": "logs:12201"}}`)))

	gc := GetGraylogConfig()
	assert.True(t, gc.Enabled)
	assert.Equal(t, "logs:12201", gc.Address)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "mapview", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("MAPVIEW_API_SERVERURL", "http://env.local:9000")
	t.Setenv("MAPVIEW_MAP_ZOOM", "9")

	require.NoError(t, Load(writeConfig(t, `{"api": {"serverUrl": "http://file.local"}}`)))

	assert.Equal(t, "http://env.local:9000", GetAPIConfig().ServerURL)
	cfg, err := GetMapConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Zoom)
}

func TestGetMonitorConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"monitor": {"statusFile": "/tmp/mapview.status"}}`)))

	cfg := GetMonitorConfig()
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, "/tmp/mapview.status", cfg.StatusFile)
}
