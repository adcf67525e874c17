package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/mapview/internal/api"
	"github.com/OCAP2/mapview/internal/bridge"
	"github.com/OCAP2/mapview/internal/config"
	"github.com/OCAP2/mapview/internal/logging"
	"github.com/OCAP2/mapview/internal/placement"
	"github.com/OCAP2/mapview/internal/viewport"
	"github.com/OCAP2/mapview/pkg/core"
)

const recording = `# initial load
{"type":"idle","payload":{"center":{"lat":52.52,"lng":13.405},"zoom":11}}
{"type":"idle","payload":{"center":{"lat":52.5201,"lng":13.405},"zoom":11}}

{"type":"bounds_changed","payload":{"bounds":{"south":48.8,"west":2.2,"north":48.9,"east":2.4}}}
{"type":"click","payload":{"point":{"lat":48.8583701,"lng":2.2944813}}}
{"type":"dragend","payload":{"point":{"lat":48.85837019,"lng":2.29448131}}}
{"type":"places_changed","payload":{"places":[{"name":"nowhere"}]}}
not json
{"type":"zoom_changed","payload":{}}
`

type countingSource struct {
	mu      sync.Mutex
	queries []api.ItemsQuery
}

func (s *countingSource) ItemsInRadius(_ context.Context, q api.ItemsQuery) (*core.ItemsResponse, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	return &core.ItemsResponse{Success: true, Results: []core.Item{
		{Location: q.Center, Profile: map[string]json.RawMessage{"name": json.RawMessage(`"center"`)}},
		{Location: core.GeoPoint{Lat: q.Center.Lat, Lng: q.Center.Lng + 0.01}},
	}}, nil
}

func testBridgeConfig() bridge.Config {
	view := bridge.View{
		Center:  core.GeoPoint{Lat: 52.52, Lng: 13.405},
		Zoom:    11,
		MinZoom: 6,
		MaxZoom: 19,
		Width:   1024,
		Height:  768,
	}
	newLocation := view
	newLocation.Zoom = 13
	return bridge.Config{Map: view, NewLocation: newLocation, RequeryDistance: 100, Fields: placement.DefaultFields}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReplayer_Run(t *testing.T) {
	source := &countingSource{}
	r, err := newReplayer(testBridgeConfig(), source, discardLogger(), logging.NewConsoleDispatcherLogger(io.Discard, "info"))
	require.NoError(t, err)
	defer r.close()

	events, failed, err := r.run(strings.NewReader(recording))
	require.NoError(t, err)
	assert.Equal(t, 7, events)
	assert.Equal(t, 3, failed)

	require.Len(t, source.queries, 1, "an 11m move must not requery")
	assert.Equal(t, viewport.RadiusTable[11], source.queries[0].Radius)

	var out bytes.Buffer
	r.report(&out)
	report := out.String()

	assert.Contains(t, report, "viewport: center=52.520000,13.405000 zoom=11")
	assert.Contains(t, report, "markers (2):")
	assert.Contains(t, report, `52.520000,13.405000 {"name":"center"}`)
	assert.Contains(t, report, "coord_latitude=48.858370")
	assert.Contains(t, report, "coord_longitude=2.294481")
	assert.Contains(t, report, "selected=48.858370,2.294481")
	assert.Equal(t, core.Bounds{South: 48.8, West: 2.2, North: 48.9, East: 2.4}, r.search.Bounds())
}

func TestReplayer_DragWithoutPin(t *testing.T) {
	r, err := newReplayer(testBridgeConfig(), &countingSource{}, discardLogger(), logging.NewConsoleDispatcherLogger(io.Discard, "info"))
	require.NoError(t, err)
	defer r.close()

	events, failed, err := r.run(strings.NewReader(`{"type":"dragend","payload":{"point":{"lat":1,"lng":2}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, failed)

	var out bytes.Buffer
	r.report(&out)
	assert.Contains(t, out.String(), "viewport: never queried")
	assert.Contains(t, out.String(), "selected=none")
}

func TestRunReplayFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.ItemsInRadiusPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"results":[{"location":{"lat":52.5,"lng":13.4},"name":"Museum"}]}`))
	}))
	defer backend.Close()

	dir := t.TempDir()
	cfg := `{"api":{"serverUrl":"` + backend.URL + `","timeout":"2s"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))
	require.NoError(t, config.Load(dir))

	replayFile := filepath.Join(dir, "session.ndjson")
	require.NoError(t, os.WriteFile(replayFile, []byte(recording), 0644))

	Logger = discardLogger()
	EventLogger = logging.NewConsoleDispatcherLogger(io.Discard, "info")

	var out bytes.Buffer
	geojsonFile := filepath.Join(dir, "final.geojson")
	require.NoError(t, runReplayFile(replayFile, geojsonFile, &out))
	assert.Contains(t, out.String(), "markers (1):")
	assert.Contains(t, out.String(), `52.500000,13.400000 {"name":"Museum"}`)

	raw, err := os.ReadFile(geojsonFile)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)

	kinds := map[string]orb.Point{}
	for _, f := range fc.Features {
		kinds[f.Properties.MustString("kind")] = f.Point()
	}
	assert.Equal(t, orb.Point{13.4, 52.5}, kinds["item"])
	assert.Contains(t, kinds, "selection")

	assert.Error(t, runReplayFile(filepath.Join(dir, "missing.ndjson"), "", &out))
}
