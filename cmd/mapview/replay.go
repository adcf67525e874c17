package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/OCAP2/mapview/internal/api"
	"github.com/OCAP2/mapview/internal/bridge"
	"github.com/OCAP2/mapview/internal/config"
	"github.com/OCAP2/mapview/internal/dispatcher"
	"github.com/OCAP2/mapview/internal/placement"
	"github.com/OCAP2/mapview/internal/viewport"
	"github.com/OCAP2/mapview/internal/widget/memory"
	"github.com/OCAP2/mapview/pkg/core"
	"github.com/OCAP2/mapview/pkg/streaming"
)

const maxReplayLine = 1 << 20

var errNoPin = errors.New("no placed marker to drag")

// replayer feeds recorded page events to both controllers on headless widgets.
type replayer struct {
	viewMap  *memory.Map
	placeMap *memory.Map
	form     *memory.Form
	search   *memory.PlaceSearch
	fields   placement.Fields

	viewport  *viewport.Controller
	placement *placement.Controller
	disp      *dispatcher.Dispatcher
	logger    *slog.Logger
}

func memoryConfig(v bridge.View) memory.Config {
	return memory.Config{
		Center:  v.Center,
		Zoom:    v.Zoom,
		MinZoom: v.MinZoom,
		MaxZoom: v.MaxZoom,
		Width:   v.Width,
		Height:  v.Height,
	}
}

func newReplayer(cfg bridge.Config, source viewport.ItemSource, logger *slog.Logger, eventLogger dispatcher.Logger) (*replayer, error) {
	r := &replayer{
		viewMap:  memory.New(memoryConfig(cfg.Map)),
		placeMap: memory.New(memoryConfig(cfg.NewLocation)),
		form:     memory.NewForm(),
		search:   &memory.PlaceSearch{},
		fields:   cfg.Fields,
		logger:   logger,
	}

	var opts []viewport.Option
	if cfg.RequeryDistance > 0 {
		opts = append(opts, viewport.WithRequeryDistance(cfg.RequeryDistance))
	}
	var err error
	r.viewport, err = viewport.New(r.viewMap, source, logger.With("page", streaming.PageMap), opts...)
	if err != nil {
		return nil, err
	}
	r.placement = placement.New(r.placeMap, r.form, r.search, cfg.Fields, logger.With("page", streaming.PageNewLocation))

	r.disp, err = dispatcher.New(eventLogger)
	if err != nil {
		r.viewport.Close()
		return nil, err
	}
	r.register()
	return r, nil
}

func (r *replayer) register() {
	r.disp.Register(streaming.TypeIdle, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.IdlePayload](e)
		if err != nil {
			return err
		}
		if _, err := viewport.RadiusForZoom(p.Zoom); err != nil {
			return err
		}
		center, zoom := r.viewMap.SetView(p.Center, p.Zoom)
		r.placeMap.SetView(p.Center, p.Zoom)
		r.viewport.OnViewportSettled(center, zoom)
		r.viewport.Wait()
		return nil
	}, dispatcher.Logged())

	r.disp.Register(streaming.TypeBoundsChanged, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.BoundsPayload](e)
		if err != nil {
			return err
		}
		r.placement.OnBoundsChanged(p.Bounds)
		return nil
	}, dispatcher.Logged())

	r.disp.Register(streaming.TypeClick, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.ClickPayload](e)
		if err != nil {
			return err
		}
		return r.placement.OnMapClicked(p.Point)
	}, dispatcher.Logged())

	// An empty markerId targets the current pin, since recorded ids are
	// not stable across runs.
	r.disp.Register(streaming.TypeDragEnd, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.DragEndPayload](e)
		if err != nil {
			return err
		}
		id := p.MarkerID
		if id == "" {
			pins := r.placeMap.Markers()
			if len(pins) == 0 {
				return errNoPin
			}
			id = pins[len(pins)-1].ID()
		}
		return r.placeMap.Drag(id, p.Point)
	}, dispatcher.Logged())

	r.disp.Register(streaming.TypePlacesChanged, func(e dispatcher.Event) error {
		p, err := dispatcher.Decode[streaming.PlacesChangedPayload](e)
		if err != nil {
			return err
		}
		return r.placement.OnPlacesChanged(p.Places)
	}, dispatcher.Logged())
}

// run replays every envelope in in. Blank lines and lines starting with #
// are skipped. Rejected events are logged and counted, not fatal.
func (r *replayer) run(in io.Reader) (events, failed int, err error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxReplayLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var env streaming.Envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil || env.Type == "" {
			r.logger.Warn("Skipping malformed replay line", "line", line, "error", err)
			failed++
			continue
		}

		events++
		if err := r.disp.Dispatch(dispatcher.Event{Command: env.Type, Payload: env.Payload, Session: "replay"}); err != nil {
			r.logger.Warn("Replay event rejected", "line", line, "type", env.Type, "error", err)
			failed++
		}
	}
	if err := sc.Err(); err != nil {
		return events, failed, fmt.Errorf("read replay: %w", err)
	}
	return events, failed, nil
}

func formatPoint(p core.GeoPoint) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// report prints the final widget state.
func (r *replayer) report(out io.Writer) {
	if st := r.viewport.State(); st != nil {
		radius, _ := viewport.RadiusForZoom(st.Zoom)
		fmt.Fprintf(out, "viewport: center=%s zoom=%d radius=%dm\n", formatPoint(st.Center), st.Zoom, radius)
	} else {
		fmt.Fprintln(out, "viewport: never queried")
	}

	markers := r.viewMap.Markers()
	fmt.Fprintf(out, "markers (%d):\n", len(markers))
	for _, mk := range markers {
		profile := "{}"
		if item, ok := mk.Metadata().(core.Item); ok && len(item.Profile) > 0 {
			if b, err := json.Marshal(item.Profile); err == nil {
				profile = string(b)
			}
		}
		fmt.Fprintf(out, "  %s %s\n", formatPoint(mk.Position()), profile)
	}

	fmt.Fprintln(out, "placement:")
	fmt.Fprintf(out, "  %s=%s\n", r.fields.Lat, r.form.Value(r.fields.Lat))
	fmt.Fprintf(out, "  %s=%s\n", r.fields.Lng, r.form.Value(r.fields.Lng))
	if p, ok := r.placement.Selected(); ok {
		fmt.Fprintf(out, "  selected=%s\n", formatPoint(p))
	} else {
		fmt.Fprintln(out, "  selected=none")
	}
}

// features returns the viewport markers and the placed selection as GeoJSON.
func (r *replayer) features() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, mk := range r.viewMap.Markers() {
		pos := mk.Position()
		f := geojson.NewFeature(orb.Point{pos.Lng, pos.Lat})
		f.Properties["kind"] = "item"
		if item, ok := mk.Metadata().(core.Item); ok {
			for k, v := range item.Profile {
				f.Properties[k] = v
			}
		}
		fc.Append(f)
	}
	if p, ok := r.placement.Selected(); ok {
		f := geojson.NewFeature(orb.Point{p.Lng, p.Lat})
		f.Properties["kind"] = "selection"
		fc.Append(f)
	}
	return fc
}

func (r *replayer) writeGeoJSON(path string) error {
	b, err := json.MarshalIndent(r.features(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}

func (r *replayer) close() {
	_ = r.disp.Close()
	r.viewport.Close()
	r.placement.Close()
}

// runReplayFile replays path and prints the final state to out. When
// geojsonPath is set the final markers are also written there.
func runReplayFile(path, geojsonPath string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	cfg, err := bridgeConfig()
	if err != nil {
		return fmt.Errorf("invalid map config: %w", err)
	}
	apiCfg := config.GetAPIConfig()

	r, err := newReplayer(cfg, api.New(apiCfg.ServerURL, apiCfg.Timeout), Logger, EventLogger)
	if err != nil {
		return err
	}

	defer r.close()

	events, failed, err := r.run(f)
	r.report(out)
	if err != nil {
		return err
	}
	if geojsonPath != "" {
		if err := r.writeGeoJSON(geojsonPath); err != nil {
			return err
		}
	}
	Logger.Info("Replay finished", "file", path, "events", events, "failed", failed)
	return nil
}
