// Package memory implements a headless map widget. It keeps markers, form
// values and the view in process and is used by the replay command and tests.
package memory

import (
	"fmt"
	"sync"

	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/internal/widget"
	"github.com/OCAP2/mapview/pkg/core"
	"github.com/google/uuid"
)

// Config holds the initial view of the widget.
type Config struct {
	Center  core.GeoPoint
	Zoom    int
	MinZoom int
	MaxZoom int
	Width   int
	Height  int
}

// Map is an in-memory widget.Map.
type Map struct {
	mu      sync.Mutex
	cfg     Config
	center  core.GeoPoint
	zoom    int
	markers []*Marker
	pans    []core.GeoPoint
}

var _ widget.Map = (*Map)(nil)

// New creates a widget showing cfg.Center at cfg.Zoom.
func New(cfg Config) *Map {
	m := &Map{cfg: cfg, center: cfg.Center}
	m.zoom = m.clamp(cfg.Zoom)
	return m
}

func (m *Map) clamp(zoom int) int {
	if zoom < m.cfg.MinZoom {
		return m.cfg.MinZoom
	}
	if zoom > m.cfg.MaxZoom {
		return m.cfg.MaxZoom
	}
	return zoom
}

// SetView moves the map the way a user gesture would and returns the settled
// view. Zoom is clamped to the configured range.
func (m *Map) SetView(center core.GeoPoint, zoom int) (core.GeoPoint, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = center
	m.zoom = m.clamp(zoom)
	return m.center, m.zoom
}

// Center returns the current center.
func (m *Map) Center() core.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

// Zoom returns the current zoom level.
func (m *Map) Zoom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// Bounds returns the visible area for the configured viewport size.
func (m *Map) Bounds() core.Bounds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return geo.ViewportBounds(m.center, m.zoom, m.cfg.Width, m.cfg.Height)
}

// ZoomRange returns the configured zoom limits.
func (m *Map) ZoomRange() (int, int) {
	return m.cfg.MinZoom, m.cfg.MaxZoom
}

// PanTo re-centers the map.
func (m *Map) PanTo(p core.GeoPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = p
	m.pans = append(m.pans, p)
}

// Pans returns every PanTo target in call order.
func (m *Map) Pans() []core.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.GeoPoint, len(m.pans))
	copy(out, m.pans)
	return out
}

// AddMarker places a marker on the map.
func (m *Map) AddMarker(opts widget.MarkerOptions) (widget.Marker, error) {
	mk := &Marker{
		id:   uuid.NewString(),
		opts: opts,
		pos:  opts.Position,
		m:    m,
	}
	m.mu.Lock()
	m.markers = append(m.markers, mk)
	m.mu.Unlock()
	return mk, nil
}

// Markers returns the markers currently on the map in creation order.
func (m *Map) Markers() []*Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Marker, len(m.markers))
	copy(out, m.markers)
	return out
}

// VisibleMarkers returns the markers inside the current bounds.
func (m *Map) VisibleMarkers() []*Marker {
	b := m.Bounds()
	var out []*Marker
	for _, mk := range m.Markers() {
		if geo.Contains(b, mk.Position()) {
			out = append(out, mk)
		}
	}
	return out
}

// Drag moves the marker with the given id and fires its drag-end handler.
func (m *Map) Drag(id string, to core.GeoPoint) error {
	var target *Marker
	for _, mk := range m.Markers() {
		if mk.id == id {
			target = mk
			break
		}
	}
	if target == nil {
		return fmt.Errorf("marker %s is not on the map", id)
	}
	if !target.opts.Draggable {
		return fmt.Errorf("marker %s is not draggable", id)
	}

	m.mu.Lock()
	target.pos = to
	m.mu.Unlock()

	if target.opts.OnDragEnd != nil {
		target.opts.OnDragEnd(to)
	}
	return nil
}

func (m *Map) remove(mk *Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.markers {
		if cur == mk {
			m.markers = append(m.markers[:i], m.markers[i+1:]...)
			return
		}
	}
}

// Marker is an in-memory widget.Marker.
type Marker struct {
	id   string
	opts widget.MarkerOptions
	pos  core.GeoPoint
	m    *Map
}

// ID returns the marker id.
func (mk *Marker) ID() string { return mk.id }

// Position returns the current marker position.
func (mk *Marker) Position() core.GeoPoint {
	mk.m.mu.Lock()
	defer mk.m.mu.Unlock()
	return mk.pos
}

// Metadata returns the value attached at creation.
func (mk *Marker) Metadata() any { return mk.opts.Metadata }

// Draggable reports whether the marker accepts drag gestures.
func (mk *Marker) Draggable() bool { return mk.opts.Draggable }

// Icon returns the marker icon URL, empty for the default pin.
func (mk *Marker) Icon() string { return mk.opts.Icon }

// Remove takes the marker off the map.
func (mk *Marker) Remove() { mk.m.remove(mk) }

// Form is an in-memory widget.Form.
type Form struct {
	mu     sync.Mutex
	values map[string]string
}

// NewForm creates an empty form.
func NewForm() *Form {
	return &Form{values: make(map[string]string)}
}

// SetValue stores the field value.
func (f *Form) SetValue(fieldID, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[fieldID] = value
}

// Value returns the field value.
func (f *Form) Value(fieldID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[fieldID]
}

// PlaceSearch records the last search bias.
type PlaceSearch struct {
	mu     sync.Mutex
	bounds core.Bounds
}

// SetBounds stores the bias.
func (s *PlaceSearch) SetBounds(b core.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = b
}

// Bounds returns the last bias.
func (s *PlaceSearch) Bounds() core.Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}
