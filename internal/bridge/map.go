package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/OCAP2/mapview/internal/cache"
	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/internal/widget"
	"github.com/OCAP2/mapview/pkg/core"
	"github.com/OCAP2/mapview/pkg/streaming"
)

var (
	// ErrUnknownMarker is returned when a dragend names a marker the map does not hold.
	ErrUnknownMarker = errors.New("unknown marker")

	// ErrNotDraggable is returned when a dragend targets a fixed marker.
	ErrNotDraggable = errors.New("marker is not draggable")
)

// View is the initial view of a page before the browser reports its own.
type View struct {
	Center  core.GeoPoint
	Zoom    int
	MinZoom int
	MaxZoom int
	Width   int
	Height  int
}

// Map mirrors the browser map. Reads come from the last view the page
// reported; writes become outbound envelopes.
type Map struct {
	send func(msgType string, payload any)

	mu        sync.Mutex
	view      View
	bounds    core.Bounds
	hasBounds bool

	markers *cache.Registry[*Marker]
}

var (
	_ widget.Map         = (*Map)(nil)
	_ widget.Form        = (*Map)(nil)
	_ widget.PlaceSearch = (*Map)(nil)
)

// NewMap creates a mirror that emits envelopes through send.
func NewMap(view View, send func(msgType string, payload any)) *Map {
	return &Map{
		send:    send,
		view:    view,
		markers: cache.NewRegistry[*Marker](),
	}
}

// SetView records the view reported by an idle event.
func (m *Map) SetView(center core.GeoPoint, zoom int, bounds core.Bounds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.Center = center
	m.view.Zoom = zoom
	m.bounds = bounds
	m.hasBounds = true
}

// SetVisibleBounds records the bounds reported by a bounds_changed event.
func (m *Map) SetVisibleBounds(b core.Bounds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds = b
	m.hasBounds = true
}

// Center returns the last reported center.
func (m *Map) Center() core.GeoPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.Center
}

// Zoom returns the last reported zoom.
func (m *Map) Zoom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.Zoom
}

// Bounds returns the last reported bounds, or an estimate from the view
// before the page has reported any.
func (m *Map) Bounds() core.Bounds {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasBounds {
		return m.bounds
	}
	return geo.ViewportBounds(m.view.Center, m.view.Zoom, m.view.Width, m.view.Height)
}

// ZoomRange returns the zoom limits the page is configured with.
func (m *Map) ZoomRange() (int, int) {
	return m.view.MinZoom, m.view.MaxZoom
}

// PanTo re-centers the page map.
func (m *Map) PanTo(p core.GeoPoint) {
	m.send(streaming.TypePanTo, streaming.PanToPayload{Point: p})
}

// AddMarker draws a marker on the page. core.Item metadata is sent along as
// the marker profile.
func (m *Map) AddMarker(opts widget.MarkerOptions) (widget.Marker, error) {
	if !geo.Valid(opts.Position) {
		return nil, fmt.Errorf("add marker: %w", geo.ErrInvalidCoordinates)
	}
	mk := &Marker{id: uuid.NewString(), m: m, opts: opts, pos: opts.Position}
	m.markers.Set(mk.id, mk)

	payload := streaming.AddMarkerPayload{
		ID:        mk.id,
		Position:  opts.Position,
		Draggable: opts.Draggable,
		Icon:      opts.Icon,
	}
	if item, ok := opts.Metadata.(core.Item); ok {
		payload.Profile = item.Profile
	}
	m.send(streaming.TypeAddMarker, payload)
	return mk, nil
}

// SetValue writes a form input on the page.
func (m *Map) SetValue(fieldID, value string) {
	m.send(streaming.TypeSetField, streaming.SetFieldPayload{ID: fieldID, Value: value})
}

// SetBounds biases the page's place search.
func (m *Map) SetBounds(b core.Bounds) {
	m.send(streaming.TypeSetSearchBounds, streaming.BoundsPayload{Bounds: b})
}

// Drag applies a dragend event to marker id and fires its drag callback.
func (m *Map) Drag(id string, to core.GeoPoint) error {
	mk, ok := m.markers.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarker, id)
	}
	if !mk.opts.Draggable {
		return fmt.Errorf("%w: %s", ErrNotDraggable, id)
	}
	mk.mu.Lock()
	mk.pos = to
	mk.mu.Unlock()

	if mk.opts.OnDragEnd != nil {
		mk.opts.OnDragEnd(to)
	}
	return nil
}

// Markers returns the markers currently on the page.
func (m *Map) Markers() []*Marker {
	return m.markers.Values()
}

// Detach forgets all markers without telling the page. Used on disconnect.
func (m *Map) Detach() {
	m.markers.Reset()
}

// Marker is a marker drawn on the page.
type Marker struct {
	id   string
	m    *Map
	opts widget.MarkerOptions

	mu  sync.Mutex
	pos core.GeoPoint
}

// ID returns the id shared with the page.
func (mk *Marker) ID() string { return mk.id }

// Position returns the marker position, updated by drags.
func (mk *Marker) Position() core.GeoPoint {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.pos
}

// Metadata returns the value attached at creation.
func (mk *Marker) Metadata() any { return mk.opts.Metadata }

// Remove deletes the marker from the page once.
func (mk *Marker) Remove() {
	if mk.m.markers.Delete(mk.id) {
		mk.m.send(streaming.TypeRemoveMarker, streaming.RemoveMarkerPayload{ID: mk.id})
	}
}
