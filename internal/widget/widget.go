// Package widget describes the map widget collaborators the controllers drive.
// The browser bridge and the in-memory widget both implement these.
package widget

import "github.com/OCAP2/mapview/pkg/core"

// Marker is a pin placed on the map.
type Marker interface {
	ID() string
	Position() core.GeoPoint
	// Metadata returns the opaque value attached when the marker was created.
	Metadata() any
	// Remove takes the marker off the map. Removing twice is a no-op.
	Remove()
}

// MarkerOptions configures a new marker.
type MarkerOptions struct {
	Position  core.GeoPoint
	Draggable bool
	Icon      string
	Metadata  any
	// OnDragEnd is called with the new position after a drag gesture.
	OnDragEnd func(core.GeoPoint)
}

// Map is the interactive map.
type Map interface {
	Center() core.GeoPoint
	Zoom() int
	Bounds() core.Bounds
	// ZoomRange returns the min and max zoom the widget allows.
	ZoomRange() (minZoom, maxZoom int)
	PanTo(p core.GeoPoint)
	AddMarker(opts MarkerOptions) (Marker, error)
}

// Form receives values for externally defined input fields.
type Form interface {
	SetValue(fieldID, value string)
}

// PlaceSearch is the free-text place search box.
type PlaceSearch interface {
	// SetBounds biases search results towards the given area.
	SetBounds(b core.Bounds)
}
