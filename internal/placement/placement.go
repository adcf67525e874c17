// Package placement lets a user pick exactly one coordinate on the map and
// mirrors it into the latitude/longitude form fields.
package placement

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/internal/widget"
	"github.com/OCAP2/mapview/pkg/core"
)

// GeocodeIcon is the icon of the selection marker.
const GeocodeIcon = "https://maps.gstatic.com/mapfiles/place_api/icons/v1/png_71/geocode-71.png"

// dragPrecision is the number of decimals published after a drag (~0.11 m).
const dragPrecision = 6

// ErrGeometryMissing is reported when a selected place has no location.
var ErrGeometryMissing = errors.New("place contains no geometry")

// Fields names the form inputs receiving the coordinate.
type Fields struct {
	Lat string
	Lng string
}

// DefaultFields are the input ids of the new-location form.
var DefaultFields = Fields{Lat: "coord_latitude", Lng: "coord_longitude"}

// Controller keeps at most one selection marker on the map.
type Controller struct {
	m      widget.Map
	form   widget.Form
	search widget.PlaceSearch
	fields Fields
	logger *slog.Logger

	mu      sync.Mutex
	markers []widget.Marker
}

// New creates a placement controller. search may be nil when the page has
// no search box.
func New(m widget.Map, form widget.Form, search widget.PlaceSearch, fields Fields, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		m:      m,
		form:   form,
		search: search,
		fields: fields,
		logger: logger,
	}
}

// OnPlacesChanged handles a place-search result. Only the first candidate is
// used.
func (c *Controller) OnPlacesChanged(places []core.Place) error {
	if len(places) == 0 {
		return nil
	}
	c.logger.Debug("Places received", "count", len(places))

	place := places[0]
	if place.Geometry == nil {
		c.logger.Info("Returned place contains no geometry", "name", place.Name)
		return ErrGeometryMissing
	}
	return c.OnPlaceSelected(*place.Geometry)
}

// OnPlaceSelected places the marker at a resolved search result.
func (c *Controller) OnPlaceSelected(p core.GeoPoint) error {
	return c.PlaceAt(p)
}

// OnMapClicked places the marker where the user clicked.
func (c *Controller) OnMapClicked(p core.GeoPoint) error {
	return c.PlaceAt(p)
}

// OnMarkerDragEnd publishes the dragged-to position rounded to six decimals
// and re-centers the map on it.
func (c *Controller) OnMarkerDragEnd(p core.GeoPoint) {
	lat := geo.RoundTo(p.Lat, dragPrecision)
	lng := geo.RoundTo(p.Lng, dragPrecision)
	c.publish(
		strconv.FormatFloat(lat, 'f', dragPrecision, 64),
		strconv.FormatFloat(lng, 'f', dragPrecision, 64),
	)
	c.m.PanTo(p)
}

// OnBoundsChanged biases the place search towards the visible area.
func (c *Controller) OnBoundsChanged(b core.Bounds) {
	if c.search != nil {
		c.search.SetBounds(b)
	}
}

// PlaceAt replaces any existing marker with a draggable one at p, publishes
// p to the form and pans the map to it.
func (c *Controller) PlaceAt(p core.GeoPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, mk := range c.markers {
		mk.Remove()
	}
	c.markers = c.markers[:0]

	c.publish(
		strconv.FormatFloat(p.Lat, 'f', -1, 64),
		strconv.FormatFloat(p.Lng, 'f', -1, 64),
	)

	mk, err := c.m.AddMarker(widget.MarkerOptions{
		Position:  p,
		Draggable: true,
		Icon:      GeocodeIcon,
		OnDragEnd: c.OnMarkerDragEnd,
	})
	if err != nil {
		return err
	}
	c.markers = append(c.markers, mk)

	c.m.PanTo(p)
	return nil
}

// Selected returns the current selection, false when nothing is selected.
func (c *Controller) Selected() (core.GeoPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.markers) == 0 {
		return core.GeoPoint{}, false
	}
	return c.markers[0].Position(), true
}

// Close removes the selection marker.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, mk := range c.markers {
		mk.Remove()
	}
	c.markers = nil
}

func (c *Controller) publish(lat, lng string) {
	c.logger.Debug("Updating form coordinates", "lat", lat, "lng", lng)
	c.form.SetValue(c.fields.Lat, lat)
	c.form.SetValue(c.fields.Lng, lng)
}
