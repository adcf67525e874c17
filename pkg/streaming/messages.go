// Package streaming defines the JSON envelopes exchanged with the map page
// over the bridge websocket.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/mapview/pkg/core"
)

// Inbound message types, browser to server.
const (
	TypeIdle          = "idle"
	TypeClick         = "click"
	TypeDragEnd       = "dragend"
	TypePlacesChanged = "places_changed"
	TypeBoundsChanged = "bounds_changed"
)

// Outbound message types, server to browser.
const (
	TypeAddMarker       = "add_marker"
	TypeRemoveMarker    = "remove_marker"
	TypePanTo           = "pan_to"
	TypeSetField        = "set_field"
	TypeSetSearchBounds = "set_search_bounds"
	TypeError           = "error"
)

// Page names selected by the page query parameter.
const (
	PageMap         = "map"
	PageNewLocation = "new-location"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// IdlePayload reports the settled viewport.
type IdlePayload struct {
	Center core.GeoPoint `json:"center"`
	Zoom   int           `json:"zoom"`
	Bounds core.Bounds   `json:"bounds"`
}

// ClickPayload is a click on the map background.
type ClickPayload struct {
	Point core.GeoPoint `json:"point"`
}

// DragEndPayload reports where a draggable marker was dropped.
type DragEndPayload struct {
	MarkerID string        `json:"markerId"`
	Point    core.GeoPoint `json:"point"`
}

// PlacesChangedPayload carries the place search candidates.
type PlacesChangedPayload struct {
	Places []core.Place `json:"places"`
}

// BoundsPayload carries a lat/lng box. Used for both bounds_changed and
// set_search_bounds.
type BoundsPayload struct {
	Bounds core.Bounds `json:"bounds"`
}

// AddMarkerPayload asks the page to draw a marker.
type AddMarkerPayload struct {
	ID        string                     `json:"id"`
	Position  core.GeoPoint              `json:"position"`
	Draggable bool                       `json:"draggable,omitempty"`
	Icon      string                     `json:"icon,omitempty"`
	Profile   map[string]json.RawMessage `json:"profile,omitempty"`
}

// RemoveMarkerPayload asks the page to drop a marker.
type RemoveMarkerPayload struct {
	ID string `json:"id"`
}

// PanToPayload re-centers the map.
type PanToPayload struct {
	Point core.GeoPoint `json:"point"`
}

// SetFieldPayload writes a value into a form input.
type SetFieldPayload struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ErrorPayload reports a rejected inbound message.
type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}
