// pkg/core/location.go
package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingLocation is returned when an item payload carries no location.
var ErrMissingLocation = errors.New("item has no location")

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// QueryState holds the viewport parameters markers were last fetched for.
type QueryState struct {
	Center GeoPoint `json:"center"`
	Zoom   int      `json:"zoom"`
}

// Item is a record returned by the location-search backend. Everything other
// than the location is kept verbatim in Profile for display collaborators.
type Item struct {
	Location GeoPoint
	Profile  map[string]json.RawMessage

	// locErr is set when the decoded payload had no usable location.
	locErr error
}

// UnmarshalJSON splits the payload into the location and the opaque profile.
// A missing, null or malformed location does not fail the decode and is
// reported by LocationErr instead.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Item{Profile: raw}

	loc, ok := raw["location"]
	if !ok {
		i.locErr = ErrMissingLocation
		return nil
	}
	var p struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(loc, &p); err != nil {
		i.locErr = fmt.Errorf("decode item location: %w", err)
		return nil
	}
	// null and {} both leave the pointers unset
	if p.Lat == nil || p.Lng == nil {
		i.locErr = ErrMissingLocation
		return nil
	}
	i.Location = GeoPoint{Lat: *p.Lat, Lng: *p.Lng}
	delete(raw, "location")
	return nil
}

// LocationErr returns ErrMissingLocation or a decode error when the item was
// decoded without a usable location, nil otherwise.
func (i Item) LocationErr() error {
	return i.locErr
}

// MarshalJSON re-assembles the item into the shape the backend sent.
func (i Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.Profile)+1)
	for k, v := range i.Profile {
		out[k] = v
	}
	if i.locErr == nil {
		loc, err := json.Marshal(i.Location)
		if err != nil {
			return nil, err
		}
		out["location"] = loc
	}
	return json.Marshal(out)
}

// Field decodes the named profile field into v.
// Returns false if the field is absent or does not decode into v.
func (i Item) Field(name string, v any) bool {
	raw, ok := i.Profile[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// StringField returns a string profile field.
func (i Item) StringField(name string) (string, bool) {
	var s string
	ok := i.Field(name, &s)
	return s, ok
}

// ItemsResponse is the body of /api/get_items_in_radius.
type ItemsResponse struct {
	Success bool   `json:"success"`
	Results []Item `json:"results"`
}

// Bounds is the rectangle of the map currently in view.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Place is a place-search candidate. Geometry is nil when the search service
// returned no location for it.
type Place struct {
	Name     string    `json:"name,omitempty"`
	Geometry *GeoPoint `json:"geometry,omitempty"`
}
