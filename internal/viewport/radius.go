package viewport

import (
	"errors"
	"fmt"

	"github.com/OCAP2/mapview/internal/geo"
	"github.com/OCAP2/mapview/pkg/core"
)

// DefaultRequeryDistance is the center shift in meters above which the
// viewport is queried again.
const DefaultRequeryDistance = 100.0

// ErrInvalidZoom is returned for zoom levels outside RadiusTable.
var ErrInvalidZoom = errors.New("zoom level outside radius table")

// RadiusTable maps zoom level to the search radius in meters.
var RadiusTable = [20]int{
	800000, // 0
	800000, // 1
	800000, // 2
	800000, // 3
	800000, // 4
	800000, // 5
	800000, // 6
	400000, // 7
	200000, // 8
	100000, // 9
	51000,  // 10
	26000,  // 11
	13000,  // 12
	6500,   // 13
	3500,   // 14
	1800,   // 15
	900,    // 16
	430,    // 17
	210,    // 18
	120,    // 19
}

// RadiusForZoom returns the search radius for zoom.
func RadiusForZoom(zoom int) (int, error) {
	if zoom < 0 || zoom >= len(RadiusTable) {
		return 0, fmt.Errorf("zoom %d: %w", zoom, ErrInvalidZoom)
	}
	return RadiusTable[zoom], nil
}

// NeedsRefresh reports whether a viewport settled at center/zoom must be
// queried again given the previous query state. Zooming in near the previous
// center keeps the old result set; a pan beyond threshold meters or any zoom
// out does not.
func NeedsRefresh(prev *core.QueryState, center core.GeoPoint, zoom int, threshold float64) bool {
	if prev == nil {
		return true
	}
	if geo.Distance(prev.Center, center) > threshold {
		return true
	}
	return zoom < prev.Zoom
}
