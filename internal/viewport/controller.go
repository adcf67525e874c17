// Package viewport refreshes the markers of a map whenever its viewport
// settles far enough from where the markers were last fetched.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/mapview/internal/api"
	"github.com/OCAP2/mapview/internal/widget"
	"github.com/OCAP2/mapview/pkg/core"
)

const instrumentationName = "github.com/OCAP2/mapview/internal/viewport"

// ErrClosed is returned by Refresh after Close.
var ErrClosed = errors.New("viewport controller closed")

// ItemSource fetches the items around a point.
type ItemSource interface {
	ItemsInRadius(ctx context.Context, q api.ItemsQuery) (*core.ItemsResponse, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithRequeryDistance sets the center shift in meters that triggers a refresh.
func WithRequeryDistance(meters float64) Option {
	return func(c *Controller) {
		c.threshold = meters
	}
}

// Controller owns the markers of one map and the state they were queried for.
type Controller struct {
	m         widget.Map
	source    ItemSource
	logger    *slog.Logger
	threshold float64

	mu      sync.Mutex
	state   *core.QueryState
	markers []widget.Marker
	seq     uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshed metric.Int64Counter
	stale     metric.Int64Counter
	failed    metric.Int64Counter
}

// New creates a controller for m. The widget's zoom range must lie inside
// RadiusTable.
func New(m widget.Map, source ItemSource, logger *slog.Logger, opts ...Option) (*Controller, error) {
	minZoom, maxZoom := m.ZoomRange()
	if _, err := RadiusForZoom(minZoom); err != nil {
		return nil, fmt.Errorf("map min zoom: %w", err)
	}
	if _, err := RadiusForZoom(maxZoom); err != nil {
		return nil, fmt.Errorf("map max zoom: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		m:         m,
		source:    source,
		logger:    logger,
		threshold: DefaultRequeryDistance,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	meter := otel.Meter(instrumentationName)
	var err error
	c.refreshed, err = meter.Int64Counter(
		"viewport.refresh.count",
		metric.WithDescription("Marker refreshes issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh counter: %w", err)
	}
	c.stale, err = meter.Int64Counter(
		"viewport.refresh.stale",
		metric.WithDescription("Responses discarded because a newer refresh was issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stale counter: %w", err)
	}
	c.failed, err = meter.Int64Counter(
		"viewport.refresh.failed",
		metric.WithDescription("Refreshes that produced no markers because of an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return c, nil
}

// OnViewportSettled is called once the map is idle after a pan or zoom.
func (c *Controller) OnViewportSettled(center core.GeoPoint, zoom int) {
	c.mu.Lock()
	need := NeedsRefresh(c.state, center, zoom, c.threshold)
	c.mu.Unlock()

	c.logger.Debug("Viewport settled", "lat", center.Lat, "lng", center.Lng, "zoom", zoom, "refresh", need)
	if !need {
		return
	}
	if err := c.Refresh(center, zoom); err != nil {
		c.logger.Error("Marker refresh failed", "zoom", zoom, "error", err)
	}
}

// Sync treats the widget's current view as settled.
func (c *Controller) Sync() {
	c.OnViewportSettled(c.m.Center(), c.m.Zoom())
}

// Refresh records center/zoom as the new query state, clears the markers and
// fetches the items for the zoom's radius. The fetch runs in the background;
// only the response to the latest refresh is rendered.
func (c *Controller) Refresh(center core.GeoPoint, zoom int) error {
	radius, err := RadiusForZoom(zoom)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = &core.QueryState{Center: center, Zoom: zoom}
	c.clearLocked()
	c.seq++
	seq := c.seq
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Refreshing markers", "lat", center.Lat, "lng", center.Lng, "zoom", zoom, "radius", radius, "seq", seq)
	c.refreshed.Add(c.ctx, 1)

	go c.fetch(seq, api.ItemsQuery{Center: center, Radius: radius})
	return nil
}

func (c *Controller) fetch(seq uint64, q api.ItemsQuery) {
	defer c.wg.Done()

	resp, err := c.source.ItemsInRadius(c.ctx, q)
	if errors.Is(err, context.Canceled) {
		c.logger.Debug("Items request cancelled", "seq", seq)
		return
	}
	if err != nil {
		c.logger.Warn("Items request failed", "seq", seq, "error", err)
		c.failed.Add(c.ctx, 1, metric.WithAttributes(attribute.String("reason", "transport")))
		return
	}
	if !resp.Success {
		c.logger.Warn("Backend reported failure searching items", "seq", seq)
		c.failed.Add(c.ctx, 1, metric.WithAttributes(attribute.String("reason", "backend")))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.seq {
		c.logger.Debug("Discarding stale items response", "seq", seq, "latest", c.seq)
		c.stale.Add(c.ctx, 1)
		return
	}

	c.clearLocked()
	markers := make([]widget.Marker, 0, len(resp.Results))
	for _, item := range resp.Results {
		if err := item.LocationErr(); err != nil {
			c.logger.Warn("Skipping item without location", "seq", seq, "error", err)
			continue
		}
		mk, err := c.m.AddMarker(widget.MarkerOptions{
			Position: item.Location,
			Metadata: item,
		})
		if err != nil {
			c.logger.Warn("Failed to add marker", "lat", item.Location.Lat, "lng", item.Location.Lng, "error", err)
			continue
		}
		markers = append(markers, mk)
	}
	c.markers = markers
	c.logger.Debug("Markers placed", "seq", seq, "count", len(markers))
}

// clearLocked removes every marker from the map and empties the set.
func (c *Controller) clearLocked() {
	for _, mk := range c.markers {
		mk.Remove()
	}
	c.markers = nil
}

// State returns a copy of the query state, nil before the first refresh.
func (c *Controller) State() *core.QueryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	s := *c.state
	return &s
}

// Markers returns the markers currently rendered by the controller.
func (c *Controller) Markers() []widget.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]widget.Marker, len(c.markers))
	copy(out, c.markers)
	return out
}

// Wait blocks until every in-flight fetch has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight fetches and removes all markers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.clearLocked()
	c.mu.Unlock()

	c.wg.Wait()
}
