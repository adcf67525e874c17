// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/OCAP2/mapview/pkg/core"
)

// ItemsInRadiusPath is the backend route queried for markers.
const ItemsInRadiusPath = "/api/get_items_in_radius"

var (
	// ErrUnexpectedStatus is returned for any non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrMalformedResponse is returned when the body is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed response")
)

// ItemsQuery holds the query parameters of /api/get_items_in_radius.
type ItemsQuery struct {
	Center core.GeoPoint
	Radius int // meters
}

// Encode serializes the query as lat=..&lng=..&radius=.. in that order.
func (q ItemsQuery) Encode() string {
	var b strings.Builder
	b.WriteString("lat=")
	b.WriteString(url.QueryEscape(strconv.FormatFloat(q.Center.Lat, 'f', -1, 64)))
	b.WriteString("&lng=")
	b.WriteString(url.QueryEscape(strconv.FormatFloat(q.Center.Lng, 'f', -1, 64)))
	b.WriteString("&radius=")
	b.WriteString(strconv.Itoa(q.Radius))
	return b.String()
}

// Client handles communication with the location-search backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client. A zero timeout disables the client timeout.
// Requests are instrumented with the global OTel providers.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ItemsInRadius fetches the items around q.Center. The decoded body is
// returned as-is; a response with success=false is not an error here.
func (c *Client) ItemsInRadius(ctx context.Context, q ItemsQuery) (*core.ItemsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ItemsInRadiusPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("items request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("items request returned status %d: %w", resp.StatusCode, ErrUnexpectedStatus)
	}

	var out core.ItemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}
