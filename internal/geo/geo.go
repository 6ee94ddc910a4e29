// Package geo resolves free-text locations ("the gas station by the old
// bridge") to coordinates so dispatched cases carry a dispatchable position.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Geocoder resolves a location description to coordinates.
type Geocoder interface {
	// Geocode returns the best-match coordinates for the given location
	// text. ok is false when the service found no match; err is reserved
	// for transport and API failures.
	Geocode(ctx context.Context, location string) (lat, lng float64, ok bool, err error)
}

const defaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleGeocoder resolves locations through the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

var _ Geocoder = (*GoogleGeocoder)(nil)

// Option is a functional option for GoogleGeocoder.
type Option func(*GoogleGeocoder)

// WithEndpoint overrides the API endpoint. Primarily used in tests.
func WithEndpoint(endpoint string) Option {
	return func(g *GoogleGeocoder) {
		g.endpoint = endpoint
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *GoogleGeocoder) {
		g.client = c
	}
}

// NewGoogle creates a geocoder backed by the Google Geocoding API.
func NewGoogle(apiKey string, opts ...Option) *GoogleGeocoder {
	g := &GoogleGeocoder{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// geocodeResponse is the subset of the API response the bridge needs.
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode implements Geocoder.
func (g *GoogleGeocoder) Geocode(ctx context.Context, location string) (float64, float64, bool, error) {
	if location == "" {
		return 0, 0, false, nil
	}

	q := url.Values{}
	q.Set("address", location)
	q.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("geo: build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, 0, false, fmt.Errorf("geo: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, false, fmt.Errorf("geo: geocode failed: status %d", resp.StatusCode)
	}

	var parsed geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, false, fmt.Errorf("geo: decode response: %w", err)
	}
	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		return 0, 0, false, nil
	}
	loc := parsed.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, true, nil
}
