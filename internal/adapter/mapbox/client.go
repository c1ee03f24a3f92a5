// Package mapbox implements domain.Geocoder on the Mapbox Geocoding v5 API.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// ForwardGeocode searches places matching query, best match first.
func (c *Client) ForwardGeocode(ctx context.Context, query string, limit int) ([]domain.GeocodingResult, error) {
	if limit <= 0 {
		limit = 1
	}
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {strconv.Itoa(limit)},
		"types":        {"address,poi,neighborhood,locality,place"},
		"autocomplete": {"true"},
	}

	features, err := c.doRequest(ctx, u+"?"+params.Encode(), "forward")
	if err != nil {
		return nil, err
	}
	results := make([]domain.GeocodingResult, 0, len(features))
	for _, f := range features {
		results = append(results, f.toResult())
	}
	return results, nil
}

// ReverseGeocode converts a coordinate to place details. An empty result
// means Mapbox knows nothing about the point.
func (c *Client) ReverseGeocode(ctx context.Context, coord domain.Coordinate) (domain.GeocodingResult, error) {
	// Mapbox uses lon,lat order.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, coord.Longitude, coord.Latitude)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}

	features, err := c.doRequest(ctx, u+"?"+params.Encode(), "reverse")
	if err != nil {
		return domain.GeocodingResult{}, err
	}
	if len(features) == 0 {
		return domain.GeocodingResult{}, nil
	}
	result := features[0].toResult()
	result.Coordinate = coord
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL, method string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%s geocode request: %w: %w", method, domain.ErrGeocodingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mapbox API error: status %d: %s: %w", resp.StatusCode, body, domain.ErrGeocodingFailed)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("decode response: %w: %w", domain.ErrGeocodingFailed, err)
	}

	if len(mapboxResp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
		c.logger.Debug("mapbox returned no features", "method", method)
		return nil, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()
	return mapboxResp.Features, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string           `json:"id"`
	PlaceType []string         `json:"place_type"`
	Center    []float64        `json:"center"` // [lon, lat]
	PlaceName string           `json:"place_name"`
	Text      string           `json:"text"`
	Address   string           `json:"address"`
	Relevance float64          `json:"relevance"`
	Context   []featureContext `json:"context"`
}

type featureContext struct {
	ID   string `json:"id"` // e.g. "place.123", "region.456"
	Text string `json:"text"`
}

// toResult maps a feature and its context hierarchy onto a GeocodingResult.
func (f feature) toResult() domain.GeocodingResult {
	r := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		Name:             f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		r.Coordinate = domain.Coordinate{Latitude: f.Center[1], Longitude: f.Center[0]}
	}

	// The feature itself is one level of the hierarchy.
	levels := append([]featureContext{{ID: f.ID, Text: f.Text}}, f.Context...)
	for _, lvl := range levels {
		switch kind, _, _ := strings.Cut(lvl.ID, "."); kind {
		case "address":
			if r.Street == "" {
				r.Street = strings.TrimSpace(f.Address + " " + lvl.Text)
			}
		case "neighborhood", "locality":
			if r.District == "" {
				r.District = lvl.Text
			}
		case "place":
			if r.City == "" {
				r.City = lvl.Text
			}
		case "region":
			if r.Region == "" {
				r.Region = lvl.Text
			}
		case "country":
			if r.Country == "" {
				r.Country = lvl.Text
			}
		}
	}
	return r
}
