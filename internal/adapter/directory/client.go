// Package directory is the HTTP client for the agent directory API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clicko-app/agent-discovery/internal/domain"
)

// TokenSource supplies the bearer token for directory requests. An error
// means no session is active and the request goes out unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// Client implements domain.Directory over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient creates a directory client. baseURL includes the API prefix,
// e.g. "http://localhost:8000/api". tokens may be nil.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		logger: logger,
	}
}

// ListAgents runs one directory query. Errors wrap
// domain.ErrNetworkUnavailable or domain.ErrServiceError, or the context
// error when ctx ended first.
func (c *Client) ListAgents(ctx context.Context, q domain.DirectoryQuery) ([]domain.AgentCandidate, error) {
	path, params := buildQuery(q)

	var raw json.RawMessage
	if err := c.get(ctx, path, params, &raw); err != nil {
		return nil, err
	}

	agents, err := decodeAgents(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w: %w", q.Mode, domain.ErrServiceError, err)
	}

	candidates := make([]domain.AgentCandidate, 0, len(agents))
	for _, a := range agents {
		cand, ok := a.toCandidate()
		if !ok {
			c.logger.Warn("skipping directory entry without id", "mode", q.Mode)
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Agent fetches a single agent. A 404 maps to domain.ErrAgentNotFound.
func (c *Client) Agent(ctx context.Context, id string, location *domain.Coordinate) (domain.AgentCandidate, error) {
	params := url.Values{}
	if location != nil {
		setLocation(params, *location)
	}

	var a wireAgent
	if err := c.get(ctx, "/agents/"+url.PathEscape(id), params, &a); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.AgentCandidate{}, fmt.Errorf("agent %s: %w", id, domain.ErrAgentNotFound)
		}
		return domain.AgentCandidate{}, err
	}
	cand, ok := a.toCandidate()
	if !ok {
		return domain.AgentCandidate{}, fmt.Errorf("agent %s: %w: missing id", id, domain.ErrServiceError)
	}
	return cand, nil
}

func buildQuery(q domain.DirectoryQuery) (string, url.Values) {
	params := url.Values{}
	path := "/agents/"

	switch q.Mode {
	case domain.ModeSearch:
		path = "/agents/search"
		params.Set("query", q.Text)
	case domain.ModeCategory:
		params.Set("category_id", q.CategoryID)
	case domain.ModeNearby:
		path = "/agents/nearby"
	}

	if q.Location != nil {
		setLocation(params, *q.Location)
		if q.MaxDistance != nil {
			key := "max_distance"
			if q.Mode == domain.ModeNearby {
				key = "radius"
			}
			params.Set(key, formatFloat(*q.MaxDistance))
		}
	}
	if q.Mode == domain.ModeNearby && q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.OnlineOnly && q.Mode != domain.ModeNearby {
		params.Set("is_online", "true")
	}
	return path, params
}

func setLocation(params url.Values, c domain.Coordinate) {
	params.Set("latitude", formatFloat(c.Latitude))
	params.Set("longitude", formatFloat(c.Longitude))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("directory %s: %w", path, ctxErr)
		}
		return fmt.Errorf("directory %s: %w: %w", path, domain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory %s: %w", path, &StatusError{Code: resp.StatusCode, Body: string(body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("directory %s: %w", path, ctxErr)
		}
		return fmt.Errorf("directory %s: decode: %w: %w", path, domain.ErrServiceError, err)
	}
	return nil
}

// StatusError is a non-2xx directory response. It matches
// domain.ErrServiceError.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrServiceError }

// Wire types.

type wireAgent struct {
	ID           agentID  `json:"id"`
	Name         string   `json:"name"`
	Categories   []string `json:"categories"`
	AvgRating    *float64 `json:"avg_rating"`
	TotalRatings int      `json:"total_ratings"`
	RatePerKm    float64  `json:"rate_per_km"`
	IsOnline     bool     `json:"is_online"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	DistanceKm   *float64 `json:"distance_km"`
}

func (a wireAgent) toCandidate() (domain.AgentCandidate, bool) {
	if a.ID == "" {
		return domain.AgentCandidate{}, false
	}
	cand := domain.AgentCandidate{
		ID:                  string(a.ID),
		Name:                a.Name,
		Categories:          a.Categories,
		RatingCount:         a.TotalRatings,
		RatePerDistanceUnit: a.RatePerKm,
		IsOnline:            a.IsOnline,
	}
	if a.DistanceKm != nil && *a.DistanceKm >= 0 && !math.IsNaN(*a.DistanceKm) && !math.IsInf(*a.DistanceKm, 0) {
		d := *a.DistanceKm
		cand.ReportedDistance = &d
	}
	if cand.Categories == nil {
		cand.Categories = []string{}
	}
	if a.AvgRating != nil {
		cand.RatingAvg = *a.AvgRating
	}
	if a.Latitude != nil && a.Longitude != nil {
		coord := domain.Coordinate{Latitude: *a.Latitude, Longitude: *a.Longitude}
		if coord.Validate() == nil {
			cand.Coordinates = &coord
		}
	}
	return cand, true
}

// agentID accepts a JSON number or string.
type agentID string

func (id *agentID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = agentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("agent id: %w", err)
	}
	*id = agentID(n.String())
	return nil
}

// decodeAgents accepts a bare array or an {"agents": [...]} envelope.
func decodeAgents(raw json.RawMessage) ([]wireAgent, error) {
	var list []wireAgent
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var envelope struct {
		Agents *[]wireAgent `json:"agents"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Agents == nil {
		return nil, errors.New(`response is neither a list nor an "agents" envelope`)
	}
	return *envelope.Agents, nil
}
