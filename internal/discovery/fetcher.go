// Package discovery turns a discovery request into a ranked candidate list:
// it picks the directory query, substitutes the fallback roster when the
// directory fails, and coordinates locate, fetch and rank per screen.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/observability"
)

const (
	DefaultNearbyRadiusKm = 10.0
	DefaultNearbyLimit    = 20
)

// FetchResult is the fetcher's outcome. Degraded results carry the fallback
// roster and the directory error in Cause.
type FetchResult struct {
	Candidates []domain.AgentCandidate
	Mode       domain.QueryMode
	Degraded   bool
	Cause      error
}

// Fetcher queries the agent directory. It makes one attempt per call.
type Fetcher struct {
	directory      domain.Directory
	nearbyRadiusKm float64
	nearbyLimit    int
	clock          clockwork.Clock
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewFetcher creates a Fetcher. Non-positive nearby settings use the defaults.
func NewFetcher(directory domain.Directory, nearbyRadiusKm float64, nearbyLimit int, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	if nearbyRadiusKm <= 0 {
		nearbyRadiusKm = DefaultNearbyRadiusKm
	}
	if nearbyLimit <= 0 {
		nearbyLimit = DefaultNearbyLimit
	}
	return &Fetcher{
		directory:      directory,
		nearbyRadiusKm: nearbyRadiusKm,
		nearbyLimit:    nearbyLimit,
		clock:          clock,
		metrics:        metrics,
		logger:         logger,
	}
}

// SelectMode picks the directory query for req. Free text wins over a
// category; with neither, a known location means a nearby query.
func SelectMode(req domain.DiscoveryRequest, hasLocation bool) domain.QueryMode {
	switch {
	case req.SearchText() != "":
		return domain.ModeSearch
	case req.Category() != "":
		return domain.ModeCategory
	case hasLocation:
		return domain.ModeNearby
	default:
		return domain.ModeBrowse
	}
}

// Query builds the directory query for req at location.
func (f *Fetcher) Query(req domain.DiscoveryRequest, location *domain.Coordinate) domain.DirectoryQuery {
	q := domain.DirectoryQuery{
		Mode:        SelectMode(req, location != nil),
		Location:    location,
		MaxDistance: req.MaxDistance,
		OnlineOnly:  req.RequireOnline,
	}
	switch q.Mode {
	case domain.ModeSearch:
		q.Text = req.SearchText()
	case domain.ModeCategory:
		q.CategoryID = req.Category()
	case domain.ModeNearby:
		radius := f.nearbyRadiusKm
		if req.MaxDistance != nil && *req.MaxDistance > 0 {
			radius = *req.MaxDistance
		}
		q.MaxDistance = &radius
		q.Limit = f.nearbyLimit
	}
	return q
}

// Fetch runs the directory query for req. Directory failures yield the
// fallback roster with Degraded set; only a done ctx returns an error.
func (f *Fetcher) Fetch(ctx context.Context, req domain.DiscoveryRequest, location *domain.Coordinate) (FetchResult, error) {
	q := f.Query(req, location)
	mode := string(q.Mode)

	start := f.clock.Now()
	candidates, err := f.directory.ListAgents(ctx, q)
	f.metrics.DirectoryDuration.WithLabelValues(mode).Observe(f.clock.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			f.metrics.DirectoryRequests.WithLabelValues(mode, "cancelled").Inc()
			return FetchResult{Mode: q.Mode}, fmt.Errorf("fetch %s: %w", mode, ctxErr)
		}

		f.metrics.DirectoryRequests.WithLabelValues(mode, "error").Inc()
		f.metrics.FallbackServed.Inc()
		f.logger.Warn("directory unavailable, serving fallback roster",
			"error", err,
			"mode", mode,
		)
		return FetchResult{
			Candidates: FallbackRoster(q.Text),
			Mode:       q.Mode,
			Degraded:   true,
			Cause:      err,
		}, nil
	}

	f.metrics.DirectoryRequests.WithLabelValues(mode, "success").Inc()
	f.logger.Debug("directory fetch complete", "mode", mode, "candidates", len(candidates))
	return FetchResult{Candidates: candidates, Mode: q.Mode}, nil
}

// Agent looks up one agent. Errors are returned as is; there is no fallback
// for a single agent.
func (f *Fetcher) Agent(ctx context.Context, id string, location *domain.Coordinate) (domain.AgentCandidate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.AgentCandidate{}, fmt.Errorf("agent id is required: %w", domain.ErrAgentNotFound)
	}
	return f.directory.Agent(ctx, id, location)
}

// fallbackAgents are clearly synthetic entries shown when the directory is
// unreachable.
var fallbackAgents = []domain.AgentCandidate{
	{
		ID:                  "fallback-1",
		Name:                "Rajesh Kumar",
		Categories:          []string{"Electrician", "AC Repair"},
		RatingAvg:           4.8,
		RatingCount:         156,
		RatePerDistanceUnit: 20,
		IsOnline:            true,
	},
	{
		ID:                  "fallback-2",
		Name:                "Priya Sharma",
		Categories:          []string{"Cleaning", "Home Service"},
		RatingAvg:           4.6,
		RatingCount:         89,
		RatePerDistanceUnit: 18,
		IsOnline:            true,
	},
	{
		ID:                  "fallback-3",
		Name:                "Amit Singh",
		Categories:          []string{"Plumber", "Carpenter"},
		RatingAvg:           4.9,
		RatingCount:         234,
		RatePerDistanceUnit: 22,
		IsOnline:            false,
	},
}

// FallbackRoster returns the synthetic roster, narrowed to entries whose name
// or category contains text when any match. It is never empty.
func FallbackRoster(text string) []domain.AgentCandidate {
	roster := make([]domain.AgentCandidate, 0, len(fallbackAgents))
	for i, a := range fallbackAgents {
		n := float64(i + 1)
		a.Categories = slices.Clone(a.Categories)
		a.Coordinates = &domain.Coordinate{
			Latitude:  28.7041 + n*0.001,
			Longitude: 77.1025 + n*0.001,
		}
		a.Synthetic = true
		roster = append(roster, a)
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return roster
	}
	matched := slices.DeleteFunc(slices.Clone(roster), func(a domain.AgentCandidate) bool {
		return !matchesText(a, needle)
	})
	if len(matched) == 0 {
		return roster
	}
	return matched
}

func matchesText(a domain.AgentCandidate, needle string) bool {
	if strings.Contains(strings.ToLower(a.Name), needle) {
		return true
	}
	return slices.ContainsFunc(a.Categories, func(c string) bool {
		return strings.Contains(strings.ToLower(c), needle)
	})
}
