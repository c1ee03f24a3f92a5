// Package discover serves agent discovery, single-agent lookups, and search
// suggestions.
package discover

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/discovery"
	"github.com/clicko-app/agent-discovery/internal/domain"
)

// AgentLookup fetches a single agent.
type AgentLookup interface {
	Agent(ctx context.Context, id string, location *domain.Coordinate) (domain.AgentCandidate, error)
}

// LocationReader reports the latest known location.
type LocationReader interface {
	Latest(ctx context.Context) (domain.ResolvedLocation, bool)
}

type Handler struct {
	resolver  discovery.Resolver
	agents    AgentLookup
	locations LocationReader
	retry     discovery.RetryPolicy
	clock     clockwork.Clock
}

// NewHandler creates the discovery handler. retry applies to requests that
// ask for it with retry=true.
func NewHandler(resolver discovery.Resolver, agents AgentLookup, locations LocationReader, retry discovery.RetryPolicy, clock clockwork.Clock) *Handler {
	return &Handler{
		resolver:  resolver,
		agents:    agents,
		locations: locations,
		retry:     retry,
		clock:     clock,
	}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/discover", h.discover)
	rg.GET("/agents/:id", h.getAgent)
	rg.GET("/suggestions", suggestions)
}

func (h *Handler) discover(c *gin.Context) {
	req, policy, err := h.parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := discovery.ResolveWithRetry(c.Request.Context(), h.resolver, req, policy, h.clock)
	switch {
	case err == nil:
		if res.Candidates == nil {
			res.Candidates = []domain.RankedCandidate{}
		}
		c.JSON(http.StatusOK, res)
	case errors.Is(err, discovery.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) parseRequest(c *gin.Context) (domain.DiscoveryRequest, discovery.RetryPolicy, error) {
	req := domain.DiscoveryRequest{Scope: c.Query("scope")}

	if v := strings.TrimSpace(c.Query("category_id")); v != "" {
		req.CategoryID = &v
	}
	if v := strings.TrimSpace(c.Query("q")); v != "" {
		req.FreeText = &v
	}
	if v := c.Query("max_distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
			return req, discovery.NoRetry, errors.New("invalid max_distance")
		}
		req.MaxDistance = &d
	}

	var err error
	if req.RequireOnline, err = queryBool(c, "online"); err != nil {
		return req, discovery.NoRetry, err
	}
	if req.Background, err = queryBool(c, "background"); err != nil {
		return req, discovery.NoRetry, err
	}
	retry, err := queryBool(c, "retry")
	if err != nil {
		return req, discovery.NoRetry, err
	}

	policy := discovery.NoRetry
	if retry {
		policy = h.retry
	}
	return req, policy, nil
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid " + key)
	}
	return b, nil
}

// getAgent returns one agent annotated with its distance from the latest
// known location.
func (h *Handler) getAgent(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var reference *domain.Coordinate
	if loc, ok := h.locations.Latest(c.Request.Context()); ok {
		reference = &loc.Coordinates
	}

	a, err := h.agents.Agent(c.Request.Context(), id, reference)
	if err != nil {
		if errors.Is(err, domain.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	ranked := domain.Rank([]domain.AgentCandidate{a}, reference, domain.RankOptions{})
	c.JSON(http.StatusOK, ranked[0])
}

func suggestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"suggestions": discovery.Suggestions(c.Query("q"))})
}
