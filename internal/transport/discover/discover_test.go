package discover_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clicko-app/agent-discovery/internal/discovery"
	"github.com/clicko-app/agent-discovery/internal/domain"
	transportdiscover "github.com/clicko-app/agent-discovery/internal/transport/discover"
)

func init() { gin.SetMode(gin.TestMode) }

var delhi = domain.Coordinate{Latitude: 28.7041, Longitude: 77.1025}

type fakeResolver struct {
	mu       sync.Mutex
	requests []domain.DiscoveryRequest
	results  []domain.Result
	err      error
}

func (f *fakeResolver) Resolve(_ context.Context, req domain.DiscoveryRequest) (domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Result{}, f.err
	}
	i := min(len(f.requests)-1, len(f.results)-1)
	return f.results[i], nil
}

type fakeAgents struct {
	got      string
	location *domain.Coordinate
	agent    domain.AgentCandidate
	err      error
}

func (f *fakeAgents) Agent(_ context.Context, id string, location *domain.Coordinate) (domain.AgentCandidate, error) {
	f.got = id
	f.location = location
	return f.agent, f.err
}

type fakeLocations struct {
	loc *domain.ResolvedLocation
}

func (f fakeLocations) Latest(context.Context) (domain.ResolvedLocation, bool) {
	if f.loc == nil {
		return domain.ResolvedLocation{}, false
	}
	return *f.loc, true
}

func newRouter(h *transportdiscover.Handler) *gin.Engine {
	r := gin.New()
	h.Register(r.Group("/api"))
	return r
}

func get(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func readyResult() domain.Result {
	d := 1.6
	return domain.Result{
		RequestID: 3,
		Status:    domain.StatusReady,
		Mode:      domain.ModeSearch,
		Candidates: []domain.RankedCandidate{
			{AgentCandidate: domain.AgentCandidate{ID: "7", Name: "Ravi", Categories: []string{}}, Distance: &d},
		},
		Permission: domain.PermissionGranted,
	}
}

func TestDiscover_ParsesQuery(t *testing.T) {
	res := &fakeResolver{results: []domain.Result{readyResult()}}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover?scope=home&category_id=3&q=plumb&max_distance=5&online=true&background=1")
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, res.requests, 1)
	req := res.requests[0]
	assert.Equal(t, "home", req.Scope)
	assert.Equal(t, "3", req.Category())
	assert.Equal(t, "plumb", req.SearchText())
	require.NotNil(t, req.MaxDistance)
	assert.InDelta(t, 5.0, *req.MaxDistance, 1e-9)
	assert.True(t, req.RequireOnline)
	assert.True(t, req.Background)

	var body domain.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.StatusReady, body.Status)
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, "7", body.Candidates[0].ID)
}

func TestDiscover_EmptyQuery(t *testing.T) {
	res := &fakeResolver{results: []domain.Result{{Status: domain.StatusReady, Mode: domain.ModeBrowse}}}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, res.requests[0].CategoryID)
	assert.Nil(t, res.requests[0].FreeText)
	assert.Contains(t, w.Body.String(), `"candidates":[]`)
	assert.Contains(t, w.Body.String(), `"location":null`)
}

func TestDiscover_InvalidInput(t *testing.T) {
	for _, target := range []string{
		"/api/discover?max_distance=abc",
		"/api/discover?max_distance=-1",
		"/api/discover?max_distance=0",
		"/api/discover?online=maybe",
		"/api/discover?background=nope",
		"/api/discover?retry=often",
	} {
		t.Run(target, func(t *testing.T) {
			res := &fakeResolver{results: []domain.Result{readyResult()}}
			r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

			w := get(t, r, target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, res.requests)
		})
	}
}

func TestDiscover_Superseded(t *testing.T) {
	res := &fakeResolver{err: discovery.ErrSuperseded}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDiscover_DegradedIsNotAnError(t *testing.T) {
	degraded := readyResult()
	degraded.Status = domain.StatusDegraded
	res := &fakeResolver{results: []domain.Result{degraded}}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Len(t, res.requests, 1, "no retry without retry=true")
}

func TestDiscover_RetryUsesPolicy(t *testing.T) {
	degraded := readyResult()
	degraded.Status = domain.StatusDegraded
	res := &fakeResolver{results: []domain.Result{degraded, readyResult()}}
	policy := discovery.RetryPolicy{Attempts: 3}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, policy, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover?retry=true")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)
	assert.Len(t, res.requests, 2)
}

func TestDiscover_InternalError(t *testing.T) {
	res := &fakeResolver{err: errors.New("boom")}
	r := newRouter(transportdiscover.NewHandler(res, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/discover")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetAgent_WithDistance(t *testing.T) {
	agents := &fakeAgents{agent: domain.AgentCandidate{
		ID: "7", Name: "Ravi", Categories: []string{"Electrician"},
		Coordinates: &domain.Coordinate{Latitude: 28.7039, Longitude: 77.1190},
	}}
	loc := &domain.ResolvedLocation{Coordinates: delhi, Source: domain.SourceManual, CapturedAt: time.Now()}
	r := newRouter(transportdiscover.NewHandler(&fakeResolver{}, agents, fakeLocations{loc: loc}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/agents/7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", agents.got)
	require.NotNil(t, agents.location)
	assert.Equal(t, delhi, *agents.location)

	var body domain.RankedCandidate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Ravi", body.Name)
	require.NotNil(t, body.Distance)
	assert.InDelta(t, 1.61, *body.Distance, 0.05)
}

func TestGetAgent_WithoutLocation(t *testing.T) {
	agents := &fakeAgents{agent: domain.AgentCandidate{ID: "7", Name: "Ravi"}}
	r := newRouter(transportdiscover.NewHandler(&fakeResolver{}, agents, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/agents/7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, agents.location)
	assert.Contains(t, w.Body.String(), `"distance_km":null`)
}

func TestGetAgent_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", domain.ErrAgentNotFound, http.StatusNotFound},
		{"directory down", domain.ErrNetworkUnavailable, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agents := &fakeAgents{err: tt.err}
			r := newRouter(transportdiscover.NewHandler(&fakeResolver{}, agents, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

			w := get(t, r, "/api/agents/99")
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestSuggestions(t *testing.T) {
	r := newRouter(transportdiscover.NewHandler(&fakeResolver{}, &fakeAgents{}, fakeLocations{}, discovery.NoRetry, clockwork.NewFakeClock()))

	w := get(t, r, "/api/suggestions?q=plumb")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"Plumber"}, body.Suggestions)
}
