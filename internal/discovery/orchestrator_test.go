package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/observability"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLocator struct {
	mu         sync.Mutex
	latest     *domain.ResolvedLocation
	permission domain.Permission
	capture    func(ctx context.Context) (domain.ResolvedLocation, error)
	captures   int
	timeouts   []time.Duration
}

func (l *fakeLocator) Permission() domain.Permission {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.permission == "" {
		return domain.PermissionUnknown
	}
	return l.permission
}

func (l *fakeLocator) Latest(context.Context) (domain.ResolvedLocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return domain.ResolvedLocation{}, false
	}
	return *l.latest, true
}

func (l *fakeLocator) CaptureDeviceLocation(ctx context.Context, timeout time.Duration) (domain.ResolvedLocation, error) {
	l.mu.Lock()
	l.captures++
	l.timeouts = append(l.timeouts, timeout)
	capture := l.capture
	l.mu.Unlock()

	if capture == nil {
		return domain.ResolvedLocation{}, domain.ErrLocationTimeout
	}
	loc, err := capture(ctx)
	if err == nil {
		l.mu.Lock()
		l.latest = &loc
		l.mu.Unlock()
	}
	return loc, err
}

func (l *fakeLocator) captureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.captures
}

func located(c domain.Coordinate, source domain.LocationSource, at time.Time) *domain.ResolvedLocation {
	return &domain.ResolvedLocation{
		Coordinates: c,
		Place:       domain.FallbackPlace(),
		Source:      source,
		CapturedAt:  at,
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	phases []domain.Phase
}

func (r *recordingObserver) OnPhase(_ string, _ uint64, p domain.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *recordingObserver) seen() []domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Phase(nil), r.phases...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.DiscoveryEvent
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e domain.DiscoveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

type orchestratorFixture struct {
	orch     *Orchestrator
	locator  *fakeLocator
	dir      *fakeDirectory
	clock    *clockwork.FakeClock
	metrics  *observability.Metrics
	observer *recordingObserver
	sink     *recordingSink
}

func newFixture(locator *fakeLocator, dir *fakeDirectory) orchestratorFixture {
	clock := clockwork.NewFakeClockAt(epoch)
	m := observability.NewMetricsForTesting()
	obs := &recordingObserver{}
	sink := &recordingSink{}
	fetcher := NewFetcher(dir, 0, 0, clock, m, discardLogger())
	orch := NewOrchestrator(locator, fetcher, clock, m, discardLogger(),
		WithLocationTimeout(8*time.Second),
		WithLocationMaxAge(10*time.Minute),
		WithPhaseObserver(obs),
		WithEventSink(sink),
	)
	return orchestratorFixture{orch, locator, dir, clock, m, obs, sink}
}

// Two agents east of Delhi: the nearer one has the lower rating.
func nearbyAgents() []domain.AgentCandidate {
	return []domain.AgentCandidate{
		agent("far", 4.8, true, &domain.Coordinate{Latitude: 28.7139, Longitude: 77.2090}),
		agent("near", 4.5, true, &domain.Coordinate{Latitude: 28.7039, Longitude: 77.1190}),
	}
}

func resultIDs(r domain.Result) []string {
	out := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		out[i] = c.ID
	}
	return out
}

func TestResolve_FreshLocationSkipsLocating(t *testing.T) {
	locator := &fakeLocator{latest: located(delhi, domain.SourceDevice, epoch.Add(-time.Minute))}
	f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReady, res.Status)
	assert.Equal(t, domain.ModeNearby, res.Mode)
	assert.Equal(t, []string{"near", "far"}, resultIDs(res))
	require.NotNil(t, res.Location)
	assert.Equal(t, delhi, res.Location.Coordinates)
	assert.Zero(t, locator.captureCount())
	assert.Equal(t, []domain.Phase{domain.PhaseIdle, domain.PhaseFetching, domain.PhaseRanking, domain.PhaseReady}, f.observer.seen())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LocationOutcomes.WithLabelValues("device")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ResolveTotal.WithLabelValues("ready")), 0)
}

func TestResolve_StaleLocationTakesFix(t *testing.T) {
	fresh := domain.Coordinate{Latitude: 28.7139, Longitude: 77.2090}
	locator := &fakeLocator{
		latest: located(delhi, domain.SourceSaved, epoch.Add(-time.Hour)),
		capture: func(context.Context) (domain.ResolvedLocation, error) {
			return *located(fresh, domain.SourceDevice, epoch), nil
		},
	}
	f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, locator.captureCount())
	assert.Equal(t, []time.Duration{8 * time.Second}, locator.timeouts)
	assert.Equal(t, fresh, res.Location.Coordinates)
	assert.Equal(t, []string{"far", "near"}, resultIDs(res), "ranked from the new fix")
	assert.Equal(t, []domain.Phase{
		domain.PhaseIdle, domain.PhaseLocating, domain.PhaseFetching, domain.PhaseRanking, domain.PhaseReady,
	}, f.observer.seen())
}

func TestResolve_ManualLocationNeverStale(t *testing.T) {
	locator := &fakeLocator{latest: located(delhi, domain.SourceManual, epoch.Add(-72*time.Hour))}
	f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
	require.NoError(t, err)
	assert.Zero(t, locator.captureCount())
	assert.Equal(t, domain.SourceManual, res.Location.Source)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LocationOutcomes.WithLabelValues("manual")), 0)
}

func TestResolve_Background(t *testing.T) {
	t.Run("uses stale location", func(t *testing.T) {
		locator := &fakeLocator{latest: located(delhi, domain.SourceSaved, epoch.Add(-24*time.Hour))}
		f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

		res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
		require.NoError(t, err)
		assert.Zero(t, locator.captureCount())
		require.NotNil(t, res.Location)
		assert.Equal(t, domain.ModeNearby, res.Mode)
	})

	t.Run("without location ranks by rating", func(t *testing.T) {
		locator := &fakeLocator{}
		f := newFixture(locator, &fakeDirectory{list: returning(
			agent("a", 4.5, true, nil), agent("b", 4.9, true, nil), agent("c", 4.8, true, nil),
		)})

		res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
		require.NoError(t, err)
		assert.Zero(t, locator.captureCount())
		assert.Nil(t, res.Location)
		assert.Equal(t, domain.ModeBrowse, res.Mode)
		assert.Equal(t, []string{"b", "c", "a"}, resultIDs(res))
		assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LocationOutcomes.WithLabelValues("none")), 0)
		assert.NotContains(t, f.observer.seen(), domain.PhaseLocating)
	})
}

func TestResolve_CaptureFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		stale   bool
		outcome string
	}{
		{"denied without stale", domain.ErrPermissionDenied, false, "denied"},
		{"denied with stale", domain.ErrPermissionDenied, true, "denied"},
		{"timeout with stale", domain.ErrLocationTimeout, true, "timeout"},
		{"other error without stale", errors.New("gps off"), false, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locator := &fakeLocator{
				permission: domain.PermissionDenied,
				capture: func(context.Context) (domain.ResolvedLocation, error) {
					return domain.ResolvedLocation{}, tt.err
				},
			}
			if tt.stale {
				locator.latest = located(delhi, domain.SourceSaved, epoch.Add(-time.Hour))
			}
			f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

			res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusReady, res.Status)
			assert.Equal(t, domain.PermissionDenied, res.Permission)
			assert.Len(t, res.Candidates, 2)
			if tt.stale {
				require.NotNil(t, res.Location)
				assert.Equal(t, domain.ModeNearby, res.Mode)
			} else {
				assert.Nil(t, res.Location)
				assert.Equal(t, domain.ModeBrowse, res.Mode)
			}
			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LocationOutcomes.WithLabelValues(tt.outcome)), 0)
		})
	}
}

func TestResolve_DegradedServesFallback(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: failing(domain.ErrNetworkUnavailable)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDegraded, res.Status)
	assert.NotEmpty(t, res.Candidates)
	for _, c := range res.Candidates {
		assert.True(t, c.Synthetic)
	}
	assert.Equal(t, domain.PhaseDegraded, f.observer.seen()[len(f.observer.seen())-1])
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ResolveTotal.WithLabelValues("degraded")), 0)
}

func TestResolve_DegradedRequireOnline(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: failing(domain.ErrServiceError)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true, RequireOnline: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback-1", "fallback-2"}, resultIDs(res))
}

func TestResolve_RequireOnline(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: returning(
		agent("online", 4.0, true, nil), agent("offline", 5.0, false, nil),
	)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true, RequireOnline: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"online"}, resultIDs(res))
}

func TestResolve_MaxDistance(t *testing.T) {
	locator := &fakeLocator{latest: located(delhi, domain.SourceManual, epoch)}
	f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{MaxDistance: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, resultIDs(res))
	assert.InDelta(t, 5.0, *f.dir.lastQuery().MaxDistance, 1e-9)
}

func TestResolve_Deterministic(t *testing.T) {
	locator := &fakeLocator{latest: located(delhi, domain.SourceManual, epoch)}
	f := newFixture(locator, &fakeDirectory{list: returning(
		agent("x", 4.5, true, nil),
		agent("y", 4.5, true, nil),
		agent("z", 4.9, true, &domain.Coordinate{Latitude: 28.71, Longitude: 77.11}),
	)})

	first, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
	require.NoError(t, err)
	second, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{})
	require.NoError(t, err)

	assert.Greater(t, second.RequestID, first.RequestID)
	if diff := cmp.Diff(first.Candidates, second.Candidates); diff != "" {
		t.Errorf("candidates differ (-first +second):\n%s", diff)
	}
}

// The first request's directory response arrives after the second request
// has already committed. Only the second result survives.
func TestResolve_LastRequestWins(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	dir := &fakeDirectory{list: func(_ context.Context, q domain.DirectoryQuery) ([]domain.AgentCandidate, error) {
		if q.Text == "first" {
			close(firstStarted)
			<-releaseFirst
			return []domain.AgentCandidate{agent("stale", 5, true, nil)}, nil
		}
		return []domain.AgentCandidate{agent("fresh", 4, true, nil)}, nil
	}}
	f := newFixture(&fakeLocator{}, dir)

	type outcome struct {
		res domain.Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Scope: "home", FreeText: ptr("first"), Background: true})
		firstDone <- outcome{res, err}
	}()
	<-firstStarted

	second, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Scope: "home", FreeText: ptr("second"), Background: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, resultIDs(second))

	close(releaseFirst)
	first := <-firstDone
	require.ErrorIs(t, first.err, ErrSuperseded)

	latest, ok := f.orch.Latest("home")
	require.True(t, ok)
	assert.Equal(t, second.RequestID, latest.RequestID)
	assert.Equal(t, []string{"fresh"}, resultIDs(latest))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ResolveSupersede), 0)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, second.RequestID, f.sink.events[0].RequestID)
}

func TestResolve_NewRequestCancelsInFlight(t *testing.T) {
	firstStarted := make(chan struct{})
	dir := &fakeDirectory{list: func(ctx context.Context, q domain.DirectoryQuery) ([]domain.AgentCandidate, error) {
		if q.Text == "first" {
			close(firstStarted)
			return blockingUntilDone(ctx, q)
		}
		return []domain.AgentCandidate{agent("fresh", 4, true, nil)}, nil
	}}
	f := newFixture(&fakeLocator{}, dir)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{FreeText: ptr("first"), Background: true})
		firstErr <- err
	}()
	<-firstStarted

	_, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{FreeText: ptr("second"), Background: true})
	require.NoError(t, err)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("first request was not cancelled")
	}
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.FallbackServed), 0)
}

func TestResolve_ScopesAreIndependent(t *testing.T) {
	searchStarted := make(chan struct{})
	releaseSearch := make(chan struct{})
	dir := &fakeDirectory{list: func(_ context.Context, q domain.DirectoryQuery) ([]domain.AgentCandidate, error) {
		if q.Text == "slow" {
			close(searchStarted)
			<-releaseSearch
		}
		return []domain.AgentCandidate{agent(q.Text, 4, true, nil)}, nil
	}}
	f := newFixture(&fakeLocator{}, dir)

	searchDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Scope: "search", FreeText: ptr("slow"), Background: true})
		searchDone <- err
	}()
	<-searchStarted

	_, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Scope: "home", FreeText: ptr("quick"), Background: true})
	require.NoError(t, err)

	close(releaseSearch)
	require.NoError(t, <-searchDone)

	home, ok := f.orch.Latest("home")
	require.True(t, ok)
	assert.Equal(t, []string{"quick"}, resultIDs(home))
	search, ok := f.orch.Latest("search")
	require.True(t, ok)
	assert.Equal(t, []string{"slow"}, resultIDs(search))
}

func TestResolve_CallerCancelled(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: blockingUntilDone})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Resolve(ctx, domain.DiscoveryRequest{Background: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSuperseded)

	_, ok := f.orch.Latest(DefaultScope)
	assert.False(t, ok)
}

func TestResolve_PublishesEvent(t *testing.T) {
	locator := &fakeLocator{latest: located(delhi, domain.SourceManual, epoch), permission: domain.PermissionGranted}
	f := newFixture(locator, &fakeDirectory{list: returning(nearbyAgents()...)})

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Scope: "home"})
	require.NoError(t, err)

	require.Len(t, f.sink.events, 1)
	e := f.sink.events[0]
	assert.Equal(t, res.RequestID, e.RequestID)
	assert.Equal(t, "home", e.Scope)
	assert.Equal(t, 2, e.CandidateCount)
	assert.Equal(t, "near", e.TopAgentID)
	assert.Equal(t, domain.SourceManual, e.LocationSource)
	assert.Equal(t, domain.PermissionGranted, e.Permission)
	assert.Equal(t, epoch, e.OccurredAt)
}

func TestResolve_SinkFailureDoesNotFail(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: returning(agent("1", 4, true, nil))})
	f.sink.err = errors.New("broker down")

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, res.Status)
}

func TestResultCommittedGauge(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: returning()})

	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.ResultCommitted), 0)

	_, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ResultCommitted), 0)
}

func TestLatest_DefaultScope(t *testing.T) {
	f := newFixture(&fakeLocator{}, &fakeDirectory{list: returning(agent("1", 4, true, nil))})

	_, ok := f.orch.Latest("")
	assert.False(t, ok)

	res, err := f.orch.Resolve(context.Background(), domain.DiscoveryRequest{Background: true})
	require.NoError(t, err)

	got, ok := f.orch.Latest("")
	require.True(t, ok)
	assert.Equal(t, res.RequestID, got.RequestID)
}
