package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/observability"
)

// DefaultScope is used for requests that name no scope.
const DefaultScope = "default"

const (
	defaultLocationTimeout = 12 * time.Second
	defaultLocationMaxAge  = 10 * time.Minute
)

// ErrSuperseded is returned by Resolve when a newer request for the same
// scope started before this one committed.
var ErrSuperseded = errors.New("superseded by a newer request")

// Locator is the slice of the location resolver the orchestrator needs.
type Locator interface {
	Permission() domain.Permission
	Latest(ctx context.Context) (domain.ResolvedLocation, bool)
	CaptureDeviceLocation(ctx context.Context, timeout time.Duration) (domain.ResolvedLocation, error)
}

// PhaseObserver is notified as a request moves through its phases.
type PhaseObserver interface {
	OnPhase(scope string, requestID uint64, phase domain.Phase)
}

// EventSink receives a summary of every committed result.
type EventSink interface {
	Publish(ctx context.Context, event domain.DiscoveryEvent) error
}

// Orchestrator runs locate, fetch and rank for discovery requests and keeps
// the latest committed result per scope.
type Orchestrator struct {
	locator         Locator
	fetcher         *Fetcher
	clock           clockwork.Clock
	metrics         *observability.Metrics
	logger          *slog.Logger
	locationTimeout time.Duration
	locationMaxAge  time.Duration
	observer        PhaseObserver
	events          EventSink

	nextID atomic.Uint64

	mu     sync.Mutex
	scopes map[string]*scopeState
}

type scopeState struct {
	current   uint64
	cancel    context.CancelFunc
	committed *domain.Result
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLocationTimeout bounds the device fix taken by a foreground request.
func WithLocationTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.locationTimeout = d
		}
	}
}

// WithLocationMaxAge sets how old a known location may be before a
// foreground request takes a new fix.
func WithLocationMaxAge(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.locationMaxAge = d
		}
	}
}

// WithPhaseObserver registers an observer for phase changes.
func WithPhaseObserver(obs PhaseObserver) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithEventSink publishes a DiscoveryEvent after every commit.
func WithEventSink(sink EventSink) OrchestratorOption {
	return func(o *Orchestrator) { o.events = sink }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(locator Locator, fetcher *Fetcher, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		locator:         locator,
		fetcher:         fetcher,
		clock:           clock,
		metrics:         metrics,
		logger:          logger,
		locationTimeout: defaultLocationTimeout,
		locationMaxAge:  defaultLocationMaxAge,
		scopes:          make(map[string]*scopeState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve produces a ranked candidate list for req. A newer Resolve in the
// same scope cancels this one; if this one still finishes first it is
// discarded and ErrSuperseded is returned. Directory failures do not fail
// Resolve: the result is marked degraded and carries the fallback roster.
func (o *Orchestrator) Resolve(ctx context.Context, req domain.DiscoveryRequest) (domain.Result, error) {
	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := o.begin(scope, cancel)
	start := o.clock.Now()
	o.enter(scope, id, domain.PhaseIdle)

	loc, err := o.locate(ctx, scope, id, req)
	if err != nil {
		return domain.Result{}, o.abort(scope, id, "locate", err)
	}

	var reference *domain.Coordinate
	if loc != nil {
		coord := loc.Coordinates
		reference = &coord
	}

	o.enter(scope, id, domain.PhaseFetching)
	fetched, err := o.fetcher.Fetch(ctx, req, reference)
	if err != nil {
		return domain.Result{}, o.abort(scope, id, "fetch", err)
	}

	o.enter(scope, id, domain.PhaseRanking)
	ranked := domain.Rank(fetched.Candidates, reference, domain.RankOptions{
		RequireOnline: req.RequireOnline,
		MaxDistance:   req.MaxDistance,
	})

	status, final := domain.StatusReady, domain.PhaseReady
	if fetched.Degraded {
		status, final = domain.StatusDegraded, domain.PhaseDegraded
	}
	result := domain.Result{
		RequestID:  id,
		Status:     status,
		Candidates: ranked,
		Location:   loc,
		Mode:       fetched.Mode,
		Permission: o.locator.Permission(),
	}

	if !o.commit(scope, id, result) {
		o.metrics.ResolveSupersede.Inc()
		o.logger.Debug("discarding superseded result", "scope", scope, "request_id", id)
		return domain.Result{}, fmt.Errorf("request %d: %w", id, ErrSuperseded)
	}

	o.enter(scope, id, final)
	o.metrics.ResolveTotal.WithLabelValues(string(status)).Inc()
	o.metrics.ResolveDuration.Observe(o.clock.Since(start).Seconds())
	o.metrics.CandidatesServed.Observe(float64(len(ranked)))
	o.logger.Info("discovery resolved",
		"scope", scope,
		"request_id", id,
		"status", status,
		"mode", fetched.Mode,
		"candidates", len(ranked),
	)

	o.publish(ctx, scope, result)
	return result, nil
}

// Latest returns the last committed result for scope.
func (o *Orchestrator) Latest(scope string) (domain.Result, bool) {
	if scope == "" {
		scope = DefaultScope
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.scopes[scope]
	if !ok || st.committed == nil {
		return domain.Result{}, false
	}
	return *st.committed, true
}

// locate picks the reference location for req. It only returns an error when
// ctx is done; capture failures degrade to the latest known location or none.
func (o *Orchestrator) locate(ctx context.Context, scope string, id uint64, req domain.DiscoveryRequest) (*domain.ResolvedLocation, error) {
	latest, known := o.locator.Latest(ctx)
	if known && (req.Background || latest.FreshAt(o.clock.Now(), o.locationMaxAge)) {
		o.locationOutcome(sourceOutcome(latest.Source))
		return &latest, nil
	}
	if req.Background {
		o.locationOutcome("none")
		return nil, nil
	}

	o.enter(scope, id, domain.PhaseLocating)
	loc, err := o.locator.CaptureDeviceLocation(ctx, o.locationTimeout)
	if err == nil {
		o.locationOutcome("device")
		return &loc, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	outcome := "error"
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		outcome = "denied"
	case errors.Is(err, domain.ErrLocationTimeout):
		outcome = "timeout"
	}
	o.locationOutcome(outcome)
	o.logger.Warn("device location unavailable",
		"error", err,
		"scope", scope,
		"request_id", id,
		"stale_fallback", known,
	)
	if known {
		return &latest, nil
	}
	return nil, nil
}

func sourceOutcome(s domain.LocationSource) string {
	switch s {
	case domain.SourceManual:
		return "manual"
	case domain.SourceDevice:
		return "device"
	default:
		return "saved"
	}
}

func (o *Orchestrator) locationOutcome(outcome string) {
	o.metrics.LocationOutcomes.WithLabelValues(outcome).Inc()
}

// begin assigns the next request ID to scope and cancels the previous
// in-flight request.
func (o *Orchestrator) begin(scope string, cancel context.CancelFunc) uint64 {
	id := o.nextID.Add(1)

	o.mu.Lock()
	st, ok := o.scopes[scope]
	if !ok {
		st = &scopeState{}
		o.scopes[scope] = st
	}
	prev := st.cancel
	st.current = id
	st.cancel = cancel
	o.mu.Unlock()

	if prev != nil {
		prev()
	}
	return id
}

func (o *Orchestrator) isCurrent(scope string, id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.scopes[scope]
	return ok && st.current == id
}

// commit stores result unless a newer request owns the scope.
func (o *Orchestrator) commit(scope string, id uint64, result domain.Result) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.scopes[scope]
	if !ok || st.current != id {
		return false
	}
	st.committed = &result
	st.cancel = nil
	o.metrics.ResultCommitted.Set(1)
	return true
}

// abort maps an in-flight failure to ErrSuperseded when a newer request took
// over the scope.
func (o *Orchestrator) abort(scope string, id uint64, step string, err error) error {
	if !o.isCurrent(scope, id) {
		o.metrics.ResolveSupersede.Inc()
		return fmt.Errorf("request %d: %w", id, ErrSuperseded)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (o *Orchestrator) enter(scope string, id uint64, phase domain.Phase) {
	o.metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
	if o.observer != nil {
		o.observer.OnPhase(scope, id, phase)
	}
}

func (o *Orchestrator) publish(ctx context.Context, scope string, result domain.Result) {
	if o.events == nil {
		return
	}
	event := domain.NewDiscoveryEvent(scope, result, o.clock.Now())
	if err := o.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("publish discovery event failed",
			"error", err,
			"scope", scope,
			"request_id", result.RequestID,
		)
	}
}
