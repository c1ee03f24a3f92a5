// Package location resolves the best known location for discovery: device
// fixes, manual selections, and the single persisted slot.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/domain"
)

// SlotKey is the store key of the persisted location.
const SlotKey = "selectedLocation"

const (
	minSearchLength   = 3
	maxSearchResults  = 5
	defaultGeoTimeout = 5 * time.Second
)

// PositionProvider is the platform location service.
type PositionProvider interface {
	PermissionStatus(ctx context.Context) (domain.Permission, error)
	RequestPermission(ctx context.Context) (domain.Permission, error)
	// CurrentPosition blocks until a fix is available or ctx is done.
	CurrentPosition(ctx context.Context) (domain.Coordinate, error)
}

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ManualPlace is a user-picked place from the location search.
type ManualPlace struct {
	Coordinates domain.Coordinate `json:"coordinates"`
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	City        string            `json:"city,omitempty"`
	Country     string            `json:"country,omitempty"`
}

// Place returns the display-safe description of the pick.
func (p ManualPlace) Place() domain.PlaceDescription {
	return domain.PlaceDescription{
		Area:             p.Name,
		City:             p.City,
		Country:          p.Country,
		FormattedAddress: p.Address,
	}.Normalize()
}

// Resolver tracks permission state and the latest resolved location.
// It is safe for concurrent use.
type Resolver struct {
	provider       PositionProvider
	geocoder       domain.Geocoder
	store          Store
	clock          clockwork.Clock
	logger         *slog.Logger
	geocodeTimeout time.Duration

	mu         sync.Mutex
	permission domain.Permission
	latest     *domain.ResolvedLocation
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGeocodeTimeout bounds each geocoding call.
func WithGeocodeTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.geocodeTimeout = d
		}
	}
}

// NewResolver creates a Resolver. A nil geocoder disables place lookups;
// device fixes are then labelled with the fallback place.
func NewResolver(provider PositionProvider, geocoder domain.Geocoder, store Store, clock clockwork.Clock, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider:       provider,
		geocoder:       geocoder,
		store:          store,
		clock:          clock,
		logger:         logger,
		geocodeTimeout: defaultGeoTimeout,
		permission:     domain.PermissionUnknown,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Permission reports the last known permission state.
func (r *Resolver) Permission() domain.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}

// RequestPermission checks the provider's permission and asks the user when
// it is not already granted. The outcome is remembered.
func (r *Resolver) RequestPermission(ctx context.Context) domain.Permission {
	status, err := r.provider.PermissionStatus(ctx)
	if err != nil {
		r.logger.Warn("permission status check failed", "error", err)
	}
	if err != nil || status != domain.PermissionGranted {
		status, err = r.provider.RequestPermission(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.Permission()
			}
			r.logger.Warn("permission request failed", "error", err)
			status = domain.PermissionDenied
		}
	}

	r.mu.Lock()
	r.permission = status
	r.mu.Unlock()

	r.logger.Info("location permission resolved", "permission", status)
	return status
}

// CaptureDeviceLocation takes a device fix bounded by timeout, labels it, and
// persists it. After a denial it fails with domain.ErrPermissionDenied without
// touching the provider.
func (r *Resolver) CaptureDeviceLocation(ctx context.Context, timeout time.Duration) (domain.ResolvedLocation, error) {
	perm := r.Permission()
	if perm == domain.PermissionDenied {
		return domain.ResolvedLocation{}, domain.ErrPermissionDenied
	}
	if perm != domain.PermissionGranted {
		perm = r.RequestPermission(ctx)
	}
	if perm != domain.PermissionGranted {
		return domain.ResolvedLocation{}, fmt.Errorf("permission %s: %w", perm, domain.ErrPermissionDenied)
	}

	coord, err := r.currentPosition(ctx, timeout)
	if err != nil {
		return domain.ResolvedLocation{}, err
	}

	loc := domain.ResolvedLocation{
		Coordinates: coord,
		Place:       r.describe(ctx, coord),
		Source:      domain.SourceDevice,
		CapturedAt:  r.clock.Now().UTC(),
	}
	r.commit(ctx, loc)
	return loc, nil
}

func (r *Resolver) currentPosition(ctx context.Context, timeout time.Duration) (domain.Coordinate, error) {
	fixCtx, cancel := clockwork.WithTimeout(ctx, r.clock, timeout)
	defer cancel()

	coord, err := r.provider.CurrentPosition(fixCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Coordinate{}, ctxErr
		}
		select {
		case <-fixCtx.Done():
			return domain.Coordinate{}, domain.ErrLocationTimeout
		default:
		}
		if errors.Is(err, domain.ErrPermissionDenied) {
			r.mu.Lock()
			r.permission = domain.PermissionDenied
			r.mu.Unlock()
			return domain.Coordinate{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Coordinate{}, domain.ErrLocationTimeout
		}
		return domain.Coordinate{}, fmt.Errorf("current position: %w", err)
	}

	if err := coord.Validate(); err != nil {
		return domain.Coordinate{}, fmt.Errorf("device fix: %w", err)
	}
	return coord, nil
}

// describe reverse geocodes coord. Failures fall back to placeholder text.
func (r *Resolver) describe(ctx context.Context, coord domain.Coordinate) domain.PlaceDescription {
	if r.geocoder == nil {
		return domain.FallbackPlace()
	}

	geoCtx, cancel := clockwork.WithTimeout(ctx, r.clock, r.geocodeTimeout)
	defer cancel()

	result, err := r.geocoder.ReverseGeocode(geoCtx, coord)
	if err != nil {
		r.logger.Warn("reverse geocoding failed, using fallback place",
			"error", err,
			"lat", coord.Latitude,
			"lon", coord.Longitude,
		)
		return domain.FallbackPlace()
	}
	return domain.DescribePlace(result)
}

// SelectManualLocation records a user-picked place as the current location.
func (r *Resolver) SelectManualLocation(ctx context.Context, place ManualPlace) (domain.ResolvedLocation, error) {
	if err := place.Coordinates.Validate(); err != nil {
		return domain.ResolvedLocation{}, fmt.Errorf("manual location: %w", err)
	}

	loc := domain.ResolvedLocation{
		Coordinates: place.Coordinates,
		Place:       place.Place(),
		Source:      domain.SourceManual,
		CapturedAt:  r.clock.Now().UTC(),
	}
	r.commit(ctx, loc)
	return loc, nil
}

// SearchPlaces returns up to five places matching query. Queries shorter than
// three characters return nothing. Geocoding failures yield an empty list.
func (r *Resolver) SearchPlaces(ctx context.Context, query string) ([]ManualPlace, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength || r.geocoder == nil {
		return []ManualPlace{}, nil
	}

	geoCtx, cancel := clockwork.WithTimeout(ctx, r.clock, r.geocodeTimeout)
	defer cancel()

	results, err := r.geocoder.ForwardGeocode(geoCtx, query, maxSearchResults)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("place search failed", "error", err, "query", query)
		return []ManualPlace{}, nil
	}

	places := make([]ManualPlace, 0, min(len(results), maxSearchResults))
	for _, res := range results {
		if len(places) == maxSearchResults {
			break
		}
		if res.Coordinate.Validate() != nil {
			continue
		}
		places = append(places, ManualPlace{
			Coordinates: res.Coordinate,
			Name:        firstNonEmpty(res.Name, res.Street, res.City, res.FormattedAddress),
			Address:     res.FormattedAddress,
			City:        firstNonEmpty(res.City, res.Region),
			Country:     res.Country,
		})
	}
	return places, nil
}

// Latest returns the most recent resolution held in memory, else the
// persisted slot.
func (r *Resolver) Latest(ctx context.Context) (domain.ResolvedLocation, bool) {
	r.mu.Lock()
	if r.latest != nil {
		loc := *r.latest
		r.mu.Unlock()
		return loc, true
	}
	r.mu.Unlock()

	loc, ok := r.PersistedLocation(ctx)
	if !ok {
		return domain.ResolvedLocation{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest != nil {
		return *r.latest, true
	}
	r.latest = &loc
	return loc, true
}

// PersistedLocation reads the persisted slot. Any read or decode problem is
// logged and reported as no location.
func (r *Resolver) PersistedLocation(ctx context.Context) (domain.ResolvedLocation, bool) {
	raw, ok, err := r.store.Get(ctx, SlotKey)
	if err != nil {
		r.logger.Warn("read persisted location failed", "error", err)
		return domain.ResolvedLocation{}, false
	}
	if !ok {
		return domain.ResolvedLocation{}, false
	}

	var loc domain.ResolvedLocation
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		r.logger.Warn("decode persisted location failed", "error", err)
		return domain.ResolvedLocation{}, false
	}
	if err := loc.Coordinates.Validate(); err != nil {
		r.logger.Warn("persisted location invalid", "error", err)
		return domain.ResolvedLocation{}, false
	}

	loc.Source = domain.SourceSaved
	loc.Place = loc.Place.Normalize()
	return loc, true
}

// commit makes loc the latest location and overwrites the persisted slot.
// Writers are serialised, so the last to complete wins.
func (r *Resolver) commit(ctx context.Context, loc domain.ResolvedLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest = &loc

	data, err := json.Marshal(loc)
	if err != nil {
		r.logger.Warn("encode location failed", "error", err)
		return
	}
	if err := r.store.Set(ctx, SlotKey, string(data)); err != nil {
		r.logger.Warn("persist location failed", "error", err, "source", loc.Source)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
