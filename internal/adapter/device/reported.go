// Package device provides position providers backed by fixes that clients
// push to the gateway.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/clicko-app/agent-discovery/internal/domain"
)

// Reported is a position provider fed by client reports. Each reported fix is
// handed out once; CurrentPosition waits for the next report when none is
// pending.
type Reported struct {
	mu         sync.Mutex
	permission domain.Permission
	pending    *domain.Coordinate
	notify     chan struct{}
}

// NewReported creates a provider with unknown permission and no fix.
func NewReported() *Reported {
	return &Reported{
		permission: domain.PermissionUnknown,
		notify:     make(chan struct{}),
	}
}

// SetPermission records the client's permission decision.
func (r *Reported) SetPermission(p domain.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = p
	if p == domain.PermissionDenied {
		r.pending = nil
	}
	r.wakeLocked()
}

// Report queues a fix. A report implies the permission was granted.
func (r *Reported) Report(c domain.Coordinate) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("report fix: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = domain.PermissionGranted
	r.pending = &c
	r.wakeLocked()
	return nil
}

func (r *Reported) wakeLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *Reported) PermissionStatus(_ context.Context) (domain.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission, nil
}

// RequestPermission cannot prompt on the client's behalf; it reports the
// last decision the client sent.
func (r *Reported) RequestPermission(ctx context.Context) (domain.Permission, error) {
	return r.PermissionStatus(ctx)
}

func (r *Reported) CurrentPosition(ctx context.Context) (domain.Coordinate, error) {
	for {
		r.mu.Lock()
		if r.permission == domain.PermissionDenied {
			r.mu.Unlock()
			return domain.Coordinate{}, domain.ErrPermissionDenied
		}
		if r.pending != nil {
			c := *r.pending
			r.pending = nil
			r.mu.Unlock()
			return c, nil
		}
		wait := r.notify
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Coordinate{}, ctx.Err()
		case <-wait:
		}
	}
}
