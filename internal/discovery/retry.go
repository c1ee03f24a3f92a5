package discovery

import (
	"context"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/domain"
)

// Resolver resolves a discovery request.
type Resolver interface {
	Resolve(ctx context.Context, req domain.DiscoveryRequest) (domain.Result, error)
}

// RetryPolicy bounds caller-driven retries of degraded results. Attempts
// counts every Resolve call, so 1 means no retry.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NoRetry makes a single attempt.
var NoRetry = RetryPolicy{Attempts: 1}

// ResolveWithRetry calls Resolve until the result is not degraded or the
// attempts run out, doubling the delay between calls up to MaxDelay. Errors
// from Resolve end the loop at once. When attempts run out the last degraded
// result is returned.
func ResolveWithRetry(ctx context.Context, r Resolver, req domain.DiscoveryRequest, policy RetryPolicy, clock clockwork.Clock) (domain.Result, error) {
	attempts := max(policy.Attempts, 1)
	backoff := policy.BaseDelay

	for attempt := 1; ; attempt++ {
		res, err := r.Resolve(ctx, req)
		if err != nil {
			return domain.Result{}, err
		}
		if res.Status != domain.StatusDegraded || attempt >= attempts {
			return res, nil
		}

		if !sleep(ctx, clock, backoff) {
			return domain.Result{}, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, policy.MaxDelay)
	}
}

// sleep waits for d on clock, returning false if ctx is done first.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
