package ldap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/semaphore"
)

// MaxConcurrentLimit caps the number of simultaneous attempts a
// LimitedAuthenticator admits.
const MaxConcurrentLimit = 100

// LimiterStats provides statistics about a LimitedAuthenticator.
type LimiterStats struct {
	Limit     int64         // Maximum concurrent attempts
	Active    int64         // Attempts currently running
	Total     int64         // Attempts admitted
	Succeeded int64         // Attempts that returned an entry
	Failed    int64         // Attempts that returned an error
	Rejected  int64         // Attempts abandoned while waiting for a slot
	Uptime    time.Duration // Time since creation
}

// LimitedAuthenticator bounds the number of concurrent authentication
// attempts against the wrapped Authenticator. Each attempt still uses its
// own connection.
type LimitedAuthenticator struct {
	inner Authenticator
	sem   *semaphore.Weighted
	limit int64

	active    atomic.Int64
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	startTime time.Time
}

var _ Authenticator = (*LimitedAuthenticator)(nil)

// NewLimitedAuthenticator wraps inner so that at most limit attempts run at once.
func NewLimitedAuthenticator(inner Authenticator, limit int) (*LimitedAuthenticator, error) {
	if inner == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if limit <= 0 || limit > MaxConcurrentLimit {
		return nil, NewConfigError("max_concurrent_logins", fmt.Sprintf("must be between 1 and %d, got %d", MaxConcurrentLimit, limit))
	}

	return &LimitedAuthenticator{
		inner:     inner,
		sem:       semaphore.NewWeighted(int64(limit)),
		limit:     int64(limit),
		startTime: time.Now(),
	}, nil
}

// Authenticate waits for a free slot and delegates to the wrapped
// Authenticator. A context that ends while waiting yields a transport error.
func (l *LimitedAuthenticator) Authenticate(ctx context.Context, username, password string) (*Entry, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.rejected.Add(1)
		tflog.SubsystemWarn(ctx, "ldap", "Authentication slot unavailable", map[string]any{
			"limit":  l.limit,
			"active": l.active.Load(),
			"error":  err.Error(),
		})
		return nil, newAuthError(KindTransport, StateUnconnected, err)
	}
	defer l.sem.Release(1)

	l.total.Add(1)
	l.active.Add(1)
	defer l.active.Add(-1)

	entry, err := l.inner.Authenticate(ctx, username, password)
	if err != nil {
		l.failed.Add(1)
		return nil, err
	}

	l.succeeded.Add(1)
	return entry, nil
}

// Stats returns limiter statistics.
func (l *LimitedAuthenticator) Stats() LimiterStats {
	return LimiterStats{
		Limit:     l.limit,
		Active:    l.active.Load(),
		Total:     l.total.Load(),
		Succeeded: l.succeeded.Load(),
		Failed:    l.failed.Load(),
		Rejected:  l.rejected.Load(),
		Uptime:    time.Since(l.startTime),
	}
}
