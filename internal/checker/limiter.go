package checker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kavymi/meepo-sub001/internal/watcher"
)

// Limited shares one token bucket across every watcher of a kind so a shared
// upstream API is not hammered when many watchers poll it.
type Limited struct {
	inner   Checker
	limiter *rate.Limiter
}

// NewLimited allows perMinute checks per minute with the given burst.
// perMinute <= 0 disables limiting.
func NewLimited(inner Checker, perMinute float64, burst int) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Check(ctx context.Context, w watcher.Watcher) (*Trigger, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return l.inner.Check(ctx, w)
}

func (l *Limited) Forget(watcherID string) {
	if forgetter, ok := l.inner.(Forgetter); ok {
		forgetter.Forget(watcherID)
	}
}

func (l *Limited) Close() error {
	if closer, ok := l.inner.(Closer); ok {
		return closer.Close()
	}
	return nil
}
