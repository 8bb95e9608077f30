package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/clock"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	Reset      time.Time     // when the current window ends
	RetryAfter time.Duration // zero unless denied
}

// RetryAfterSeconds rounds the retry hint up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter gates requests per (identity, endpoint class) with fixed
// windows. Windows reset lazily on the next check, never via timers.
type Limiter struct {
	store  WindowStore
	policy Policy
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a limiter over the given window store.
func New(store WindowStore, policy Policy, clk clock.Clock, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		policy: policy,
		clock:  clk,
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Check records a request for identity against class and reports whether
// it fits the class budget. A request over budget does not extend the
// window; the caller retries once the window elapses.
func (l *Limiter) Check(identity, class string) Decision {
	b := l.policy.Budget(class)
	now := l.clock.Now()

	count, start := l.store.Take(identity+"|"+class, b.Window, now)
	reset := start.Add(b.Window)

	if count > b.Max {
		l.logger.Debug().
			Str("identity", identity).
			Str("class", class).
			Int("count", count).
			Int("max", b.Max).
			Msg("rate limit exceeded")
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: b.Max - count,
		Reset:     reset,
	}
}

// Run sweeps idle windows until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.store.Sweep(l.clock.Now()); removed > 0 {
				l.logger.Debug().Int("removed", removed).Msg("swept idle rate limit windows")
			}
		}
	}
}
