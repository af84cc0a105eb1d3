// Package ratelimit gates outbound marketplace calls with a sliding window
// counter per (marketplace, endpoint).
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// Policy decides what happens when the window is full
type Policy string

const (
	// PolicyReject fails the call immediately with a retryable error
	PolicyReject Policy = "reject"
	// PolicyWait blocks until a slot frees up or the wait timeout passes
	PolicyWait Policy = "wait"
)

// Default limits applied to marketplaces without their own entry
const (
	DefaultLimit  = 50
	DefaultWindow = 10 * time.Second
)

// Limit is the window configuration of one marketplace
type Limit struct {
	Calls       int
	Window      time.Duration
	Policy      Policy
	WaitTimeout time.Duration
}

func (l Limit) withDefaults() Limit {
	if l.Calls <= 0 {
		l.Calls = DefaultLimit
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	if l.Policy == "" {
		l.Policy = PolicyReject
	}
	if l.WaitTimeout <= 0 {
		l.WaitTimeout = l.Window
	}
	return l
}

// Decision is the outcome of one check-and-consume
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Store records call timestamps. Take must prune, count and record atomically.
type Store interface {
	Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error)
}

// Limiter applies per-marketplace limits on top of a Store
type Limiter struct {
	store    Store
	defaults Limit
	limits   map[string]Limit
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithMarketplaceLimit overrides the default limit for one marketplace
func WithMarketplaceLimit(marketplace string, l Limit) Option {
	return func(r *Limiter) { r.limits[marketplace] = l.withDefaults() }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Limiter) { r.now = now }
}

// New creates a Limiter
func New(store Store, defaults Limit, logger *slog.Logger, opts ...Option) *Limiter {
	r := &Limiter{
		store:    store,
		defaults: defaults.withDefaults(),
		limits:   make(map[string]Limit),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LimitFor returns the effective limit of a marketplace
func (r *Limiter) LimitFor(marketplace string) Limit {
	if l, ok := r.limits[marketplace]; ok {
		return l
	}
	return r.defaults
}

func key(marketplace, endpoint string) string {
	return "ratelimit:" + marketplace + ":" + endpoint
}

// Allow consumes one slot if the window has room
func (r *Limiter) Allow(ctx context.Context, marketplace, endpoint string) (bool, error) {
	d, err := r.take(ctx, marketplace, endpoint)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (r *Limiter) take(ctx context.Context, marketplace, endpoint string) (Decision, error) {
	l := r.LimitFor(marketplace)
	d, err := r.store.Take(ctx, key(marketplace, endpoint), r.now(), l.Calls, l.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter store: %w", err)
	}
	return d, nil
}

// Wait blocks until a slot is consumed. It gives up after the marketplace's
// wait timeout with a retryable ErrRateLimited.
func (r *Limiter) Wait(ctx context.Context, marketplace, endpoint string) error {
	l := r.LimitFor(marketplace)
	deadline := r.now().Add(l.WaitTimeout)

	for {
		d, err := r.take(ctx, marketplace, endpoint)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return r.limited(marketplace, endpoint, l)
		}
		sleep := d.RetryAfter
		if sleep <= 0 {
			sleep = 10 * time.Millisecond
		}
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Acquire applies the marketplace's policy: reject fails fast, wait blocks
func (r *Limiter) Acquire(ctx context.Context, marketplace, endpoint string) error {
	l := r.LimitFor(marketplace)
	if l.Policy == PolicyWait {
		return r.Wait(ctx, marketplace, endpoint)
	}

	ok, err := r.Allow(ctx, marketplace, endpoint)
	if err != nil {
		return err
	}
	if !ok {
		return r.limited(marketplace, endpoint, l)
	}
	return nil
}

func (r *Limiter) limited(marketplace, endpoint string, l Limit) error {
	r.logger.Warn("Rate limit exceeded",
		slog.String("marketplace", marketplace),
		slog.String("endpoint", endpoint),
		slog.Int("limit", l.Calls),
		slog.Duration("window", l.Window),
	)
	return domain.NewRetryableError(fmt.Errorf("%w: %s %s allows %d calls per %s",
		domain.ErrRateLimited, marketplace, endpoint, l.Calls, l.Window))
}
