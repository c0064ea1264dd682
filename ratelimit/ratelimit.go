// Package ratelimit paces outbound crawl requests. A Limiter enforces a
// requests-per-window ceiling, applies jittered delays between requests,
// honors Retry-After on HTTP 429 and pauses the crawl after a run of
// consecutive source failures.
//
// All state lives behind a single mutex so one Limiter can be shared as a
// global budget across goroutines. Waits are computed under the lock and
// slept outside it.
package ratelimit

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pevans/newsagg/logger"
)

// Config holds the limiter tunables.
type Config struct {
	// MaxPerWindow is the request ceiling per Window. Zero disables it.
	MaxPerWindow int
	Window       time.Duration
	// Jitter is the fraction of a base delay added or removed at random.
	Jitter float64
	// FailureThreshold consecutive failures trigger a Cooldown pause.
	FailureThreshold int
	Cooldown         time.Duration
	// DefaultRetryAfter is used when a 429 response has no usable
	// Retry-After header.
	DefaultRetryAfter time.Duration
}

// DefaultConfig returns the crawler's standard pacing.
func DefaultConfig() Config {
	return Config{
		MaxPerWindow:      30,
		Window:            time.Minute,
		Jitter:            0.3,
		FailureThreshold:  3,
		Cooldown:          5 * time.Minute,
		DefaultRetryAfter: 60 * time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the blocking sleep.
func WithSleep(sleep SleepFunc) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithRand replaces the [0, 1) random source used for jitter.
func WithRand(r func() float64) Option {
	return func(l *Limiter) { l.rand = r }
}

// Limiter is the request pacing state machine.
type Limiter struct {
	cfg   Config
	log   logger.Logger
	now   func() time.Time
	sleep SleepFunc
	rand  func() float64

	mu          sync.Mutex
	windowStart time.Time
	count       int
	failures    int
}

// New creates a Limiter. Zero fields in cfg take their DefaultConfig values,
// except MaxPerWindow and Jitter where zero means disabled.
func New(cfg Config, log logger.Logger, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	l := &Limiter{
		cfg:   cfg,
		log:   logger.OrNop(log),
		now:   time.Now,
		sleep: Sleep,
		rand:  rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tick accounts for one outbound request. When the window's budget is
// already spent the request is booked into the next window. A request in a
// window that has not started yet blocks until it does. If the wait is
// cancelled the booking is released, but the pause itself stays in place.
func (l *Limiter) Tick(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.cfg.Window {
		l.windowStart = now
		l.count = 0
	}

	if l.cfg.MaxPerWindow > 0 && l.count >= l.cfg.MaxPerWindow {
		l.windowStart = l.windowStart.Add(l.cfg.Window)
		l.count = 0
	}
	l.count++
	booked := l.windowStart
	wait := booked.Sub(now)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	l.log.Info("Rate limit reached, pausing",
		logger.Duration("wait", wait),
		logger.Int("max_per_window", l.cfg.MaxPerWindow),
	)
	if err := l.sleep(ctx, wait); err != nil {
		l.mu.Lock()
		if l.windowStart.Equal(booked) && l.count > 0 {
			l.count--
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// Jittered returns base shifted by a random amount within +/- Jitter*base.
// The result is never negative.
func (l *Limiter) Jittered(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	l.mu.Lock()
	r := l.rand()
	l.mu.Unlock()

	spread := float64(base) * l.cfg.Jitter
	d := time.Duration(float64(base) + spread*(2*r-1))
	if d < 0 {
		return 0
	}
	return d
}

// Delay sleeps for a jittered base delay.
func (l *Limiter) Delay(ctx context.Context, base time.Duration) error {
	d := l.Jittered(base)
	if d <= 0 {
		return nil
	}
	return l.sleep(ctx, d)
}

// RecordFailure counts a source-level failure. Reaching the threshold
// blocks for the cooldown and then resets the counter.
func (l *Limiter) RecordFailure(ctx context.Context) error {
	l.mu.Lock()
	l.failures++
	cooldown := l.failures >= l.cfg.FailureThreshold
	failures := l.failures
	if cooldown {
		l.failures = 0
	}
	l.mu.Unlock()

	if !cooldown {
		return nil
	}

	l.log.Warn("Too many consecutive failures, cooling down",
		logger.Int("failures", failures),
		logger.Duration("cooldown", l.cfg.Cooldown),
	)
	return l.sleep(ctx, l.cfg.Cooldown)
}

// RecordSuccess resets the consecutive failure counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// RetryAfter returns how long a 429 response asks the client to wait. The
// header may be delta-seconds or an HTTP date. A missing, invalid or past
// value yields the configured default.
func (l *Limiter) RetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return l.cfg.DefaultRetryAfter
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return l.cfg.DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(l.now()); d > 0 {
			return d
		}
	}
	return l.cfg.DefaultRetryAfter
}

// WaitRetryAfter blocks for the duration a 429 response's Retry-After
// header asks for.
func (l *Limiter) WaitRetryAfter(ctx context.Context, header string) error {
	d := l.RetryAfter(header)
	l.log.Warn("429 Too Many Requests, waiting", logger.Duration("retry_after", d))
	return l.sleep(ctx, d)
}

// State is a point-in-time view of the limiter counters.
type State struct {
	WindowStart time.Time
	Requests    int
	Failures    int
}

// State returns the current counters.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{WindowStart: l.windowStart, Requests: l.count, Failures: l.failures}
}
