package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/form-relay/internal/metrics"
)

const defaultNamespace = "ratelimit"

// Limiter evaluates and records submissions against the configured
// dimensions. It holds no mutable state of its own; all counters live in the
// CounterStore.
type Limiter struct {
	cfg    Config
	store  CounterStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter. cfg is expected to have passed Validate.
func New(cfg Config, store CounterStore, opts ...Option) *Limiter {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.FailureMode == "" {
		cfg.FailureMode = FailOpen
	}
	l := &Limiter{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// probe is one enabled dimension resolved for the current request.
type probe struct {
	dim   Dimension
	cfg   DimensionConfig
	key   string
	start time.Time
}

func (p probe) resetAt() time.Time {
	return p.start.Add(p.cfg.Window)
}

// probes resolves the enabled dimensions, in precedence order, for the
// given identity (client address) and sender address.
func (l *Limiter) probes(identity, sender string, now time.Time) []probe {
	out := make([]probe, 0, 3)
	for _, d := range l.cfg.dimensions() {
		if !d.cfg.Enabled {
			continue
		}
		var id string
		switch d.dim {
		case DimensionGlobal:
			id = globalKey
		case DimensionIdentity:
			id = normalizeIdentity(identity)
		case DimensionSender:
			id = normalizeIdentity(strings.ToLower(sender))
		}
		start := windowStart(now, d.cfg.Window)
		out = append(out, probe{
			dim:   d.dim,
			cfg:   d.cfg,
			key:   counterKey(l.cfg.Namespace, d.dim, id, start),
			start: start,
		})
	}
	return out
}

func normalizeIdentity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// Check reads the current window counter of every enabled dimension
// concurrently and decides. It does not modify any counter, so repeated
// checks within a window return the same decision.
//
// When several dimensions are exhausted, the sender dimension is reported
// first, then identity, then global. Any store error applies the configured
// failure mode to the whole decision.
func (l *Limiter) Check(ctx context.Context, identity, sender string) Decision {
	now := l.now()
	probes := l.probes(identity, sender, now)
	if len(probes) == 0 {
		return Decision{Allowed: true, CheckedAt: now}
	}

	counts := make([]int64, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			count, _, err := l.store.Get(gctx, p.key)
			if err != nil {
				return fmt.Errorf("read %s counter: %w", p.dim, err)
			}
			counts[i] = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.IncrementCounterStoreError("get")
		d := l.storeFailure(err)
		d.CheckedAt = now
		return d
	}

	decision := Decision{Allowed: true, Remaining: math.MaxInt, CheckedAt: now}
	for i, p := range probes {
		if counts[i] >= int64(p.cfg.Limit) {
			metrics.IncrementRateLimitDecision(string(p.dim), "denied")
			return Decision{
				Allowed:   false,
				Dimension: p.dim,
				Reason:    denyReason(p.dim),
				ResetAt:   p.resetAt(),
				CheckedAt: now,
			}
		}
		if remaining := p.cfg.Limit - int(counts[i]) - 1; remaining < decision.Remaining {
			decision.Remaining = remaining
			decision.ResetAt = p.resetAt()
		}
	}

	for _, p := range probes {
		metrics.IncrementRateLimitDecision(string(p.dim), "allowed")
	}
	return decision
}

func (l *Limiter) storeFailure(err error) Decision {
	if l.cfg.FailureMode == FailClosed {
		l.logger.Warn("rate limit store unavailable, denying request",
			"failure_mode", string(FailClosed),
			"error", err,
		)
		metrics.IncrementRateLimitDecision("store", "fail_closed")
		return Decision{Allowed: false, Reason: ReasonExceeded}
	}

	l.logger.Warn("rate limit store unavailable, allowing request",
		"failure_mode", string(FailOpen),
		"error", err,
	)
	metrics.IncrementRateLimitDecision("store", "fail_open")
	return Decision{Allowed: true}
}

// Record increments, for every enabled dimension, the counter of the window
// containing at and refreshes its expiry to the window length plus a buffer.
// Callers pass the CheckedAt of the admitting Decision so the send is counted
// in the window that admitted it; a zero at means now. It must only be
// called after a message was delivered. Failures are logged and swallowed:
// the message has already gone out.
func (l *Limiter) Record(ctx context.Context, at time.Time, identity, sender string) {
	if at.IsZero() {
		at = l.now()
	}
	probes := l.probes(identity, sender, at)
	if len(probes) == 0 {
		return
	}

	var g errgroup.Group
	for _, p := range probes {
		g.Go(func() error {
			if _, err := l.store.IncrementAndExpire(ctx, p.key, p.cfg.Window+expiryBuffer); err != nil {
				metrics.IncrementCounterStoreError("increment")
				l.logger.Warn("failed to increment rate limit counter",
					"dimension", string(p.dim),
					"error", err,
				)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}
