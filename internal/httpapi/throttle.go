package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/shineum/form-relay/internal/metrics"
	"github.com/shineum/form-relay/internal/pipeline"
	"github.com/shineum/form-relay/internal/submission"
)

// ReasonThrottled is the detail returned when the per-client token bucket is
// empty.
const ReasonThrottled = "Too many requests. Please slow down."

// ThrottleStore keeps one token bucket per client key, dropping buckets that
// have been idle for longer than the idle TTL.
type ThrottleStore struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ThrottleOption configures a ThrottleStore.
type ThrottleOption func(*ThrottleStore)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(s *ThrottleStore) { s.idleTTL = d }
}

// WithThrottleClock overrides the time source.
func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(s *ThrottleStore) { s.now = now }
}

// NewThrottleStore creates a store refilling rps tokens per second up to
// burst.
func NewThrottleStore(rps float64, burst int, opts ...ThrottleOption) *ThrottleStore {
	s := &ThrottleStore{
		entries:      make(map[string]*throttleEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ThrottleStore) limiter(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Allow takes one token for key. When the bucket is empty it returns false
// and the wait until the next token.
func (s *ThrottleStore) Allow(key string) (bool, time.Duration) {
	now := s.now()
	r := s.limiter(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len returns the number of tracked clients.
func (s *ThrottleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops idle buckets.
func (s *ThrottleStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor removes idle buckets periodically until ctx is cancelled.
func (s *ThrottleStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// ThrottleMiddleware rejects requests from clients whose bucket is empty with
// the same 429 shape the pipeline uses.
func ThrottleMiddleware(store *ThrottleStore, identity IdentityFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := store.Allow(identity(c.Request()))
			if ok {
				return next(c)
			}

			metrics.IncrementSubmission("throttle")
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusTooManyRequests, pipeline.ErrorBody(
				pipeline.MsgRateLimited,
				submission.FieldErrors{{Field: "rate_limit", Message: ReasonThrottled}},
				store.now(),
			))
		}
	}
}
