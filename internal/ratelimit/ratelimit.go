// Package ratelimit decides whether a submission may be sent, using fixed
// window counters per dimension kept in a shared CounterStore.
//
// The flow for one request is Check, then (only after a message was actually
// delivered) Record. Checks never touch counters, so a rejected or failed
// send never consumes budget.
//
// Windows are fixed, not sliding: a burst straddling a window boundary can
// reach twice the nominal rate. This keeps storage at one counter per key.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Dimension is one axis of rate limiting.
type Dimension string

const (
	DimensionGlobal   Dimension = "global"
	DimensionIdentity Dimension = "ip"
	DimensionSender   Dimension = "email"
)

// globalKey is the identity used for the global dimension.
const globalKey = "all"

// expiryBuffer is added to every counter TTL so a key outlives its window
// even with clock skew between instances.
const expiryBuffer = 60 * time.Second

// ReasonExceeded is the denial reason used when the store is unavailable and
// the limiter fails closed.
const ReasonExceeded = "Rate limit exceeded"

// FailureMode selects the behaviour when the counter store cannot be read.
type FailureMode string

const (
	// FailOpen admits requests when the store fails.
	FailOpen FailureMode = "open"
	// FailClosed denies requests when the store fails.
	FailClosed FailureMode = "closed"
)

// ParseFailureMode parses "open" or "closed" (case-insensitive).
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown rate limit failure mode %q", s)
	}
}

// DimensionConfig configures one dimension.
type DimensionConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// Config is the immutable limiter configuration.
type Config struct {
	Global   DimensionConfig
	Identity DimensionConfig
	Sender   DimensionConfig

	FailureMode FailureMode

	// Namespace prefixes every counter key.
	Namespace string
}

// ErrInvalidConfig is returned by Validate for an unusable configuration.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Validate checks that every enabled dimension has a positive limit and a
// window of at least one second.
func (c Config) Validate() error {
	for _, d := range c.dimensions() {
		if !d.cfg.Enabled {
			continue
		}
		if d.cfg.Limit <= 0 {
			return fmt.Errorf("%w: %s limit must be positive", ErrInvalidConfig, d.dim)
		}
		if d.cfg.Window < time.Second {
			return fmt.Errorf("%w: %s window must be at least one second", ErrInvalidConfig, d.dim)
		}
	}
	switch c.FailureMode {
	case FailOpen, FailClosed, "":
	default:
		return fmt.Errorf("%w: unknown failure mode %q", ErrInvalidConfig, c.FailureMode)
	}
	return nil
}

type dimensionEntry struct {
	dim Dimension
	cfg DimensionConfig
}

// dimensions lists the dimensions in denial precedence order: when several
// are exceeded at once, the first one here is reported.
func (c Config) dimensions() []dimensionEntry {
	return []dimensionEntry{
		{dim: DimensionSender, cfg: c.Sender},
		{dim: DimensionIdentity, cfg: c.Identity},
		{dim: DimensionGlobal, cfg: c.Global},
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// Dimension is the dimension that denied the request, if any.
	Dimension Dimension
	Reason    string
	// ResetAt is the end of the window that produced the decision.
	ResetAt time.Time
	// Remaining is how many more sends the tightest dimension admits in the
	// current window after this one.
	Remaining int
	// CheckedAt is the instant the windows were evaluated at.
	CheckedAt time.Time
}

// ResetAtMillis returns ResetAt as Unix milliseconds, or 0 when unset.
func (d Decision) ResetAtMillis() int64 {
	if d.ResetAt.IsZero() {
		return 0
	}
	return d.ResetAt.UnixMilli()
}

// RetryAfter returns the time left until ResetAt, rounded up to whole
// seconds, never less than one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() {
		return time.Second
	}
	wait := d.ResetAt.Sub(now)
	if wait <= time.Second {
		return time.Second
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

// windowStart returns the start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	secs := int64(window / time.Second)
	start := (now.Unix() / secs) * secs
	return time.Unix(start, 0)
}

// counterKey builds namespace:dimension:identity:windowStart.
func counterKey(namespace string, dim Dimension, identity string, start time.Time) string {
	return namespace + ":" + string(dim) + ":" + identity + ":" + strconv.FormatInt(start.Unix(), 10)
}

func denyReason(dim Dimension) string {
	switch dim {
	case DimensionSender:
		return "Too many messages from this email address. Please try again later."
	case DimensionIdentity:
		return "Too many requests from this IP address. Please try again later."
	default:
		return "Service is receiving too many messages. Please try again later."
	}
}
