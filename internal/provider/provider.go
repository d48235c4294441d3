// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"time"

	"github.com/shineum/form-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send delivers msg. It returns an error if the delivery fails after any
	// retries the backend performs.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the provider name used in logs and metrics.
	Name() string
}

// Retry describes the retry schedule shared by the network providers.
type Retry struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetry is three retries at 1s, 2s and 4s.
var DefaultRetry = Retry{MaxRetries: 3, BaseDelay: time.Second}

// Delay returns the exponential backoff delay before the given attempt.
func (r Retry) Delay(attempt int) time.Duration {
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
