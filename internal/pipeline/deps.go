//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock
package pipeline

import (
	"context"
	"time"

	"github.com/shineum/form-relay/internal/ratelimit"
	"github.com/shineum/form-relay/internal/submission"
)

// Notifier delivers admitted submissions.
type Notifier interface {
	// Send delivers the submission to the site owner.
	Send(ctx context.Context, sub submission.Submission) error
	// SendAutoReply acknowledges the submission to its sender.
	SendAutoReply(ctx context.Context, sub submission.Submission) error
}

// Limiter decides and records rate limit budget.
type Limiter interface {
	Check(ctx context.Context, identity, sender string) ratelimit.Decision
	// Record counts a delivered submission in the windows containing at.
	Record(ctx context.Context, at time.Time, identity, sender string)
}
