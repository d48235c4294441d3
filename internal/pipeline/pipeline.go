// Package pipeline runs the ordered admission gates for one contact-form
// submission: auth, JSON parse, validation, content, identity and attachment
// filters, rate limit check, delivery, then the post-delivery counter
// increment and auto-reply.
//
// The first failing gate ends the run and determines the response. Nothing a
// gate does, including a panic, escapes Handle.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/shineum/form-relay/internal/filter"
	"github.com/shineum/form-relay/internal/metrics"
	"github.com/shineum/form-relay/internal/ratelimit"
	"github.com/shineum/form-relay/internal/submission"
	"github.com/shineum/form-relay/internal/validate"
)

const defaultBackgroundTimeout = 30 * time.Second

var errMalformedJSON = errors.New("request body is not valid JSON")

// Options are the deployment switches of the pipeline.
type Options struct {
	// APIKey, when non-empty, must be presented by every caller.
	APIKey           string
	AutoReplyEnabled bool
	// BackgroundTimeout bounds each post-response task.
	BackgroundTimeout time.Duration
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Validator *validate.Validator
	Filters   filter.Config
	// Limiter is nil when rate limiting is disabled or no counter store is
	// configured; the check stage is then skipped.
	Limiter  Limiter
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Request is one inbound submission, stripped of transport details.
type Request struct {
	RequestID  string
	Credential string
	Body       []byte
	// Identity is the caller identity used for per-identity limits,
	// normally the client IP.
	Identity string
}

// Pipeline is safe for concurrent use. Configuration is fixed at New.
type Pipeline struct {
	auth       *Authenticator
	validator  *validate.Validator
	content    *filter.ContentFilter
	identity   *filter.IdentityFilter
	attachment *filter.AttachmentFilter
	limiter    Limiter
	notifier   Notifier

	autoReply bool
	bgTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// New creates a Pipeline.
func New(opts Options, deps Deps) *Pipeline {
	p := &Pipeline{
		auth:       NewAuthenticator(opts.APIKey),
		validator:  deps.Validator,
		content:    filter.NewContentFilter(deps.Filters),
		identity:   filter.NewIdentityFilter(deps.Filters),
		attachment: filter.NewAttachmentFilter(deps.Filters),
		limiter:    deps.Limiter,
		notifier:   deps.Notifier,
		autoReply:  opts.AutoReplyEnabled,
		bgTimeout:  opts.BackgroundTimeout,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if p.validator == nil {
		p.validator = validate.New(validate.DefaultLimits())
	}
	if p.bgTimeout <= 0 {
		p.bgTimeout = defaultBackgroundTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Handle runs the pipeline for req and returns the response to send.
func (p *Pipeline) Handle(ctx context.Context, req Request) (resp Response) {
	logger := p.logger.With("request_id", req.RequestID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in admission pipeline",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp = p.reject(logger, internalError(fmt.Errorf("panic: %v", r)), ratelimit.Decision{})
		}
	}()

	sub, decision, serr := p.admit(ctx, req)
	if serr != nil {
		return p.reject(logger, serr, decision)
	}

	if err := p.send(ctx, sub); err != nil {
		return p.reject(logger, sendError(err), decision)
	}

	p.afterSend(ctx, logger, req.Identity, sub, decision.CheckedAt)

	metrics.IncrementSubmission("sent")
	logger.Info("submission delivered",
		"has_attachment", sub.Attachment != nil,
	)

	resp = successResponse(p.now())
	if !decision.ResetAt.IsZero() {
		resp.Headers = map[string]string{
			"X-RateLimit-Remaining": strconv.Itoa(decision.Remaining),
			"X-RateLimit-Reset":     strconv.FormatInt(decision.ResetAt.Unix(), 10),
		}
	}
	return resp
}

// admit runs every gate up to and including the rate limit check.
func (p *Pipeline) admit(ctx context.Context, req Request) (submission.Submission, ratelimit.Decision, *StageError) {
	var none submission.Submission
	decision := ratelimit.Decision{Allowed: true}

	if err := p.auth.Verify(req.Credential); err != nil {
		return none, decision, authError(err)
	}

	if !json.Valid(req.Body) {
		return none, decision, parseError(errMalformedJSON)
	}

	res := p.validator.Validate(req.Body)
	if !res.OK() {
		return none, decision, validationError(res.Errors)
	}
	sub := res.Submission

	if v := p.content.Check(sub); v.Blocked {
		return sub, decision, policyError(StageContent, MsgContentBlocked, "", "")
	}
	if v := p.identity.Check(sub); v.Blocked {
		return sub, decision, policyError(StageIdentity, MsgIdentityBlocked, "email", v.Reason)
	}
	if v := p.attachment.Check(sub); v.Blocked {
		return sub, decision, policyError(StageAttachment, MsgAttachmentBlocked, "attachment", v.Reason)
	}

	if p.limiter != nil {
		decision = p.limiter.Check(ctx, req.Identity, sub.NormalizedEmail())
		if !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = ratelimit.ReasonExceeded
			}
			return sub, decision, rateLimitError(reason)
		}
	}

	return sub, decision, nil
}

// send calls the notifier; a panic counts as a failed send.
func (p *Pipeline) send(ctx context.Context, sub submission.Submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return p.notifier.Send(ctx, sub)
}

// afterSend starts the counter increment and the auto-reply. Both outlive
// the request and never affect the response.
func (p *Pipeline) afterSend(ctx context.Context, logger *slog.Logger, identity string, sub submission.Submission, checkedAt time.Time) {
	bg := context.WithoutCancel(ctx)

	if p.limiter != nil {
		sender := sub.NormalizedEmail()
		p.background(bg, logger, "rate_limit_increment", func(ctx context.Context) error {
			p.limiter.Record(ctx, checkedAt, identity, sender)
			return nil
		})
	}

	if p.autoReply {
		p.background(bg, logger, "auto_reply", func(ctx context.Context) error {
			if err := p.notifier.SendAutoReply(ctx, sub); err != nil {
				metrics.IncrementAutoReply("failed")
				return err
			}
			metrics.IncrementAutoReply("sent")
			logger.Info("auto-reply sent")
			return nil
		})
	}
}

func (p *Pipeline) background(ctx context.Context, logger *slog.Logger, task string, fn func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if task == "auto_reply" {
					metrics.IncrementAutoReply("failed")
				}
				logger.Error("panic in background task", "task", task, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, p.bgTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.Warn("background task failed", "task", task, "error", err)
		}
	}()
}

// Wait blocks until all background tasks have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Drain waits for background tasks until ctx ends.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) reject(logger *slog.Logger, e *StageError, decision ratelimit.Decision) Response {
	metrics.IncrementSubmission(string(e.Stage))

	attrs := []any{"stage", string(e.Stage), "status", e.Status}
	if len(e.Details) > 0 {
		attrs = append(attrs, "details", e.Details.Error())
	}
	if e.Cause != nil {
		attrs = append(attrs, "error", e.Cause)
	}
	if e.Status >= 500 {
		logger.Error("submission failed", attrs...)
	} else {
		logger.Info("submission rejected", attrs...)
	}

	now := p.now()
	resp := errorResponse(e, now)
	if e.Stage == StageRateLimit {
		resp.Headers = map[string]string{
			"Retry-After": strconv.Itoa(int(decision.RetryAfter(now) / time.Second)),
		}
		if !decision.ResetAt.IsZero() {
			resp.Headers["X-RateLimit-Reset"] = strconv.FormatInt(decision.ResetAt.Unix(), 10)
		}
	}
	return resp
}
