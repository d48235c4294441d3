// Package smtp implements a Provider that relays messages to an SMTP
// submission server.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Sender is the envelope and header From address.
	Sender     string
	SenderName string
}

// SendMailFunc matches gosmtp.SendMail. STARTTLS is used when the server
// offers it.
type SendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Provider delivers messages over SMTP.
type Provider struct {
	addr     string
	sender   string
	from     string
	auth     sasl.Client
	sendMail SendMailFunc
	retry    provider.Retry
}

// New creates a Provider. PLAIN authentication is used when a username is
// configured.
func New(cfg Config) *Provider {
	return NewWithSendMail(cfg, gosmtp.SendMail)
}

// NewWithSendMail creates a Provider with a custom send function.
func NewWithSendMail(cfg Config, fn SendMailFunc) *Provider {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	return &Provider{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		sender:   cfg.Sender,
		from:     email.FormatAddress(cfg.SenderName, cfg.Sender),
		auth:     auth,
		sendMail: fn,
		retry:    provider.DefaultRetry,
	}
}

// WithRetry overrides the retry schedule.
func (p *Provider) WithRetry(r provider.Retry) *Provider {
	p.retry = r
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Send renders msg as MIME and submits it. 4xx replies and network errors
// are retried; 5xx replies fail immediately.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	raw, err := email.BuildRaw(p.from, msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := provider.Sleep(ctx, p.retry.Delay(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		err := p.submit(ctx, msg.To, raw)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("smtp submission aborted: %w", err)
		}
		if !transient(err) {
			return fmt.Errorf("smtp submission rejected: %w", err)
		}
		slog.Warn("SMTP submission error",
			"attempt", attempt,
			"addr", p.addr,
			"error", err,
		)
	}

	return fmt.Errorf("smtp submission failed after %d retries: %w", p.retry.MaxRetries, lastErr)
}

// submit runs one SendMail call. SendMail takes no context, so the call is
// abandoned (not interrupted) when ctx ends first.
func (p *Provider) submit(ctx context.Context, to []string, raw []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- p.sendMail(p.addr, p.auth, p.sender, to, bytes.NewReader(raw))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 400 && smtpErr.Code < 500
	}
	return true
}
