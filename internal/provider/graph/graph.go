package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the app sends as.
	Sender     string
	SenderName string
}

// Provider sends emails via the Microsoft Graph API using OAuth2 client
// credentials.
type Provider struct {
	from       emailAddress
	sendURL    string
	httpClient *http.Client
	token      *tokenCache
	retry      provider.Retry
}

// New creates a Provider against the public Graph endpoints.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	sendURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithEndpoints(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithEndpoints(cfg Config, sendURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		from:       emailAddress{Address: cfg.Sender, Name: cfg.SenderName},
		sendURL:    sendURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retry:      provider.DefaultRetry,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// Send delivers msg. Transient failures (5xx, 429, network) are retried
// with backoff, honouring Retry-After on 429. A 401 triggers one token
// refresh and an immediate retry.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(buildSendMailRequest(p.from, msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		err := p.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *sendError
		if !errors.As(err, &se) {
			return err
		}

		var delay time.Duration
		switch {
		case se.statusCode == http.StatusUnauthorized && !refreshed:
			slog.Info("refreshing Graph API token after 401")
			p.token.Invalidate()
			refreshed = true
			continue
		case se.statusCode == http.StatusTooManyRequests:
			delay = retryAfter(se.retryAfter, p.retry.Delay(attempt+1))
			slog.Info("rate limited by Graph API", "retry_after", delay)
		case se.transient:
			delay = p.retry.Delay(attempt + 1)
			slog.Info("transient Graph API error, retrying",
				"status", se.statusCode,
				"delay", delay,
			)
		default:
			return se
		}

		if attempt == p.retry.MaxRetries {
			break
		}
		if err := provider.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return fmt.Errorf("graph API request failed after %d retries: %w", p.retry.MaxRetries, lastErr)
}

func (p *Provider) post(ctx context.Context, payload []byte) error {
	token, err := p.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: err.Error(), transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	message := string(body)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		message = er.Error.Message
	}
	return classifyError(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// sendError is a Graph API failure classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	return &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
		transient: statusCode == http.StatusUnauthorized ||
			statusCode == http.StatusTooManyRequests ||
			statusCode >= 500,
	}
}

// retryAfter parses a Retry-After seconds value, falling back when absent
// or malformed.
func retryAfter(header string, fallback time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
