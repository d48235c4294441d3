// Package main is the entry point for the contact-form relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shineum/form-relay/internal/config"
	"github.com/shineum/form-relay/internal/counter"
	"github.com/shineum/form-relay/internal/httpapi"
	"github.com/shineum/form-relay/internal/notifier"
	"github.com/shineum/form-relay/internal/pipeline"
	"github.com/shineum/form-relay/internal/provider"
	"github.com/shineum/form-relay/internal/provider/graph"
	"github.com/shineum/form-relay/internal/provider/ses"
	"github.com/shineum/form-relay/internal/provider/smtp"
	"github.com/shineum/form-relay/internal/provider/stdout"
	"github.com/shineum/form-relay/internal/ratelimit"
	relaytls "github.com/shineum/form-relay/internal/tls"
	"github.com/shineum/form-relay/internal/validate"
)

// drainTimeout bounds the wait for background increments and auto-replies
// after the listener has stopped.
const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("form-relay failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	limiter, health, closeStore, err := setupRateLimit(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mailer := notifier.New(prov, notifier.Config{
		Recipient:        cfg.Mail.Recipient,
		Sender:           cfg.Mail.Sender,
		AutoReplySubject: cfg.AutoReply.Subject,
		AutoReplyMessage: cfg.AutoReply.Message,
	}, logger)

	deps := pipeline.Deps{
		Validator: validate.New(cfg.ValidationLimits()),
		Filters:   cfg.FilterSettings(),
		Notifier:  mailer,
		Logger:    logger,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	p := pipeline.New(cfg.PipelineOptions(), deps)

	httpCfg := httpapi.Config{
		Listen:             cfg.HTTP.Listen,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		TrustProxyHeaders:  cfg.HTTP.TrustProxyHeaders,
		ThrottleRPS:        cfg.HTTP.ThrottleRPS,
		ThrottleBurst:      cfg.HTTP.ThrottleBurst,
	}
	tlsMode := "disabled"
	if cfg.TLS.Enabled {
		tlsConfig, source, err := relaytls.LoadOrGenerate(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		httpCfg.TLSConfig = tlsConfig
		tlsMode = string(source)
	}

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if health != nil {
		opts = append(opts, httpapi.WithHealthCheck(health))
	}
	server := httpapi.New(httpCfg, p, opts...)

	logger.Info("starting form-relay",
		"listen", cfg.HTTP.Listen,
		"provider", mailer.ProviderName(),
		"auth_enabled", cfg.AuthEnabled(),
		"rate_limit_enabled", limiter != nil,
		"attachments_enabled", cfg.Attachments.Enabled,
		"auto_reply_enabled", cfg.AutoReply.Enabled,
		"tls_mode", tlsMode,
	)

	// Blocks until a signal arrives
	serveErr := server.ListenAndServe(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := p.Drain(drainCtx); err != nil {
		logger.Warn("background tasks still running at exit", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("form-relay stopped")
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON slog logger at the given level as the process
// default and returns it.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// selectProvider chooses the email delivery backend. PROVIDER wins when set;
// otherwise Graph, SES and SMTP are tried in that order before stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case cfg.GraphConfigured():
			name = "graph"
		case cfg.SESConfigured():
			name = "ses"
		case cfg.SMTPConfigured():
			name = "smtp"
		default:
			name = "stdout"
		}
		slog.Info("provider auto-detected", "provider", name)
	}

	switch name {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION is required")
		}
		slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.Mail.Sender)
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.Mail.Sender,
			SenderName:       cfg.Mail.SenderName,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
		}
		slog.Info("using Microsoft Graph provider", "sender", cfg.Mail.Sender)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Mail.Sender,
			SenderName:   cfg.Mail.SenderName,
		}), nil

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("SMTP provider selected but SMTP_HOST is required")
		}
		slog.Info("using SMTP provider", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
		return smtp.New(smtp.Config{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			Sender:     cfg.Mail.Sender,
			SenderName: cfg.Mail.SenderName,
		}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(cfg.Mail.Sender, cfg.Mail.SenderName), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// setupRateLimit builds the limiter and its counter store. It returns a nil
// limiter when rate limiting is off, which makes the pipeline skip the
// check.
func setupRateLimit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ratelimit.Limiter, httpapi.HealthFunc, func(), error) {
	noop := func() {}
	if !cfg.RateLimitActive() {
		return nil, nil, noop, nil
	}

	rlCfg, err := cfg.RateLimitSettings()
	if err != nil {
		return nil, nil, noop, err
	}

	var (
		store  ratelimit.CounterStore
		health httpapi.HealthFunc
		closer = noop
	)
	switch cfg.RateLimit.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := counter.NewRedisStore(rdb)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			// The failure mode decides per request; startup proceeds.
			logger.Warn("redis unreachable at startup",
				"addr", cfg.Redis.Addr,
				"failure_mode", string(rlCfg.FailureMode),
				"error", err,
			)
		}

		store = rs
		// Failing open admits traffic while Redis is down, so only a
		// fail-closed deployment reports itself unhealthy.
		if rlCfg.FailureMode == ratelimit.FailClosed {
			health = rs.Ping
		}
		closer = func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}

	case "memory":
		ms := counter.NewMemoryStore()
		ms.StartJanitor(ctx)
		store = ms
		logger.Warn("using in-memory rate limit counters; limits are per instance")

	default:
		return nil, nil, noop, fmt.Errorf("unknown rate limit store %q", cfg.RateLimit.Store)
	}

	logger.Info("rate limiting enabled",
		"store", cfg.RateLimit.Store,
		"failure_mode", string(rlCfg.FailureMode),
		"global", rlCfg.Global.Enabled,
		"ip", rlCfg.Identity.Enabled,
		"email", rlCfg.Sender.Enabled,
	)
	return ratelimit.New(rlCfg, store, ratelimit.WithLogger(logger)), health, closer, nil
}
