// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the form relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/form-relay/internal/filter"
	"github.com/shineum/form-relay/internal/pipeline"
	"github.com/shineum/form-relay/internal/ratelimit"
	"github.com/shineum/form-relay/internal/validate"
)

const (
	defaultMaxAttachmentBytes = 10 * 1024 * 1024
	// base64 inflates by 4/3; the rest is JSON framing and text fields.
	defaultMaxBodyBytes = defaultMaxAttachmentBytes*4/3 + 64*1024
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Validation  ValidationConfig  `yaml:"validation"`
	Filters     FiltersConfig     `yaml:"filters"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Redis       RedisConfig       `yaml:"redis"`
	Mail        MailConfig        `yaml:"mail"`
	AutoReply   AutoReplyConfig   `yaml:"auto_reply"`
	Provider    string            `yaml:"provider"`
	SES         SESConfig         `yaml:"ses"`
	Graph       GraphConfig       `yaml:"graph"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	TLS         TLSConfig         `yaml:"tls"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig holds the HTTP listener configuration.
type HTTPConfig struct {
	Listen             string   `yaml:"listen"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	TrustProxyHeaders  bool     `yaml:"trust_proxy_headers"`

	// ThrottleRPS enables the per-client token bucket when positive.
	ThrottleRPS   float64 `yaml:"throttle_rps"`
	ThrottleBurst int     `yaml:"throttle_burst"`
}

// AuthConfig holds the shared API key. Empty disables authentication.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// ValidationConfig holds the free-text length limits.
type ValidationConfig struct {
	SubjectMaxLength int `yaml:"subject_max_length"`
	MessageMinLength int `yaml:"message_min_length"`
	MessageMaxLength int `yaml:"message_max_length"`
}

// FiltersConfig holds the content and sender filters.
type FiltersConfig struct {
	BannedWords      []string `yaml:"banned_words"`
	AllowedDomains   []string `yaml:"allowed_email_domains"`
	BlockedDomains   []string `yaml:"blocked_email_domains"`
	BlockedAddresses []string `yaml:"blocked_email_addresses"`
}

// AttachmentsConfig holds the attachment policy.
type AttachmentsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`
	BlockedMIMETypes []string `yaml:"blocked_mime_types"`
}

// RateLimitConfig holds the limiter configuration.
type RateLimitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	FailureMode string `yaml:"failure_mode"`

	// Store is "redis" or "memory".
	Store     string `yaml:"store"`
	Namespace string `yaml:"namespace"`

	Global RateLimitDimension `yaml:"global"`
	IP     RateLimitDimension `yaml:"ip"`
	Email  RateLimitDimension `yaml:"email"`
}

// RateLimitDimension configures one limiter dimension.
type RateLimitDimension struct {
	Enabled       bool `yaml:"enabled"`
	Limit         int  `yaml:"limit"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// RedisConfig holds the shared counter store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailConfig holds the addresses used for every outbound message.
type MailConfig struct {
	Recipient  string `yaml:"recipient"`
	Sender     string `yaml:"sender"`
	SenderName string `yaml:"sender_name"`
}

// AutoReplyConfig holds the submitter acknowledgement settings.
type AutoReplyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
	Message string `yaml:"message"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// SMTPConfig holds the upstream SMTP submission server.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig holds the HTTPS settings. With Enabled and no files, a
// self-signed certificate is generated.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.Validation.SubjectMaxLength <= 0 {
		return fmt.Errorf("%w: SUBJECT_MAX_LENGTH must be positive", ErrInvalid)
	}
	if c.Validation.MessageMinLength <= 0 || c.Validation.MessageMaxLength <= 0 {
		return fmt.Errorf("%w: message length limits must be positive", ErrInvalid)
	}
	if c.Validation.MessageMinLength > c.Validation.MessageMaxLength {
		return fmt.Errorf("%w: MESSAGE_MIN_LENGTH (%d) exceeds MESSAGE_MAX_LENGTH (%d)",
			ErrInvalid, c.Validation.MessageMinLength, c.Validation.MessageMaxLength)
	}
	if c.Attachments.Enabled && c.Attachments.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("%w: ATTACHMENTS_MAX_FILE_SIZE_BYTES must be positive", ErrInvalid)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: HTTP_MAX_BODY_BYTES must be positive", ErrInvalid)
	}
	if c.HTTP.ThrottleRPS < 0 || (c.HTTP.ThrottleRPS > 0 && c.HTTP.ThrottleBurst <= 0) {
		return fmt.Errorf("%w: throttle needs a positive rate and burst", ErrInvalid)
	}

	rl, err := c.RateLimitSettings()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := rl.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.RateLimit.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("%w: unknown rate limit store %q", ErrInvalid, c.RateLimit.Store)
	}
	if c.RateLimitActive() && c.RateLimit.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required for the redis rate limit store", ErrInvalid)
	}

	switch c.Provider {
	case "", "ses", "graph", "smtp", "stdout":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalid, c.Provider)
	}
	if c.Mail.Recipient == "" {
		return fmt.Errorf("%w: RECIPIENT_EMAIL is required", ErrInvalid)
	}
	if c.Mail.Sender == "" {
		return fmt.Errorf("%w: SENDER_EMAIL is required", ErrInvalid)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}

// SESConfigured returns true if a region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// SMTPConfigured returns true if an upstream SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// AuthEnabled returns true if an API key is configured.
func (c *Config) AuthEnabled() bool {
	return c.Auth.APIKey != ""
}

// RateLimitActive returns true if rate limiting is switched on and at least
// one dimension is enabled.
func (c *Config) RateLimitActive() bool {
	return c.RateLimit.Enabled &&
		(c.RateLimit.Global.Enabled || c.RateLimit.IP.Enabled || c.RateLimit.Email.Enabled)
}

// ValidationLimits returns the validator limits.
func (c *Config) ValidationLimits() validate.Limits {
	return validate.Limits{
		SubjectMaxLength: c.Validation.SubjectMaxLength,
		MessageMinLength: c.Validation.MessageMinLength,
		MessageMaxLength: c.Validation.MessageMaxLength,
	}
}

// FilterSettings returns the filter configuration.
func (c *Config) FilterSettings() filter.Config {
	return filter.Config{
		BannedWords:        c.Filters.BannedWords,
		AllowedDomains:     c.Filters.AllowedDomains,
		BlockedDomains:     c.Filters.BlockedDomains,
		BlockedAddresses:   c.Filters.BlockedAddresses,
		AttachmentsEnabled: c.Attachments.Enabled,
		MaxAttachmentBytes: c.Attachments.MaxFileSizeBytes,
		AllowedMIMETypes:   c.Attachments.AllowedMIMETypes,
		BlockedMIMETypes:   c.Attachments.BlockedMIMETypes,
	}
}

// RateLimitSettings returns the limiter configuration.
func (c *Config) RateLimitSettings() (ratelimit.Config, error) {
	mode, err := ratelimit.ParseFailureMode(c.RateLimit.FailureMode)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{
		Global:      c.RateLimit.Global.settings(),
		Identity:    c.RateLimit.IP.settings(),
		Sender:      c.RateLimit.Email.settings(),
		FailureMode: mode,
		Namespace:   c.RateLimit.Namespace,
	}, nil
}

func (d RateLimitDimension) settings() ratelimit.DimensionConfig {
	return ratelimit.DimensionConfig{
		Enabled: d.Enabled,
		Limit:   d.Limit,
		Window:  time.Duration(d.WindowSeconds) * time.Second,
	}
}

// PipelineOptions returns the pipeline switches.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		APIKey:           c.Auth.APIKey,
		AutoReplyEnabled: c.AutoReply.Enabled,
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	limits := validate.DefaultLimits()

	c.HTTP.Listen = ":8080"
	c.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	c.HTTP.ThrottleBurst = 10
	c.Validation.SubjectMaxLength = limits.SubjectMaxLength
	c.Validation.MessageMinLength = limits.MessageMinLength
	c.Validation.MessageMaxLength = limits.MessageMaxLength
	c.Attachments.MaxFileSizeBytes = defaultMaxAttachmentBytes
	c.RateLimit.FailureMode = string(ratelimit.FailOpen)
	c.RateLimit.Store = "redis"
	c.RateLimit.Namespace = "ratelimit"
	c.RateLimit.Global = RateLimitDimension{Limit: 1000, WindowSeconds: 3600}
	c.RateLimit.IP = RateLimitDimension{Limit: 10, WindowSeconds: 3600}
	c.RateLimit.Email = RateLimitDimension{Limit: 5, WindowSeconds: 3600}
	c.SMTP.Port = 587
	c.Logging.Level = "info"
}

// env collects parse failures while overriding fields from the environment.
// Only non-empty environment variables override existing values.
type env struct {
	errs []error
}

func (e *env) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *env) list(key string, dst *[]string, parse func(string) []string) {
	if v := os.Getenv(key); v != "" {
		*dst = parse(v)
	}
}

func (e *env) boolean(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *env) integer(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *env) int64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *env) float(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *env) dimension(prefix string, d *RateLimitDimension) {
	e.boolean(prefix+"_ENABLED", &d.Enabled)
	e.integer(prefix+"_LIMIT", &d.Limit)
	e.integer(prefix+"_WINDOW_SECONDS", &d.WindowSeconds)
}

// applyEnvVars overrides configuration with environment variable values.
func (c *Config) applyEnvVars() error {
	e := &env{}

	e.str("HTTP_LISTEN", &c.HTTP.Listen)
	e.int64("HTTP_MAX_BODY_BYTES", &c.HTTP.MaxBodyBytes)
	e.list("CORS_ALLOWED_ORIGINS", &c.HTTP.CORSAllowedOrigins, filter.ParseList)
	e.boolean("TRUST_PROXY_HEADERS", &c.HTTP.TrustProxyHeaders)
	e.float("THROTTLE_RPS", &c.HTTP.ThrottleRPS)
	e.integer("THROTTLE_BURST", &c.HTTP.ThrottleBurst)

	e.str("API_KEY", &c.Auth.APIKey)

	e.integer("SUBJECT_MAX_LENGTH", &c.Validation.SubjectMaxLength)
	e.integer("MESSAGE_MIN_LENGTH", &c.Validation.MessageMinLength)
	e.integer("MESSAGE_MAX_LENGTH", &c.Validation.MessageMaxLength)

	e.list("BANNED_WORDS", &c.Filters.BannedWords, filter.ParseBannedWords)
	e.list("ALLOWED_EMAIL_DOMAINS", &c.Filters.AllowedDomains, filter.ParseList)
	e.list("BLOCKED_EMAIL_DOMAINS", &c.Filters.BlockedDomains, filter.ParseList)
	e.list("BLOCKED_EMAIL_ADDRESSES", &c.Filters.BlockedAddresses, filter.ParseList)

	e.boolean("ATTACHMENTS_ENABLED", &c.Attachments.Enabled)
	e.int64("ATTACHMENTS_MAX_FILE_SIZE_BYTES", &c.Attachments.MaxFileSizeBytes)
	e.list("ATTACHMENTS_ALLOWED_MIME_TYPES", &c.Attachments.AllowedMIMETypes, filter.ParseList)
	e.list("ATTACHMENTS_BLOCKED_MIME_TYPES", &c.Attachments.BlockedMIMETypes, filter.ParseList)

	e.boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	e.str("RATE_LIMIT_FAILURE_MODE", &c.RateLimit.FailureMode)
	e.str("RATE_LIMIT_STORE", &c.RateLimit.Store)
	e.str("RATE_LIMIT_NAMESPACE", &c.RateLimit.Namespace)
	e.dimension("RATE_LIMIT_GLOBAL", &c.RateLimit.Global)
	e.dimension("RATE_LIMIT_IP", &c.RateLimit.IP)
	e.dimension("RATE_LIMIT_EMAIL", &c.RateLimit.Email)

	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.integer("REDIS_DB", &c.Redis.DB)

	e.str("RECIPIENT_EMAIL", &c.Mail.Recipient)
	e.str("SENDER_EMAIL", &c.Mail.Sender)
	e.str("SENDER_NAME", &c.Mail.SenderName)

	e.boolean("AUTO_REPLY_ENABLED", &c.AutoReply.Enabled)
	e.str("AUTO_REPLY_SUBJECT", &c.AutoReply.Subject)
	e.str("AUTO_REPLY_MESSAGE", &c.AutoReply.Message)

	e.str("PROVIDER", &c.Provider)
	e.str("SES_REGION", &c.SES.Region)
	e.str("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	e.str("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	e.str("SES_CONFIGURATION_SET", &c.SES.ConfigurationSet)
	e.str("GRAPH_TENANT_ID", &c.Graph.TenantID)
	e.str("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	e.str("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	e.str("SMTP_HOST", &c.SMTP.Host)
	e.integer("SMTP_PORT", &c.SMTP.Port)
	e.str("SMTP_USERNAME", &c.SMTP.Username)
	e.str("SMTP_PASSWORD", &c.SMTP.Password)

	e.boolean("TLS_ENABLED", &c.TLS.Enabled)
	e.str("TLS_CERT_FILE", &c.TLS.CertFile)
	e.str("TLS_KEY_FILE", &c.TLS.KeyFile)

	e.str("LOG_LEVEL", &c.Logging.Level)

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.RateLimit.Store = strings.ToLower(strings.TrimSpace(c.RateLimit.Store))
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(e.errs...))
	}
	return nil
}
