package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shineum/form-relay/internal/ratelimit"
)

var allEnvVars = []string{
	"HTTP_LISTEN", "HTTP_MAX_BODY_BYTES", "CORS_ALLOWED_ORIGINS", "TRUST_PROXY_HEADERS",
	"THROTTLE_RPS", "THROTTLE_BURST", "API_KEY",
	"SUBJECT_MAX_LENGTH", "MESSAGE_MIN_LENGTH", "MESSAGE_MAX_LENGTH",
	"BANNED_WORDS", "ALLOWED_EMAIL_DOMAINS", "BLOCKED_EMAIL_DOMAINS", "BLOCKED_EMAIL_ADDRESSES",
	"ATTACHMENTS_ENABLED", "ATTACHMENTS_MAX_FILE_SIZE_BYTES",
	"ATTACHMENTS_ALLOWED_MIME_TYPES", "ATTACHMENTS_BLOCKED_MIME_TYPES",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_FAILURE_MODE", "RATE_LIMIT_STORE", "RATE_LIMIT_NAMESPACE",
	"RATE_LIMIT_GLOBAL_ENABLED", "RATE_LIMIT_GLOBAL_LIMIT", "RATE_LIMIT_GLOBAL_WINDOW_SECONDS",
	"RATE_LIMIT_IP_ENABLED", "RATE_LIMIT_IP_LIMIT", "RATE_LIMIT_IP_WINDOW_SECONDS",
	"RATE_LIMIT_EMAIL_ENABLED", "RATE_LIMIT_EMAIL_LIMIT", "RATE_LIMIT_EMAIL_WINDOW_SECONDS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"RECIPIENT_EMAIL", "SENDER_EMAIL", "SENDER_NAME",
	"AUTO_REPLY_ENABLED", "AUTO_REPLY_SUBJECT", "AUTO_REPLY_MESSAGE",
	"PROVIDER", "SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_CONFIGURATION_SET",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Mail.Recipient = "inbox@example.com"
	cfg.Mail.Sender = "noreply@example.com"
	return cfg
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":8080")
	}
	if cfg.HTTP.MaxBodyBytes <= cfg.Attachments.MaxFileSizeBytes {
		t.Errorf("HTTP.MaxBodyBytes: got %d, want more than the attachment limit %d",
			cfg.HTTP.MaxBodyBytes, cfg.Attachments.MaxFileSizeBytes)
	}
	if cfg.Validation.SubjectMaxLength != 200 {
		t.Errorf("Validation.SubjectMaxLength: got %d, want %d", cfg.Validation.SubjectMaxLength, 200)
	}
	if cfg.Validation.MessageMinLength != 10 {
		t.Errorf("Validation.MessageMinLength: got %d, want %d", cfg.Validation.MessageMinLength, 10)
	}
	if cfg.Validation.MessageMaxLength != 5000 {
		t.Errorf("Validation.MessageMaxLength: got %d, want %d", cfg.Validation.MessageMaxLength, 5000)
	}
	if cfg.Attachments.Enabled {
		t.Error("Attachments.Enabled: got true, want false")
	}
	if cfg.Attachments.MaxFileSizeBytes != 10485760 {
		t.Errorf("Attachments.MaxFileSizeBytes: got %d, want %d", cfg.Attachments.MaxFileSizeBytes, 10485760)
	}
	if cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled: got true, want false")
	}
	if cfg.RateLimit.FailureMode != "open" {
		t.Errorf("RateLimit.FailureMode: got %q, want %q", cfg.RateLimit.FailureMode, "open")
	}
	if cfg.RateLimit.Store != "redis" {
		t.Errorf("RateLimit.Store: got %q, want %q", cfg.RateLimit.Store, "redis")
	}
	if cfg.RateLimit.Namespace != "ratelimit" {
		t.Errorf("RateLimit.Namespace: got %q, want %q", cfg.RateLimit.Namespace, "ratelimit")
	}
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled(): got true, want false")
	}
	if cfg.Provider != "" {
		t.Errorf("Provider: got %q, want empty", cfg.Provider)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("SMTP.Port: got %d, want %d", cfg.SMTP.Port, 587)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "s3cret")
	t.Setenv("BANNED_WORDS", "spam; casino;;")
	t.Setenv("ALLOWED_EMAIL_DOMAINS", "company.com, partner.org")
	t.Setenv("BLOCKED_EMAIL_ADDRESSES", "bad@example.com;worse@example.com")
	t.Setenv("ATTACHMENTS_ENABLED", "true")
	t.Setenv("ATTACHMENTS_MAX_FILE_SIZE_BYTES", "1048576")
	t.Setenv("ATTACHMENTS_ALLOWED_MIME_TYPES", "application/pdf,image/png")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_FAILURE_MODE", "closed")
	t.Setenv("RATE_LIMIT_STORE", "Memory")
	t.Setenv("RATE_LIMIT_IP_ENABLED", "1")
	t.Setenv("RATE_LIMIT_IP_LIMIT", "3")
	t.Setenv("RATE_LIMIT_IP_WINDOW_SECONDS", "60")
	t.Setenv("SUBJECT_MAX_LENGTH", "120")
	t.Setenv("RECIPIENT_EMAIL", "inbox@example.com")
	t.Setenv("SENDER_EMAIL", "noreply@example.com")
	t.Setenv("SENDER_NAME", "Website")
	t.Setenv("AUTO_REPLY_ENABLED", "true")
	t.Setenv("PROVIDER", "SES")
	t.Setenv("SES_REGION", "us-east-1")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://example.com")
	t.Setenv("THROTTLE_RPS", "0.5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Auth.APIKey != "s3cret" {
		t.Errorf("Auth.APIKey: got %q, want %q", cfg.Auth.APIKey, "s3cret")
	}
	if want := []string{"spam", "casino"}; !reflect.DeepEqual(cfg.Filters.BannedWords, want) {
		t.Errorf("Filters.BannedWords: got %v, want %v", cfg.Filters.BannedWords, want)
	}
	if want := []string{"company.com", "partner.org"}; !reflect.DeepEqual(cfg.Filters.AllowedDomains, want) {
		t.Errorf("Filters.AllowedDomains: got %v, want %v", cfg.Filters.AllowedDomains, want)
	}
	if len(cfg.Filters.BlockedAddresses) != 2 {
		t.Errorf("Filters.BlockedAddresses: got %v, want 2 entries", cfg.Filters.BlockedAddresses)
	}
	if !cfg.Attachments.Enabled || cfg.Attachments.MaxFileSizeBytes != 1048576 {
		t.Errorf("Attachments: got %+v", cfg.Attachments)
	}
	if cfg.RateLimit.Store != "memory" {
		t.Errorf("RateLimit.Store: got %q, want %q", cfg.RateLimit.Store, "memory")
	}
	if want := (RateLimitDimension{Enabled: true, Limit: 3, WindowSeconds: 60}); cfg.RateLimit.IP != want {
		t.Errorf("RateLimit.IP: got %+v, want %+v", cfg.RateLimit.IP, want)
	}
	if cfg.Validation.SubjectMaxLength != 120 {
		t.Errorf("Validation.SubjectMaxLength: got %d, want %d", cfg.Validation.SubjectMaxLength, 120)
	}
	if cfg.Mail.SenderName != "Website" {
		t.Errorf("Mail.SenderName: got %q, want %q", cfg.Mail.SenderName, "Website")
	}
	if !cfg.AutoReply.Enabled {
		t.Error("AutoReply.Enabled: got false, want true")
	}
	if cfg.Provider != "ses" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "ses")
	}
	if cfg.HTTP.ThrottleRPS != 0.5 {
		t.Errorf("HTTP.ThrottleRPS: got %v, want %v", cfg.HTTP.ThrottleRPS, 0.5)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(): unexpected error: %v", err)
	}
}

func TestLoad_MalformedEnvVar(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_IP_LIMIT", "ten")
	t.Setenv("ATTACHMENTS_ENABLED", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for malformed values, got nil")
	}
	for _, key := range []string{"RATE_LIMIT_IP_LIMIT", "ATTACHMENTS_ENABLED"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	yamlContent := `
http:
  listen: ":3080"
  cors_allowed_origins: ["https://example.com"]
filters:
  banned_words: ["casino"]
  blocked_email_domains: ["spam.io"]
rate_limit:
  enabled: true
  store: memory
  email:
    enabled: true
    limit: 2
    window_seconds: 600
mail:
  recipient: "yaml-inbox@example.com"
  sender: "yaml@example.com"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Clear env vars to ensure YAML values come through
	clearEnv(t)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":3080" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":3080")
	}
	if len(cfg.Filters.BlockedDomains) != 1 || cfg.Filters.BlockedDomains[0] != "spam.io" {
		t.Errorf("Filters.BlockedDomains: got %v", cfg.Filters.BlockedDomains)
	}
	if !cfg.RateLimitActive() {
		t.Error("RateLimitActive(): got false, want true")
	}
	// Unset YAML keys keep their defaults.
	if cfg.RateLimit.IP.Limit != 10 {
		t.Errorf("RateLimit.IP.Limit: got %d, want default %d", cfg.RateLimit.IP.Limit, 10)
	}
	if cfg.Mail.Recipient != "yaml-inbox@example.com" {
		t.Errorf("Mail.Recipient: got %q, want %q", cfg.Mail.Recipient, "yaml-inbox@example.com")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	yamlContent := `
http:
  listen: ":3080"
auth:
  api_key: "yaml-key"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	clearEnv(t)
	t.Setenv("HTTP_LISTEN", ":9080")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env var should override YAML
	if cfg.HTTP.Listen != ":9080" {
		t.Errorf("HTTP.Listen: got %q, want %q (env should override YAML)", cfg.HTTP.Listen, ":9080")
	}
	// Empty env var should NOT override YAML value
	if cfg.Auth.APIKey != "yaml-key" {
		t.Errorf("Auth.APIKey: got %q, want %q (empty env should not override YAML)", cfg.Auth.APIKey, "yaml-key")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.Validation.MessageMinLength = 100; c.Validation.MessageMaxLength = 50 },
			wantErr: "MESSAGE_MIN_LENGTH",
		},
		{
			name:   "min equals max",
			mutate: func(c *Config) { c.Validation.MessageMinLength = 50; c.Validation.MessageMaxLength = 50 },
		},
		{
			name: "enabled dimension without limit",
			mutate: func(c *Config) {
				c.RateLimit.Global = RateLimitDimension{Enabled: true, Limit: 0, WindowSeconds: 60}
			},
			wantErr: "global limit",
		},
		{
			name: "enabled dimension without window",
			mutate: func(c *Config) {
				c.RateLimit.Email = RateLimitDimension{Enabled: true, Limit: 5, WindowSeconds: 0}
			},
			wantErr: "email window",
		},
		{
			name:   "disabled dimension is not checked",
			mutate: func(c *Config) { c.RateLimit.Global = RateLimitDimension{} },
		},
		{
			name:    "unknown failure mode",
			mutate:  func(c *Config) { c.RateLimit.FailureMode = "sometimes" },
			wantErr: "failure mode",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.RateLimit.Store = "memcached" },
			wantErr: "rate limit store",
		},
		{
			name: "redis store without address",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.IP.Enabled = true
			},
			wantErr: "REDIS_ADDR",
		},
		{
			name: "memory store needs no address",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.IP.Enabled = true
				c.RateLimit.Store = "memory"
			},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "pigeon" },
			wantErr: "unknown provider",
		},
		{
			name:    "missing recipient",
			mutate:  func(c *Config) { c.Mail.Recipient = "" },
			wantErr: "RECIPIENT_EMAIL",
		},
		{
			name:    "throttle without burst",
			mutate:  func(c *Config) { c.HTTP.ThrottleRPS = 1; c.HTTP.ThrottleBurst = 0 },
			wantErr: "throttle",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate(): unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate(): got nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate(): error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(): got %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitSettings(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.RateLimit.FailureMode = "CLOSED"
	cfg.RateLimit.Namespace = "relay"
	cfg.RateLimit.Email = RateLimitDimension{Enabled: true, Limit: 5, WindowSeconds: 3600}

	rl, err := cfg.RateLimitSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rl.FailureMode != ratelimit.FailClosed {
		t.Errorf("FailureMode: got %q, want %q", rl.FailureMode, ratelimit.FailClosed)
	}
	if rl.Namespace != "relay" {
		t.Errorf("Namespace: got %q, want %q", rl.Namespace, "relay")
	}
	want := ratelimit.DimensionConfig{Enabled: true, Limit: 5, Window: time.Hour}
	if rl.Sender != want {
		t.Errorf("Sender: got %+v, want %+v", rl.Sender, want)
	}
	if rl.Identity.Enabled {
		t.Error("Identity.Enabled: got true, want false")
	}
}

func TestConverters(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Auth.APIKey = "k"
	cfg.AutoReply.Enabled = true
	cfg.Attachments.Enabled = true
	cfg.Attachments.BlockedMIMETypes = []string{"application/zip"}
	cfg.Filters.BannedWords = []string{"casino"}
	cfg.Validation.MessageMinLength = 20

	opts := cfg.PipelineOptions()
	if opts.APIKey != "k" || !opts.AutoReplyEnabled {
		t.Errorf("PipelineOptions(): got %+v", opts)
	}

	f := cfg.FilterSettings()
	if !f.AttachmentsEnabled || f.MaxAttachmentBytes != cfg.Attachments.MaxFileSizeBytes {
		t.Errorf("FilterSettings(): attachments got %+v", f)
	}
	if !reflect.DeepEqual(f.BlockedMIMETypes, []string{"application/zip"}) || !reflect.DeepEqual(f.BannedWords, []string{"casino"}) {
		t.Errorf("FilterSettings(): lists got %+v", f)
	}

	if got := cfg.ValidationLimits().MessageMinLength; got != 20 {
		t.Errorf("ValidationLimits().MessageMinLength: got %d, want %d", got, 20)
	}
}

func TestProviderDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   Config
		ses   bool
		graph bool
		smtp  bool
	}{
		{name: "none set", cfg: Config{}},
		{name: "ses region", cfg: Config{SES: SESConfig{Region: "us-east-1"}}, ses: true},
		{
			name:  "graph complete",
			cfg:   Config{Graph: GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}},
			graph: true,
		},
		{name: "graph missing secret", cfg: Config{Graph: GraphConfig{TenantID: "t", ClientID: "c"}}},
		{name: "smtp host", cfg: Config{SMTP: SMTPConfig{Host: "mail.example.com"}}, smtp: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.SESConfigured(); got != tt.ses {
				t.Errorf("SESConfigured(): got %v, want %v", got, tt.ses)
			}
			if got := tt.cfg.GraphConfigured(); got != tt.graph {
				t.Errorf("GraphConfigured(): got %v, want %v", got, tt.graph)
			}
			if got := tt.cfg.SMTPConfigured(); got != tt.smtp {
				t.Errorf("SMTPConfigured(): got %v, want %v", got, tt.smtp)
			}
		})
	}
}
