// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"club-membership-gateway/internal/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultMinAmount is the gateway's smallest accepted charge in minor units.
const DefaultMinAmount int64 = 100

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port" validate:"gte=1,lte=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	APIKey       string        `yaml:"api_key"`
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	BaseURL             string        `yaml:"base_url" validate:"omitempty,url"`
	TerminalKey         string        `yaml:"terminal_key"`
	Password            string        `yaml:"password"`
	Timeout             time.Duration `yaml:"timeout"`
	MinAmount           int64         `yaml:"min_amount" validate:"gte=1"`
	SuccessURL          string        `yaml:"success_url" validate:"omitempty,url"`
	FailURL             string        `yaml:"fail_url" validate:"omitempty,url"`
	NotificationURL     string        `yaml:"notification_url" validate:"omitempty,url"`
	VerifyNotifications bool          `yaml:"verify_notifications"`
}

type MembershipConfig struct {
	Fee         int64  `yaml:"fee" validate:"gte=1"` // minor units
	Description string `yaml:"description"`
}

type OrderIDConfig struct {
	SuffixDigits int `yaml:"suffix_digits" validate:"gte=1,lte=18"`
}

type CredentialsConfig struct {
	PasswordLength int    `yaml:"password_length" validate:"gte=8,lte=64"`
	ArgonMemoryKB  uint32 `yaml:"argon_memory_kb"`
	ArgonTime      uint32 `yaml:"argon_time"`
	ArgonThreads   uint8  `yaml:"argon_threads"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
	FromName string `yaml:"from_name"`
	Locale   string `yaml:"locale" validate:"omitempty,oneof=en ru"`
}

// RetryConfig drives the inbox and mail outbox sweepers.
type RetryConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	Workers      int           `yaml:"workers"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type AlertsConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type RateLimitConfig struct {
	Purchases int           `yaml:"purchases"`
	Window    time.Duration `yaml:"window"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Admin       AdminConfig       `yaml:"admin"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Membership  MembershipConfig  `yaml:"membership"`
	OrderID     OrderIDConfig     `yaml:"order_id"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Security    SecurityConfig    `yaml:"security"`
	Mail        MailConfig        `yaml:"mail"`
	Inbox       RetryConfig       `yaml:"inbox"`
	MailRetry   RetryConfig       `yaml:"mail_retry"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.SessionTTL <= 0 {
		c.Admin.SessionTTL = 30 * time.Minute
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://securepay.tinkoff.ru/v2"
	}
	c.Gateway.BaseURL = strings.TrimRight(c.Gateway.BaseURL, "/")
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.Gateway.MinAmount <= 0 {
		c.Gateway.MinAmount = DefaultMinAmount
	}
	if c.Membership.Fee <= 0 {
		c.Membership.Fee = 100000
	}
	if c.Membership.Description == "" {
		c.Membership.Description = "Club membership fee"
	}
	if c.OrderID.SuffixDigits <= 0 {
		c.OrderID.SuffixDigits = 3
	}
	if c.Credentials.PasswordLength <= 0 {
		c.Credentials.PasswordLength = 12
	}
	if c.Mail.Locale == "" {
		c.Mail.Locale = "en"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	c.Inbox = normalizeRetry(c.Inbox)
	c.MailRetry = normalizeRetry(c.MailRetry)
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 5 * time.Minute
	}
	if c.Reconciler.StaleAfter <= 0 {
		c.Reconciler.StaleAfter = 30 * time.Minute
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 100
	}
	if c.RateLimit.Purchases <= 0 {
		c.RateLimit.Purchases = 5
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
}

func normalizeRetry(r RetryConfig) RetryConfig {
	if r.PollInterval <= 0 {
		r.PollInterval = 15 * time.Second
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 50
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 10
	}
	if r.BaseBackoff <= 0 {
		r.BaseBackoff = 5 * time.Second
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 30 * time.Minute
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}
	return r
}

var validate = validator.New()

// Validate fails fast on settings the service cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.TerminalKey) == "" {
		return &domain.ConfigurationError{Field: "gateway.terminal_key", Reason: "is required"}
	}
	if strings.TrimSpace(c.Gateway.Password) == "" {
		return &domain.ConfigurationError{Field: "gateway.password", Reason: "is required"}
	}
	if c.Database.URL == "" {
		return &domain.ConfigurationError{Field: "database.url", Reason: "is required"}
	}
	if n := len(c.Security.EncryptionKey); n != 16 && n != 24 && n != 32 && !c.Runtime.Dev {
		return &domain.ConfigurationError{Field: "security.encryption_key", Reason: "must be 16, 24 or 32 bytes"}
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ConfigurationError{Field: verrs[0].Namespace(), Reason: "failed " + verrs[0].Tag()}
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
