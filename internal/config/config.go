package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address, e.g. ":8080".
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL or SQLite DSN.
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`       // HMAC signing secret.
	ExpiryHours int    `yaml:"expiry-hours"` // Token lifetime in hours.
}

// Expiry returns the configured token lifetime.
func (c JWTConfig) Expiry() time.Duration {
	hours := c.ExpiryHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// TokenPack defines a purchasable token bundle.
type TokenPack struct {
	ID         string `yaml:"id"`          // Stable pack identifier.
	Name       string `yaml:"name"`        // Display name.
	Tokens     int64  `yaml:"tokens"`      // Tokens credited on purchase.
	PriceCents int64  `yaml:"price-cents"` // Price in USD cents.
}

// StripeConfig holds payment provider settings.
type StripeConfig struct {
	SecretKey     string      `yaml:"secret-key"`     // Stripe API secret key.
	WebhookSecret string      `yaml:"webhook-secret"` // Webhook signing secret.
	SuccessURL    string      `yaml:"success-url"`    // Checkout success redirect.
	CancelURL     string      `yaml:"cancel-url"`     // Checkout cancel redirect.
	Packs         []TokenPack `yaml:"packs"`          // Purchasable token packs.
}

// OpenAIConfig holds language-model provider settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api-key"`  // Provider API key.
	BaseURL string `yaml:"base-url"` // Optional API base URL override.
}

// TokensConfig holds entitlement caps for the deduction engine.
type TokensConfig struct {
	MonthlyFreeCap  int64 `yaml:"monthly-free-cap"`  // Free-tier tokens per month.
	DailyPremiumCap int64 `yaml:"daily-premium-cap"` // Premium-tier tokens per day.
}

// RedisConfig holds rate-limiter backend settings.
type RedisConfig struct {
	Addr             string `yaml:"addr"`                // Redis address, empty disables rate limiting.
	Password         string `yaml:"password"`            // Optional password.
	ChatPerMinute    int    `yaml:"chat-per-minute"`     // Chat sends allowed per user per minute.
	ChatBurstSeconds int    `yaml:"chat-window-seconds"` // Sliding window length in seconds.
}

// LogConfig holds process logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // logrus level name.
	File  string `yaml:"file"`  // Optional rotating log file path.
}

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Stripe   StripeConfig   `yaml:"stripe"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// Defaults applied when the file omits a value.
const (
	// DefaultAddr is the fallback listen address.
	DefaultAddr = ":8080"
	// DefaultMonthlyFreeCap is the free-tier monthly token allowance.
	DefaultMonthlyFreeCap = 10000
	// DefaultDailyPremiumCap is the premium-tier daily token allowance.
	DefaultDailyPremiumCap = 30000
)

// Load reads and validates a configuration file, applying env overrides.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: jwt.secret is required")
	}

	return &cfg, nil
}

// applyEnvOverrides lets environment variables override secrets from the file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SITESMITH_DB_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SITESMITH_JWT_SECRET")); v != "" {
		c.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")); v != "" {
		c.Stripe.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")); v != "" {
		c.Stripe.WebhookSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.OpenAI.APIKey = v
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Tokens.MonthlyFreeCap <= 0 {
		c.Tokens.MonthlyFreeCap = DefaultMonthlyFreeCap
	}
	if c.Tokens.DailyPremiumCap <= 0 {
		c.Tokens.DailyPremiumCap = DefaultDailyPremiumCap
	}
	if c.Redis.ChatPerMinute <= 0 {
		c.Redis.ChatPerMinute = 20
	}
	if c.Redis.ChatBurstSeconds <= 0 {
		c.Redis.ChatBurstSeconds = 60
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

// Pack returns the token pack with the given ID, or nil when absent.
func (c *StripeConfig) Pack(id string) *TokenPack {
	for i := range c.Packs {
		if c.Packs[i].ID == id {
			return &c.Packs[i]
		}
	}
	return nil
}
