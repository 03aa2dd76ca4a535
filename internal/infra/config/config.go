// Package config loads typed settings from the environment and an optional
// config file, resolves secrets once at startup, and exposes embedded
// operational defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the full settings tree. All options are environment-backed with
// the DOCGEN_ prefix (nested keys joined with underscores).
type Config struct {
	Env    string       `mapstructure:"env"`
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`

	Salesforce  SalesforceConfig  `mapstructure:"salesforce"`
	Conversion  ConversionConfig  `mapstructure:"conversion"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Poller      PollerConfig      `mapstructure:"poller"`
	Merge       MergeConfig       `mapstructure:"merge"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port             int `mapstructure:"port"`
	BodyLimitBytes   int `mapstructure:"bodyLimitBytes"`
	ShutdownGraceSec int `mapstructure:"shutdownGraceSec"`
}

func (c *ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// AuthConfig holds inbound token validation targets.
type AuthConfig struct {
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
	JwksURI  string `mapstructure:"jwksUri"`

	// BypassDevelopment disables inbound validation. Honored only when
	// env=development; Load rejects it anywhere else.
	BypassDevelopment bool `mapstructure:"bypassDevelopment"`
}

// SalesforceConfig holds outbound record-store auth. PrivateKey is a secret
// reference resolved at load; the resolved PEM is never logged.
type SalesforceConfig struct {
	Domain     string `mapstructure:"domain"`
	ClientID   string `mapstructure:"clientId"`
	Username   string `mapstructure:"username"`
	PrivateKey string `mapstructure:"privateKey"`
	APIVersion string `mapstructure:"apiVersion"`
}

// ConversionConfig bounds the external converter pool.
type ConversionConfig struct {
	BinPath       string `mapstructure:"binPath"`
	TimeoutMs     int    `mapstructure:"timeoutMs"`
	Workdir       string `mapstructure:"workdir"`
	MaxConcurrent int    `mapstructure:"maxConcurrent"`
}

func (c *ConversionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheConfig bounds the template cache.
type CacheConfig struct {
	MaxBytes int64 `mapstructure:"maxBytes"`
}

// PollerConfig tunes the queue drain loop against the record store's API
// budget.
type PollerConfig struct {
	ActiveIntervalMs int `mapstructure:"activeIntervalMs"`
	IdleIntervalMs   int `mapstructure:"idleIntervalMs"`
	BatchSize        int `mapstructure:"batchSize"`
	LockTtlMs        int `mapstructure:"lockTtlMs"`
	MaxAttempts      int `mapstructure:"maxAttempts"`
	DrainGraceSec    int `mapstructure:"drainGraceSec"`
}

func (c *PollerConfig) ActiveInterval() time.Duration {
	return time.Duration(c.ActiveIntervalMs) * time.Millisecond
}

func (c *PollerConfig) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMs) * time.Millisecond
}

func (c *PollerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTtlMs) * time.Millisecond
}

func (c *PollerConfig) DrainGrace() time.Duration {
	return time.Duration(c.DrainGraceSec) * time.Second
}

// MergeConfig holds merge-engine limits.
type MergeConfig struct {
	// ImageAllowlist is the comma-separated host allowlist for external
	// image URLs in templates.
	ImageAllowlist string `mapstructure:"imageAllowlist"`

	ExpressionTimeoutMs int `mapstructure:"expressionTimeoutMs"`
}

func (c *MergeConfig) AllowedImageHosts() []string {
	if strings.TrimSpace(c.ImageAllowlist) == "" {
		return nil
	}
	parts := strings.Split(c.ImageAllowlist, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.ToLower(strings.TrimSpace(p)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func (c *MergeConfig) ExpressionTimeout() time.Duration {
	return time.Duration(c.ExpressionTimeoutMs) * time.Millisecond
}

// IdempotencyConfig bounds artifact reuse.
type IdempotencyConfig struct {
	WindowHours int `mapstructure:"windowHours"`
}

func (c *IdempotencyConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// Load reads settings, applies defaults, resolves secrets, and validates.
func Load(secrets SecretProvider) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docgen")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.resolveSecrets(secrets); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvProduction)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.bodyLimitBytes", 2<<20)
	v.SetDefault("server.shutdownGraceSec", 30)

	// Keys without a meaningful default still need registering so
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.jwksUri", "")
	v.SetDefault("auth.bypassDevelopment", false)

	v.SetDefault("salesforce.domain", "")
	v.SetDefault("salesforce.clientId", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.privateKey", "")
	v.SetDefault("salesforce.apiVersion", "v59.0")

	v.SetDefault("conversion.binPath", "soffice")
	v.SetDefault("conversion.timeoutMs", 60000)
	v.SetDefault("conversion.workdir", "/tmp")
	v.SetDefault("conversion.maxConcurrent", 8)

	v.SetDefault("cache.maxBytes", int64(500)<<20)

	v.SetDefault("poller.activeIntervalMs", 15000)
	v.SetDefault("poller.idleIntervalMs", 60000)
	v.SetDefault("poller.batchSize", 20)
	v.SetDefault("poller.lockTtlMs", 120000)
	v.SetDefault("poller.maxAttempts", 3)
	v.SetDefault("poller.drainGraceSec", 60)

	v.SetDefault("merge.imageAllowlist", "")
	v.SetDefault("merge.expressionTimeoutMs", 1000)

	v.SetDefault("idempotency.windowHours", 24)
}

func (c *Config) resolveSecrets(secrets SecretProvider) error {
	if secrets == nil {
		return nil
	}
	resolved, err := ResolveSecret(secrets, c.Salesforce.PrivateKey)
	if err != nil {
		return fmt.Errorf("resolving salesforce private key: %w", err)
	}
	c.Salesforce.PrivateKey = resolved
	return nil
}

func (c *Config) validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("unknown env %q", c.Env)
	}

	// The bypass flag must be impossible to enable outside development,
	// regardless of how the config was assembled.
	if c.Auth.BypassDevelopment && c.Env != EnvDevelopment {
		return fmt.Errorf("auth.bypassDevelopment is only valid with env=%s", EnvDevelopment)
	}
	if !c.Auth.BypassDevelopment {
		if c.Auth.Issuer == "" || c.Auth.Audience == "" || c.Auth.JwksURI == "" {
			return fmt.Errorf("auth.issuer, auth.audience and auth.jwksUri are required")
		}
	}

	if c.Salesforce.Domain == "" || c.Salesforce.ClientID == "" || c.Salesforce.Username == "" {
		return fmt.Errorf("salesforce.domain, salesforce.clientId and salesforce.username are required")
	}
	if c.Conversion.MaxConcurrent < 1 {
		return fmt.Errorf("conversion.maxConcurrent must be at least 1")
	}
	if c.Poller.BatchSize < 1 || c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("poller.batchSize and poller.maxAttempts must be at least 1")
	}
	if c.Cache.MaxBytes < 1 {
		return fmt.Errorf("cache.maxBytes must be positive")
	}
	return nil
}
