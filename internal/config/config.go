// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TenantConfig holds Graph credentials for a single tenant and the agent
// mailboxes read from it.
type TenantConfig struct {
	Alias        string   `yaml:"alias"`
	TenantID     string   `yaml:"tenant_id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Mailboxes    []string `yaml:"mailboxes"`
}

// StorageConfig selects and configures the blob storage backend.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // "minio" or "memory"
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SMTPConfig is the relay used for shadow deliveries.
type SMTPConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig controls the slog handler and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AgentConfig holds pipeline behaviour.
type AgentConfig struct {
	SystemAddresses   []string
	PlaceholderDomain string
	MaintenanceMode   bool
	Workers           int
	BatchInterval     time.Duration
	StorageTimeout    time.Duration
	StoreTimeout      time.Duration
	// MaxAttachmentMB rejects larger attachments before conversion.
	MaxAttachmentMB int
}

// Config holds all configuration for the intake agent.
type Config struct {
	Tenants []TenantConfig

	DatabaseURL string
	RedisURL    string
	OutboxQueue string

	Storage StorageConfig
	LLM     LLMConfig
	SMTP    SMTPConfig
	Log     LogConfig
	Agent   AgentConfig

	// DeliveryMode is "smtp" or "outbox".
	DeliveryMode string

	// Server (health + metrics)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Tenants  []TenantConfig `yaml:"tenants"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Outbox string `yaml:"outbox"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Storage  StorageConfig `yaml:"storage"`
	LLM      LLMConfig     `yaml:"llm"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Log      LogConfig     `yaml:"log"`
	Delivery struct {
		Mode string `yaml:"mode"`
	} `yaml:"delivery"`
	Agent struct {
		SystemAddresses   []string      `yaml:"system_addresses"`
		PlaceholderDomain string        `yaml:"placeholder_domain"`
		MaintenanceMode   bool          `yaml:"maintenance_mode"`
		Workers           int           `yaml:"workers"`
		BatchInterval     time.Duration `yaml:"batch_interval"`
		StorageTimeout    time.Duration `yaml:"storage_timeout"`
		StoreTimeout      time.Duration `yaml:"store_timeout"`
		MaxAttachmentMB   int           `yaml:"max_attachment_mb"`
	} `yaml:"agent"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		OutboxQueue:  firstNonEmpty(raw.Redis.Queues.Outbox, envOrDefault("OUTBOX_QUEUE", "shadow_outbox")),
		Storage:      raw.Storage,
		LLM:          raw.LLM,
		SMTP:         raw.SMTP,
		Log:          raw.Log,
		DeliveryMode: firstNonEmpty(raw.Delivery.Mode, envOrDefault("DELIVERY_MODE", "outbox")),
		Port:         envOrDefaultInt("PORT", 8080),
		Agent: AgentConfig{
			SystemAddresses:   raw.Agent.SystemAddresses,
			PlaceholderDomain: firstNonEmpty(raw.Agent.PlaceholderDomain, "pending.intake.local"),
			MaintenanceMode:   raw.Agent.MaintenanceMode || envOrDefault("MAINTENANCE_MODE", "") == "true",
			Workers:           raw.Agent.Workers,
			BatchInterval:     raw.Agent.BatchInterval,
			StorageTimeout:    raw.Agent.StorageTimeout,
			StoreTimeout:      raw.Agent.StoreTimeout,
			MaxAttachmentMB:   raw.Agent.MaxAttachmentMB,
		},
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = envOrDefault("STORAGE_DRIVER", "minio")
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "intake"
	}
	cfg.LLM.BaseURL = firstNonEmpty(cfg.LLM.BaseURL, envOrDefault("LLM_BASE_URL", ""))
	cfg.LLM.APIKey = firstNonEmpty(cfg.LLM.APIKey, envOrDefault("LLM_API_KEY", ""))
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = envOrDefaultDuration("LLM_TIMEOUT", 30*time.Second)
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.RatePerSec == 0 {
		cfg.LLM.RatePerSec = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = envOrDefault("LOG_LEVEL", "info")
	}
	if cfg.Agent.Workers <= 0 {
		cfg.Agent.Workers = 1
	}
	if cfg.Agent.BatchInterval == 0 {
		cfg.Agent.BatchInterval = envOrDefaultDuration("BATCH_INTERVAL", 5*time.Minute)
	}
	if cfg.Agent.StorageTimeout == 0 {
		cfg.Agent.StorageTimeout = 30 * time.Second
	}
	if cfg.Agent.StoreTimeout == 0 {
		cfg.Agent.StoreTimeout = 10 * time.Second
	}
	if cfg.Agent.MaxAttachmentMB <= 0 {
		cfg.Agent.MaxAttachmentMB = envOrDefaultInt("MAX_ATTACHMENT_MB", 10)
	}

	for _, t := range raw.Tenants {
		// Skip tenants with empty credentials (commented out in YAML)
		if t.TenantID == "" || t.ClientID == "" || t.ClientSecret == "" {
			continue
		}
		if t.Alias == "" {
			t.Alias = t.TenantID[:min(8, len(t.TenantID))]
		}
		cfg.Tenants = append(cfg.Tenants, t)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every run depends on.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	switch c.Storage.Driver {
	case "minio":
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for the minio driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.DeliveryMode {
	case "smtp":
		if c.SMTP.Addr == "" || c.SMTP.From == "" {
			return fmt.Errorf("smtp.addr and smtp.from are required for smtp delivery")
		}
	case "outbox":
	default:
		return fmt.Errorf("unknown delivery mode %q", c.DeliveryMode)
	}
	return nil
}

// Tenant returns the tenant with the given alias.
func (c *Config) Tenant(alias string) (TenantConfig, bool) {
	for _, t := range c.Tenants {
		if t.Alias == alias {
			return t, true
		}
	}
	return TenantConfig{}, false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
