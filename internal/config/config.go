// Package config loads service configuration from an optional YAML file with
// environment variable overrides. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr                string        `yaml:"addr"`
	RecordStoreDSN      string        `yaml:"record_store_dsn"`
	ResendAPIKey        string        `yaml:"resend_api_key"`
	ResendBaseURL       string        `yaml:"resend_base_url"`
	WebhookSecret       string        `yaml:"webhook_secret"`
	OwnerID             string        `yaml:"owner_id"`
	Provider            string        `yaml:"provider"`
	OwnDomains          []string      `yaml:"own_domains"`
	ExtraWebmailDomains []string      `yaml:"extra_webmail_domains"`
	ThrottleInterval    time.Duration `yaml:"-"`
}

// Load reads APPLIFLOW_CONFIG_FILE (when set) and then applies environment
// overrides. Defaults keep a bare environment runnable against the in-memory
// store.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           ":8080",
		RecordStoreDSN: "memory://",
		Provider:       "resend",
	}

	if path := strings.TrimSpace(os.Getenv("APPLIFLOW_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		// Durations travel as strings in YAML ("600ms", "2s").
		var extra struct {
			ThrottleInterval string `yaml:"throttle_interval"`
		}
		if err := yaml.Unmarshal(raw, &extra); err == nil && extra.ThrottleInterval != "" {
			value, err := time.ParseDuration(extra.ThrottleInterval)
			if err != nil {
				return nil, fmt.Errorf("parse throttle_interval: %w", err)
			}
			cfg.ThrottleInterval = value
		}
	}

	applyStringEnv("APPLIFLOW_ADDR", &cfg.Addr)
	applyStringEnv("APPLIFLOW_RECORD_STORE_DSN", &cfg.RecordStoreDSN)
	applyStringEnv("RESEND_API_KEY", &cfg.ResendAPIKey)
	applyStringEnv("RESEND_BASE_URL", &cfg.ResendBaseURL)
	applyStringEnv("RESEND_WEBHOOK_SECRET", &cfg.WebhookSecret)
	applyStringEnv("APPLIFLOW_OWNER_ID", &cfg.OwnerID)
	applyStringEnv("APPLIFLOW_PROVIDER", &cfg.Provider)
	applyListEnv("APPLIFLOW_OWN_DOMAINS", &cfg.OwnDomains)
	applyListEnv("APPLIFLOW_EXTRA_WEBMAIL_DOMAINS", &cfg.ExtraWebmailDomains)
	applyDurationEnv("APPLIFLOW_THROTTLE_INTERVAL", &cfg.ThrottleInterval)

	if strings.TrimSpace(cfg.OwnerID) == "" {
		return nil, fmt.Errorf("owner id is required (APPLIFLOW_OWNER_ID)")
	}
	return cfg, nil
}

func applyStringEnv(name string, target *string) {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		*target = raw
	}
}

func applyListEnv(name string, target *[]string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			values = append(values, item)
		}
	}
	if len(values) > 0 {
		*target = values
	}
}

func applyDurationEnv(name string, target *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return
	}
	*target = value
}
