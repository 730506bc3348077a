// Package config loads the Peregrine configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline/peregrine/internal/domain"
)

// Load reads a YAML or JSON config file on top of the defaults. An empty
// path returns the defaults with environment overrides applied.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		trimmed := strings.TrimSpace(string(content))
		if trimmed == "" {
			return nil, errors.New("config file is empty")
		}
		if looksLikeJSON(trimmed) {
			err = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			err = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays deployment-specific settings from the environment so
// secrets stay out of config files.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("PEREGRINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PEREGRINE_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("PEREGRINE_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("PEREGRINE_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("PEREGRINE_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("PEREGRINE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("PEREGRINE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("PEREGRINE_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("PEREGRINE_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
}

// Validate rejects configurations that would misbehave at runtime.
func Validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}

	s := cfg.Scoring
	if s.HighValueThreshold <= 0 {
		return errors.New("scoring: high_value_threshold must be positive")
	}
	if s.MediumThreshold >= s.AutoFlagThreshold || s.AutoFlagThreshold >= s.CriticalThreshold {
		return errors.New("scoring: thresholds must be ordered medium < auto_flag < critical")
	}

	d := cfg.DeviceTrust
	if d.InitialScore < 0 || d.InitialScore > 100 {
		return errors.New("device_trust: initial_score must be in [0,100]")
	}
	if d.RiskyMax >= d.TrustedMin {
		return errors.New("device_trust: risky_max must be below trusted_min")
	}

	return nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}
